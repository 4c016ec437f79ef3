package db

const (
	InsertPendingJob = `
		INSERT INTO pending_jobs (id, title, content_path, content_kind, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	GetPendingJobByID = `
		SELECT id, title, content_path, content_kind, created_at
		FROM pending_jobs WHERE id = ?
	`

	ListPendingJobs = `
		SELECT id, title, content_path, content_kind, created_at
		FROM pending_jobs ORDER BY created_at ASC, id ASC
	`

	DeletePendingJob = `DELETE FROM pending_jobs WHERE id = ?`
)

const (
	InsertJob = `
		INSERT INTO jobs (id, kind, title, status, pages_total, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	GetJobByID = `
		SELECT id, kind, title, status, error_message, pages_total, pages_printed, created_at, started_at, completed_at
		FROM jobs WHERE id = ?
	`

	ListJobs = `
		SELECT id, kind, title, status, error_message, pages_total, pages_printed, created_at, started_at, completed_at
		FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?
	`

	UpdateJobStatus = `
		UPDATE jobs SET status = ?, error_message = ?, pages_total = ?, pages_printed = ?, started_at = COALESCE(started_at, ?), completed_at = ?
		WHERE id = ?
	`

	DeleteJob = `DELETE FROM jobs WHERE id = ?`

	PruneJobs = `
		DELETE FROM jobs WHERE id IN (
			SELECT id FROM jobs
			WHERE status IN ('completed', 'failed', 'canceled')
			ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)
	`
)

const (
	GetSetting = `SELECT key, value, encrypted, updated_at FROM settings WHERE key = ?`

	UpsertSetting = `
		INSERT INTO settings (key, value, encrypted, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, encrypted = excluded.encrypted, updated_at = CURRENT_TIMESTAMP
	`

	DeleteSetting = `DELETE FROM settings WHERE key = ?`
)

const (
	InsertWebhook = `
		INSERT INTO webhooks (id, name, url, secret, events_json, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	GetWebhookByID = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE id = ?
	`

	ListWebhooks = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks ORDER BY created_at ASC
	`

	ListWebhooksForEvent = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE enabled = 1 AND events_json LIKE ?
	`

	UpdateWebhook = `
		UPDATE webhooks SET name = ?, url = ?, secret = ?, events_json = ?, enabled = ?
		WHERE id = ?
	`

	DeleteWebhook = `DELETE FROM webhooks WHERE id = ?`
)
