package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

var (
	Pending  = &PendingOperations{}
	Jobs     = &JobOperations{}
	Settings = &SettingsOperations{}
	Webhooks = &WebhookOperations{}
)

type PendingOperations struct{}

func (o *PendingOperations) Create(ctx context.Context, p *PendingJob) error {
	_, err := GetDB().ExecContext(ctx, InsertPendingJob,
		p.ID, p.Title, p.ContentPath, p.ContentKind, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pending job: %w", err)
	}
	return nil
}

func (o *PendingOperations) GetByID(ctx context.Context, id string) (*PendingJob, error) {
	p := &PendingJob{}
	err := GetDB().QueryRowContext(ctx, GetPendingJobByID, id).Scan(
		&p.ID, &p.Title, &p.ContentPath, &p.ContentKind, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get pending job: %w", err)
	}
	return p, nil
}

// List returns all pending jobs in creation order, which is also the order
// they are replayed in once a printer is configured.
func (o *PendingOperations) List(ctx context.Context) ([]*PendingJob, error) {
	rows, err := GetDB().QueryContext(ctx, ListPendingJobs)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	defer rows.Close()

	var pending []*PendingJob
	for rows.Next() {
		p := &PendingJob{}
		if err := rows.Scan(&p.ID, &p.Title, &p.ContentPath, &p.ContentKind, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending job: %w", err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

func (o *PendingOperations) Delete(ctx context.Context, id string) error {
	_, err := GetDB().ExecContext(ctx, DeletePendingJob, id)
	if err != nil {
		return fmt.Errorf("failed to delete pending job: %w", err)
	}
	return nil
}

type JobOperations struct{}

func (o *JobOperations) Create(ctx context.Context, j *JobRecord) error {
	_, err := GetDB().ExecContext(ctx, InsertJob,
		j.ID, j.Kind, j.Title, j.Status, j.PagesTotal, j.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job record: %w", err)
	}
	return nil
}

func (o *JobOperations) GetByID(ctx context.Context, id string) (*JobRecord, error) {
	j := &JobRecord{}
	var startedAt, completedAt sql.NullTime
	err := GetDB().QueryRowContext(ctx, GetJobByID, id).Scan(
		&j.ID, &j.Kind, &j.Title, &j.Status, &j.ErrorMessage,
		&j.PagesTotal, &j.PagesPrinted, &j.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job record: %w", err)
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	return j, nil
}

func (o *JobOperations) List(ctx context.Context, limit, offset int) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := GetDB().QueryContext(ctx, ListJobs, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list job records: %w", err)
	}
	defer rows.Close()

	var jobs []*JobRecord
	for rows.Next() {
		j := &JobRecord{}
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(
			&j.ID, &j.Kind, &j.Title, &j.Status, &j.ErrorMessage,
			&j.PagesTotal, &j.PagesPrinted, &j.CreatedAt, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job record: %w", err)
		}
		if startedAt.Valid {
			j.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			j.CompletedAt = &completedAt.Time
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (o *JobOperations) UpdateStatus(ctx context.Context, id, status, errorMsg string, pagesTotal, pagesPrinted int, startedAt, completedAt *time.Time) error {
	var started, completed interface{}
	if startedAt != nil {
		started = *startedAt
	}
	if completedAt != nil {
		completed = *completedAt
	}
	_, err := GetDB().ExecContext(ctx, UpdateJobStatus, status, errorMsg, pagesTotal, pagesPrinted, started, completed, id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

func (o *JobOperations) Delete(ctx context.Context, id string) error {
	res, err := GetDB().ExecContext(ctx, DeleteJob, id)
	if err != nil {
		return fmt.Errorf("failed to delete job record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Prune keeps only the most recent maxHistory finished jobs.
func (o *JobOperations) Prune(ctx context.Context, maxHistory int) error {
	if maxHistory <= 0 {
		return nil
	}
	_, err := GetDB().ExecContext(ctx, PruneJobs, maxHistory)
	if err != nil {
		return fmt.Errorf("failed to prune job records: %w", err)
	}
	return nil
}

type SettingsOperations struct{}

func (o *SettingsOperations) GetSetting(ctx context.Context, key string) (*Setting, error) {
	s := &Setting{}
	err := GetDB().QueryRowContext(ctx, GetSetting, key).Scan(&s.Key, &s.Value, &s.Encrypted, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return s, nil
}

func (o *SettingsOperations) SetSetting(ctx context.Context, key, value string, encrypted bool) error {
	_, err := GetDB().ExecContext(ctx, UpsertSetting, key, value, encrypted)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func (o *SettingsOperations) DeleteSetting(ctx context.Context, key string) error {
	_, err := GetDB().ExecContext(ctx, DeleteSetting, key)
	if err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}

type WebhookOperations struct{}

func (o *WebhookOperations) Create(ctx context.Context, w *Webhook) error {
	_, err := GetDB().ExecContext(ctx, InsertWebhook,
		w.ID, w.Name, w.URL, w.Secret, w.EventsJSON, w.Enabled, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}

func (o *WebhookOperations) GetByID(ctx context.Context, id string) (*Webhook, error) {
	w := &Webhook{}
	err := GetDB().QueryRowContext(ctx, GetWebhookByID, id).Scan(
		&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &w.Enabled, &w.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return w, nil
}

func (o *WebhookOperations) List(ctx context.Context) ([]*Webhook, error) {
	return o.scanList(ctx, ListWebhooks)
}

// ListForEvent returns enabled webhooks subscribed to the given event name.
func (o *WebhookOperations) ListForEvent(ctx context.Context, event string) ([]*Webhook, error) {
	return o.scanList(ctx, ListWebhooksForEvent, fmt.Sprintf("%%%q%%", event))
}

func (o *WebhookOperations) scanList(ctx context.Context, query string, args ...interface{}) ([]*Webhook, error) {
	rows, err := GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []*Webhook
	for rows.Next() {
		w := &Webhook{}
		if err := rows.Scan(&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &w.Enabled, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func (o *WebhookOperations) Update(ctx context.Context, w *Webhook) error {
	res, err := GetDB().ExecContext(ctx, UpdateWebhook,
		w.Name, w.URL, w.Secret, w.EventsJSON, w.Enabled, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (o *WebhookOperations) Delete(ctx context.Context, id string) error {
	res, err := GetDB().ExecContext(ctx, DeleteWebhook, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
