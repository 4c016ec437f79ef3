package db

import "time"

// PendingJob is a print request that could not be delivered because no
// printer endpoint was configured. Its content has been copied to the spool
// directory so the record remains printable after a restart, even if the
// original source file was temporary.
type PendingJob struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	ContentPath string    `json:"content_path"`
	ContentKind string    `json:"content_kind"`
	CreatedAt   time.Time `json:"created_at"`
}

// JobRecord is the persisted view of a print job's lifecycle.
type JobRecord struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"`
	Title        string     `json:"title"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	PagesTotal   int        `json:"pages_total"`
	PagesPrinted int        `json:"pages_printed"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Encrypted bool      `json:"encrypted"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Webhook is an outbound HTTP subscription for job and printer events.
// EventsJSON holds a JSON array of event names the subscriber wants.
type Webhook struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Secret     string    `json:"-"`
	EventsJSON string    `json:"events_json"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}
