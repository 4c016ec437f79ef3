package core

import "time"

type JobKind string

const (
	JobKindText     JobKind = "text"
	JobKindDocument JobKind = "document"
	JobKindRaw      JobKind = "raw"
	JobKindSelfTest JobKind = "selftest"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusBlocked   JobStatus = "blocked"
	JobStatusPrinting  JobStatus = "printing"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

func (s JobStatus) terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// Job is a print request moving through the orchestrator's state machine:
// queued → printing → completed/failed, with queued → blocked when no
// endpoint is configured at submission time. Fields are mutated only by the
// orchestrator under its lock; callers receive copies.
type Job struct {
	ID           string     `json:"id"`
	Kind         JobKind    `json:"kind"`
	Title        string     `json:"title"`
	Status       JobStatus  `json:"status"`
	BlockReason  string     `json:"block_reason,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	PagesTotal   int        `json:"pages_total"`
	PagesPrinted int        `json:"pages_printed"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	// Payload, exactly one of these is meaningful per kind. Text and
	// self-test jobs carry text, document and raw jobs carry bytes.
	text string
	raw  []byte

	// pendingID links a replayed job back to its durable record, removed
	// only after successful delivery.
	pendingID string

	canceled        chan struct{}
	cancelRequested bool
	notified        bool
}

func (j *Job) clone() *Job {
	copied := *j
	copied.canceled = nil
	return &copied
}

// JobEvent names an outward-facing job notification. Each job produces
// exactly one terminal event (completed, failed or canceled).
type JobEvent string

const (
	EventJobQueued    JobEvent = "job_queued"
	EventJobBlocked   JobEvent = "job_blocked"
	EventJobStarted   JobEvent = "job_started"
	EventJobCompleted JobEvent = "job_completed"
	EventJobFailed    JobEvent = "job_failed"
	EventJobCanceled  JobEvent = "job_canceled"
)

// Notifier receives orchestrator callbacks: job transitions and printer
// connectivity. Implemented by the API event hub; a no-op implementation is
// used when nothing listens.
type Notifier interface {
	JobEvent(event JobEvent, job *Job)
	PrinterEvent(connected bool)
}

type noopNotifier struct{}

func (noopNotifier) JobEvent(JobEvent, *Job) {}
func (noopNotifier) PrinterEvent(bool)       {}

type multiNotifier []Notifier

func (m multiNotifier) JobEvent(event JobEvent, job *Job) {
	for _, n := range m {
		n.JobEvent(event, job)
	}
}

func (m multiNotifier) PrinterEvent(connected bool) {
	for _, n := range m {
		n.PrinterEvent(connected)
	}
}

// CombineNotifiers fans events out to several listeners, typically the
// websocket hub and the webhook sender.
func CombineNotifiers(notifiers ...Notifier) Notifier {
	return multiNotifier(notifiers)
}
