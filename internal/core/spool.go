package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/inkfeed/inkfeed/internal/db"
)

// ErrPersistFailed is returned when a job cannot be made durable while no
// endpoint is configured. Such a job fails immediately rather than being
// held in memory only.
var ErrPersistFailed = fmt.Errorf("failed to persist pending job")

// persistPending writes the job's content into the spool directory and
// records a durable pending entry, so the job survives restarts until an
// endpoint becomes available.
func (o *Orchestrator) persistPending(ctx context.Context, job *Job) error {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	if err := os.MkdirAll(o.spoolDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	path := filepath.Join(o.spoolDir, id+".spool")
	var content []byte
	switch job.Kind {
	case JobKindText, JobKindSelfTest:
		content = []byte(job.text)
	case JobKindRaw, JobKindDocument:
		content = job.raw
	default:
		return fmt.Errorf("%w: unknown job kind %q", ErrPersistFailed, job.Kind)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	pending := &db.PendingJob{
		ID:          id,
		Title:       job.Title,
		ContentPath: path,
		ContentKind: string(job.Kind),
		CreatedAt:   time.Now(),
	}
	if err := db.Pending.Create(ctx, pending); err != nil {
		os.Remove(path)
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	job.pendingID = id
	return nil
}

// releasePending removes the durable record and spooled content after the
// job has been delivered.
func (o *Orchestrator) releasePending(ctx context.Context, job *Job) {
	if job.pendingID == "" {
		return
	}
	pending, err := db.Pending.GetByID(ctx, job.pendingID)
	if err == nil && pending != nil {
		os.Remove(pending.ContentPath)
	}
	if err := db.Pending.Delete(ctx, job.pendingID); err != nil {
		o.logger.Warn("failed to delete pending record",
			zap.String("pending_id", job.pendingID), zap.Error(err))
	}
	job.pendingID = ""
}

// loadPending reconstructs a job from a durable pending record for replay.
func loadPending(pending *db.PendingJob) (*Job, error) {
	content, err := os.ReadFile(pending.ContentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read spooled content: %w", err)
	}
	job := &Job{
		Kind:      JobKind(pending.ContentKind),
		Title:     pending.Title,
		Status:    JobStatusQueued,
		CreatedAt: pending.CreatedAt,
		pendingID: pending.ID,
		canceled:  make(chan struct{}),
	}
	switch job.Kind {
	case JobKindText, JobKindSelfTest:
		job.text = string(content)
	case JobKindRaw, JobKindDocument:
		job.raw = content
	default:
		return nil, fmt.Errorf("unknown spooled content kind %q", pending.ContentKind)
	}
	return job, nil
}
