package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkfeed/inkfeed/internal/config"
	"github.com/inkfeed/inkfeed/internal/db"
	"github.com/inkfeed/inkfeed/internal/transport"
)

var (
	ErrJobNotFound    = fmt.Errorf("job not found")
	ErrJobNotRunning  = fmt.Errorf("job is not queued or printing")
	ErrNoEndpoint     = fmt.Errorf("no printer endpoint configured")
	ErrAlreadyRunning = fmt.Errorf("orchestrator already running")
)

// LinkFactory builds a transport link for the given printer settings. The
// orchestrator calls it whenever it needs a connection to the configured
// endpoint; tests substitute a fake.
type LinkFactory func(cfg config.PrinterConfig, logger *zap.Logger) transport.Link

// DefaultLinkFactory selects the physical layer from the transport setting.
func DefaultLinkFactory(cfg config.PrinterConfig, logger *zap.Logger) transport.Link {
	if cfg.Transport == "serial" {
		return transport.NewSerialLink(transport.SerialOptions{
			Device:     cfg.Address,
			BaudRate:   cfg.BaudRate,
			ChunkDelay: cfg.ChunkDelay,
		}, logger)
	}
	return transport.NewBLELink(transport.BLEOptions{
		Address:        cfg.Address,
		ConnectTimeout: cfg.ConnectTimeout,
		ChunkDelay:     cfg.ChunkDelay,
	}, logger)
}

// Orchestrator owns the print queue. A single worker drains jobs in strict
// submission order, so documents never interleave on the paper. Jobs
// submitted while no endpoint is configured are persisted and replayed once
// one becomes available.
type Orchestrator struct {
	cfg      config.PrinterConfig
	queueCfg config.QueueConfig
	spoolDir string
	logger   *zap.Logger
	notifier Notifier
	newLink  LinkFactory

	mu       sync.Mutex
	jobs     map[string]*Job
	active   *Job
	link     transport.Link
	linkAddr string
	running  bool

	jobCh  chan *Job
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewOrchestrator(cfg *config.Config, logger *zap.Logger, notifier Notifier, newLink LinkFactory) *Orchestrator {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if newLink == nil {
		newLink = DefaultLinkFactory
	}
	return &Orchestrator{
		cfg:      cfg.Printer,
		queueCfg: cfg.Queue,
		spoolDir: cfg.Database.SpoolDir,
		logger:   logger,
		notifier: notifier,
		newLink:  newLink,
		jobs:     make(map[string]*Job),
		jobCh:    make(chan *Job, 256),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the worker and, when an endpoint is already configured,
// replays any pending jobs left over from a previous run.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.running = true
	hasEndpoint := o.cfg.Address != ""
	o.mu.Unlock()

	if hasEndpoint {
		if err := o.replayPending(ctx); err != nil {
			return fmt.Errorf("failed to replay pending jobs: %w", err)
		}
	}

	o.wg.Add(1)
	go o.worker()
	return nil
}

func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	link := o.link
	o.link = nil
	o.mu.Unlock()

	close(o.stopCh)
	o.wg.Wait()
	if link != nil {
		link.Disconnect()
	}
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.stopCh:
			return
		case job := <-o.jobCh:
			o.processJob(job)
		}
	}
}

// SubmitText queues a plain text job.
func (o *Orchestrator) SubmitText(ctx context.Context, title, body string) (*Job, error) {
	job := o.newJob(JobKindText, title)
	job.text = body
	return o.submit(ctx, job)
}

// SubmitDocument queues an image document. Content must be a PNG or JPEG
// encoded file; it is decoded and rasterized at print time.
func (o *Orchestrator) SubmitDocument(ctx context.Context, title string, content []byte) (*Job, error) {
	job := o.newJob(JobKindDocument, title)
	job.raw = content
	return o.submit(ctx, job)
}

// SubmitRaw queues pre-encoded printer bytes, written to the link verbatim.
func (o *Orchestrator) SubmitRaw(ctx context.Context, title string, data []byte) (*Job, error) {
	job := o.newJob(JobKindRaw, title)
	job.raw = data
	return o.submit(ctx, job)
}

// SubmitSelfTest queues a diagnostic page carrying a QR code with the given
// content, typically the service's own URL.
func (o *Orchestrator) SubmitSelfTest(ctx context.Context, content string) (*Job, error) {
	job := o.newJob(JobKindSelfTest, "Self Test")
	job.text = content
	return o.submit(ctx, job)
}

func (o *Orchestrator) newJob(kind JobKind, title string) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Title:     title,
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
		canceled:  make(chan struct{}),
	}
}

func (o *Orchestrator) submit(ctx context.Context, job *Job) (*Job, error) {
	record := &db.JobRecord{
		ID:        job.ID,
		Kind:      string(job.Kind),
		Title:     job.Title,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
	}
	if err := db.Jobs.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create job record: %w", err)
	}

	o.mu.Lock()
	hasEndpoint := o.cfg.Address != ""
	o.jobs[job.ID] = job
	o.mu.Unlock()

	if !hasEndpoint {
		if err := o.persistPending(ctx, job); err != nil {
			o.finishJob(ctx, job, JobStatusFailed, err.Error())
			return job, err
		}
		o.transition(ctx, job, JobStatusBlocked, "printer endpoint not configured")
		return job, nil
	}

	o.enqueue(ctx, job)
	return job, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, job *Job) {
	o.notifier.JobEvent(EventJobQueued, job.clone())
	select {
	case o.jobCh <- job:
	default:
		o.finishJob(ctx, job, JobStatusFailed, "print queue is full")
	}
}

// replayPending promotes durable blocked jobs back into the live queue, in
// the order they were originally created.
func (o *Orchestrator) replayPending(ctx context.Context) error {
	records, err := db.Pending.List(ctx)
	if err != nil {
		return err
	}
	for _, record := range records {
		job, err := loadPending(record)
		if err != nil {
			o.logger.Warn("skipping unreadable pending job",
				zap.String("pending_id", record.ID), zap.Error(err))
			continue
		}

		o.mu.Lock()
		existing := o.findJobByPending(record.ID)
		o.mu.Unlock()
		if existing != nil {
			// Blocked earlier in this process, keep its identity and
			// history row instead of minting a new job.
			job = existing
			o.transition(ctx, job, JobStatusQueued, "")
		} else {
			job.ID = uuid.New().String()
			dbRecord := &db.JobRecord{
				ID:        job.ID,
				Kind:      string(job.Kind),
				Title:     job.Title,
				Status:    string(JobStatusQueued),
				CreatedAt: job.CreatedAt,
			}
			if err := db.Jobs.Create(ctx, dbRecord); err != nil {
				o.logger.Warn("failed to record replayed job", zap.Error(err))
			}
			o.mu.Lock()
			o.jobs[job.ID] = job
			o.mu.Unlock()
		}
		o.enqueue(ctx, job)
	}
	return nil
}

func (o *Orchestrator) findJobByPending(pendingID string) *Job {
	for _, job := range o.jobs {
		if job.pendingID == pendingID && job.Status == JobStatusBlocked {
			return job
		}
	}
	return nil
}

// Cancel stops a job. Queued and blocked jobs are canceled in place; a
// printing job is interrupted at the next page boundary.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	o.mu.Lock()
	job, ok := o.jobs[id]
	var status JobStatus
	if ok {
		status = job.Status
	}
	o.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}

	switch status {
	case JobStatusQueued:
		o.finishJob(ctx, job, JobStatusCanceled, "")
		return nil
	case JobStatusBlocked:
		o.releasePending(ctx, job)
		o.finishJob(ctx, job, JobStatusCanceled, "")
		return nil
	case JobStatusPrinting:
		// A second cancel while printing is a no-op, the channel closes once.
		o.mu.Lock()
		if !job.cancelRequested {
			job.cancelRequested = true
			close(job.canceled)
		}
		o.mu.Unlock()
		return nil
	default:
		return ErrJobNotRunning
	}
}

// GetJob returns a copy of a live job.
func (o *Orchestrator) GetJob(id string) (*Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.clone(), nil
}

// Jobs returns copies of all jobs known to this process, oldest first.
func (o *Orchestrator) Jobs() []*Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Job, 0, len(o.jobs))
	for _, job := range o.jobs {
		out = append(out, job.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// PrinterSettings returns the current endpoint configuration.
func (o *Orchestrator) PrinterSettings() config.PrinterConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Configure replaces the printer settings. Changing the endpoint address
// drops the current connection; setting an address where none existed
// replays every pending job in creation order.
func (o *Orchestrator) Configure(ctx context.Context, cfg config.PrinterConfig) error {
	o.mu.Lock()
	prevAddr := o.cfg.Address
	o.cfg = cfg
	var stale transport.Link
	if cfg.Address != o.linkAddr && o.link != nil {
		stale = o.link
		o.link = nil
		o.linkAddr = ""
	}
	o.mu.Unlock()

	if stale != nil {
		stale.Disconnect()
		o.notifier.PrinterEvent(false)
	}

	if prevAddr == "" && cfg.Address != "" {
		if err := o.replayPending(ctx); err != nil {
			return fmt.Errorf("failed to replay pending jobs: %w", err)
		}
	}
	return nil
}

// EndpointConnected reports whether a live link to the printer exists.
func (o *Orchestrator) EndpointConnected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.link != nil && o.link.Connected()
}

// transition moves a job to a non-terminal status and mirrors it to the
// history table.
func (o *Orchestrator) transition(ctx context.Context, job *Job, status JobStatus, reason string) {
	o.mu.Lock()
	job.Status = status
	job.BlockReason = ""
	switch status {
	case JobStatusBlocked:
		job.BlockReason = reason
	case JobStatusPrinting:
		now := time.Now()
		job.StartedAt = &now
		o.active = job
	}
	snapshot := job.clone()
	o.mu.Unlock()

	o.updateRecord(ctx, job)
	switch status {
	case JobStatusBlocked:
		o.notifier.JobEvent(EventJobBlocked, snapshot)
	case JobStatusPrinting:
		o.notifier.JobEvent(EventJobStarted, snapshot)
	case JobStatusQueued:
		// Replay path, EventJobQueued is sent by enqueue.
	}
}

// finishJob moves a job to a terminal status and emits its terminal event
// exactly once.
func (o *Orchestrator) finishJob(ctx context.Context, job *Job, status JobStatus, errMsg string) {
	o.mu.Lock()
	if job.notified {
		o.mu.Unlock()
		return
	}
	job.notified = true
	job.Status = status
	job.ErrorMessage = errMsg
	now := time.Now()
	job.CompletedAt = &now
	if o.active == job {
		o.active = nil
	}
	snapshot := job.clone()
	o.pruneMemoryLocked()
	o.mu.Unlock()

	o.updateRecord(ctx, job)
	if err := db.Jobs.Prune(ctx, o.queueCfg.MaxHistory); err != nil {
		o.logger.Warn("failed to prune job history", zap.Error(err))
	}

	switch status {
	case JobStatusCompleted:
		o.notifier.JobEvent(EventJobCompleted, snapshot)
	case JobStatusCanceled:
		o.notifier.JobEvent(EventJobCanceled, snapshot)
	default:
		o.notifier.JobEvent(EventJobFailed, snapshot)
	}
}

// pruneMemoryLocked drops the oldest finished jobs from the in-memory map
// once they exceed the history limit, mirroring db.Jobs.Prune. Live jobs are
// never touched. Callers must hold o.mu.
func (o *Orchestrator) pruneMemoryLocked() {
	var finished []*Job
	for _, job := range o.jobs {
		if job.Status.terminal() {
			finished = append(finished, job)
		}
	}
	overflow := len(finished) - o.queueCfg.MaxHistory
	if overflow <= 0 {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		if finished[i].CreatedAt.Equal(finished[j].CreatedAt) {
			return finished[i].ID < finished[j].ID
		}
		return finished[i].CreatedAt.Before(finished[j].CreatedAt)
	})
	for _, job := range finished[:overflow] {
		delete(o.jobs, job.ID)
	}
}

func (o *Orchestrator) updateRecord(ctx context.Context, job *Job) {
	o.mu.Lock()
	id := job.ID
	status := string(job.Status)
	errMsg := job.ErrorMessage
	total := job.PagesTotal
	printed := job.PagesPrinted
	started := job.StartedAt
	completed := job.CompletedAt
	o.mu.Unlock()

	if err := db.Jobs.UpdateStatus(ctx, id, status, errMsg, total, printed, started, completed); err != nil {
		o.logger.Warn("failed to update job record",
			zap.String("job_id", id), zap.Error(err))
	}
}
