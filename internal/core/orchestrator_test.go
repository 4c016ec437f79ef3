package core

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/inkfeed/inkfeed/internal/config"
	"github.com/inkfeed/inkfeed/internal/db"
	"github.com/inkfeed/inkfeed/internal/transport"
)

type fakeLink struct {
	mu           sync.Mutex
	connected    bool
	writes       [][]byte
	failWrite    error
	failConnect  error
	gate         chan struct{} // when set, writes block until it is closed
	onDisconnect func(error)
}

func (f *fakeLink) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failConnect != nil {
		return f.failConnect
	}
	f.connected = true
	return nil
}

func (f *fakeLink) Write(ctx context.Context, buf []byte) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	if f.failWrite != nil {
		return f.failWrite
	}
	copied := make([]byte, len(buf))
	copy(copied, buf)
	f.writes = append(f.writes, copied)
	return nil
}

func (f *fakeLink) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeLink) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeLink) PayloadSize() int { return 64 }

func (f *fakeLink) SetDisconnectHandler(h func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = h
}

func (f *fakeLink) allWrites() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []byte
	for _, w := range f.writes {
		out = append(out, w...)
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []JobEvent
	titles []string
}

func (r *recordingNotifier) JobEvent(event JobEvent, job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.titles = append(r.titles, job.Title)
}

func (r *recordingNotifier) PrinterEvent(bool) {}

func (r *recordingNotifier) eventsFor(want JobEvent) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for i, ev := range r.events {
		if ev == want {
			out = append(out, r.titles[i])
		}
	}
	return out
}

func setupTestDB(t *testing.T) {
	t.Helper()
	if err := db.Init(db.Config{Path: filepath.Join(t.TempDir(), "test.db")}); err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
}

func testConfig(t *testing.T, address string) *config.Config {
	t.Helper()
	return &config.Config{
		Database: config.DatabaseConfig{SpoolDir: t.TempDir()},
		Printer: config.PrinterConfig{
			Transport:      "ble",
			Address:        address,
			PaperWidth:     "narrow",
			AutoCut:        true,
			FeedLines:      2,
			Encoding:       "utf8",
			Density:        3,
			ConnectTimeout: time.Second,
			WriteTimeout:   time.Second,
		},
		Queue: config.QueueConfig{MaxHistory: 50},
	}
}

func waitForStatus(t *testing.T, o *Orchestrator, id string, want JobStatus) *Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := o.GetJob(id)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if job.Status == want {
			return job
		}
		if job.Status.terminal() && job.Status != want {
			t.Fatalf("job %s reached %s, want %s (error: %s)", id, job.Status, want, job.ErrorMessage)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, want)
	return nil
}

func TestSubmitTextCompletes(t *testing.T) {
	setupTestDB(t)
	link := &fakeLink{}
	o := NewOrchestrator(testConfig(t, "AA:BB:CC:DD:EE:FF"), zap.NewNop(), nil,
		func(config.PrinterConfig, *zap.Logger) transport.Link { return link })
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer o.Stop()

	job, err := o.SubmitText(context.Background(), "Receipt", "TOTAL $4.20")
	if err != nil {
		t.Fatalf("SubmitText failed: %v", err)
	}

	done := waitForStatus(t, o, job.ID, JobStatusCompleted)
	if done.PagesPrinted != 1 || done.PagesTotal != 1 {
		t.Errorf("pages = %d/%d, want 1/1", done.PagesPrinted, done.PagesTotal)
	}

	stream := link.allWrites()
	if !bytes.HasPrefix(stream, []byte{0x1B, 0x40}) {
		t.Errorf("stream does not start with initialize sequence: % X", stream[:4])
	}
	if !bytes.Contains(stream, []byte("TOTAL $4.20")) {
		t.Error("stream does not contain job text")
	}
	// Auto-cut closes the stream with the configured feed and a full cut.
	if !bytes.HasSuffix(stream, []byte{0x1B, 0x64, 0x02, 0x1D, 0x56, 0x00}) {
		tail := stream
		if len(tail) > 6 {
			tail = tail[len(tail)-6:]
		}
		t.Errorf("stream tail = % X, want feed then full cut", tail)
	}
}

func TestBlockedJobReplaysOnConfigure(t *testing.T) {
	setupTestDB(t)
	link := &fakeLink{}
	o := NewOrchestrator(testConfig(t, ""), zap.NewNop(), nil,
		func(config.PrinterConfig, *zap.Logger) transport.Link { return link })
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer o.Stop()

	job, err := o.SubmitText(context.Background(), "Held", "waiting")
	if err != nil {
		t.Fatalf("SubmitText failed: %v", err)
	}
	if job.Status != JobStatusBlocked {
		t.Fatalf("status = %s, want blocked", job.Status)
	}

	pending, err := db.Pending.List(context.Background())
	if err != nil {
		t.Fatalf("Pending.List failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending records = %d, want 1", len(pending))
	}
	spoolPath := pending[0].ContentPath

	cfg := o.PrinterSettings()
	cfg.Address = "AA:BB:CC:DD:EE:FF"
	if err := o.Configure(context.Background(), cfg); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	waitForStatus(t, o, job.ID, JobStatusCompleted)

	pending, err = db.Pending.List(context.Background())
	if err != nil {
		t.Fatalf("Pending.List failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending records after delivery = %d, want 0", len(pending))
	}
	if _, err := os.Stat(spoolPath); !os.IsNotExist(err) {
		t.Error("spooled content not removed after delivery")
	}
}

func TestReplayPreservesSubmissionOrder(t *testing.T) {
	setupTestDB(t)
	link := &fakeLink{}
	notifier := &recordingNotifier{}
	o := NewOrchestrator(testConfig(t, ""), zap.NewNop(), notifier,
		func(config.PrinterConfig, *zap.Logger) transport.Link { return link })
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer o.Stop()

	var ids []string
	for _, title := range []string{"A", "B", "C"} {
		job, err := o.SubmitText(context.Background(), title, "body "+title)
		if err != nil {
			t.Fatalf("SubmitText(%s) failed: %v", title, err)
		}
		ids = append(ids, job.ID)
		// Distinct creation timestamps keep the replay ordering observable.
		time.Sleep(2 * time.Millisecond)
	}

	cfg := o.PrinterSettings()
	cfg.Address = "AA:BB:CC:DD:EE:FF"
	if err := o.Configure(context.Background(), cfg); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	for _, id := range ids {
		waitForStatus(t, o, id, JobStatusCompleted)
	}

	started := notifier.eventsFor(EventJobStarted)
	if len(started) != 3 || started[0] != "A" || started[1] != "B" || started[2] != "C" {
		t.Errorf("start order = %v, want [A B C]", started)
	}
}

func TestPersistFailureFailsJob(t *testing.T) {
	setupTestDB(t)
	cfg := testConfig(t, "")
	// A regular file where the spool directory should be makes persistence
	// impossible.
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Database.SpoolDir = blocker

	o := NewOrchestrator(cfg, zap.NewNop(), nil, nil)
	job, err := o.SubmitText(context.Background(), "Doomed", "body")
	if !errors.Is(err, ErrPersistFailed) {
		t.Fatalf("err = %v, want ErrPersistFailed", err)
	}
	if job.Status != JobStatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	setupTestDB(t)
	notifier := &recordingNotifier{}
	// No worker running, so the job stays queued.
	o := NewOrchestrator(testConfig(t, "AA:BB:CC:DD:EE:FF"), zap.NewNop(), notifier, nil)

	job, err := o.SubmitText(context.Background(), "Stale", "body")
	if err != nil {
		t.Fatalf("SubmitText failed: %v", err)
	}
	if err := o.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	got, _ := o.GetJob(job.ID)
	if got.Status != JobStatusCanceled {
		t.Errorf("status = %s, want canceled", got.Status)
	}
	if err := o.Cancel(context.Background(), job.ID); err == nil {
		t.Error("expected error canceling a finished job")
	}
	if n := len(notifier.eventsFor(EventJobCanceled)); n != 1 {
		t.Errorf("canceled events = %d, want exactly 1", n)
	}
}

func TestCancelPrintingJobTwice(t *testing.T) {
	setupTestDB(t)
	gate := make(chan struct{})
	link := &fakeLink{gate: gate}
	notifier := &recordingNotifier{}
	o := NewOrchestrator(testConfig(t, "AA:BB:CC:DD:EE:FF"), zap.NewNop(), notifier,
		func(config.PrinterConfig, *zap.Logger) transport.Link { return link })
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer o.Stop()

	job, err := o.SubmitSelfTest(context.Background(), "http://localhost:8340")
	if err != nil {
		t.Fatalf("SubmitSelfTest failed: %v", err)
	}
	waitForStatus(t, o, job.ID, JobStatusPrinting)

	// Repeated cancel clicks against an in-flight job are valid input.
	if err := o.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("first Cancel failed: %v", err)
	}
	if err := o.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("second Cancel failed: %v", err)
	}
	close(gate)

	waitForStatus(t, o, job.ID, JobStatusCanceled)
	if n := len(notifier.eventsFor(EventJobCanceled)); n != 1 {
		t.Errorf("canceled events = %d, want exactly 1", n)
	}
}

func TestTerminalJobsPrunedFromMemory(t *testing.T) {
	setupTestDB(t)
	link := &fakeLink{}
	cfg := testConfig(t, "AA:BB:CC:DD:EE:FF")
	cfg.Queue.MaxHistory = 2
	o := NewOrchestrator(cfg, zap.NewNop(), nil,
		func(config.PrinterConfig, *zap.Logger) transport.Link { return link })
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer o.Stop()

	var ids []string
	for _, title := range []string{"A", "B", "C", "D"} {
		job, err := o.SubmitText(context.Background(), title, "body "+title)
		if err != nil {
			t.Fatalf("SubmitText(%s) failed: %v", title, err)
		}
		waitForStatus(t, o, job.ID, JobStatusCompleted)
		ids = append(ids, job.ID)
		time.Sleep(2 * time.Millisecond)
	}

	for _, id := range ids[:2] {
		if _, err := o.GetJob(id); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("GetJob(%s) err = %v, want ErrJobNotFound after pruning", id, err)
		}
	}
	if got := len(o.Jobs()); got != 2 {
		t.Errorf("jobs in memory = %d, want 2", got)
	}
}

func TestWriteFailureFailsJob(t *testing.T) {
	setupTestDB(t)
	link := &fakeLink{failWrite: errors.New("link dropped")}
	notifier := &recordingNotifier{}
	o := NewOrchestrator(testConfig(t, "AA:BB:CC:DD:EE:FF"), zap.NewNop(), notifier,
		func(config.PrinterConfig, *zap.Logger) transport.Link { return link })
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer o.Stop()

	job, err := o.SubmitText(context.Background(), "Broken", "body")
	if err != nil {
		t.Fatalf("SubmitText failed: %v", err)
	}

	done := waitForStatus(t, o, job.ID, JobStatusFailed)
	if done.ErrorMessage == "" {
		t.Error("failed job has no error message")
	}
	if n := len(notifier.eventsFor(EventJobFailed)); n != 1 {
		t.Errorf("failed events = %d, want exactly 1", n)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	setupTestDB(t)
	o := NewOrchestrator(testConfig(t, ""), zap.NewNop(), nil, nil)
	if err := o.Cancel(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestVirtualPrinterAlwaysPresent(t *testing.T) {
	setupTestDB(t)
	o := NewOrchestrator(testConfig(t, ""), zap.NewNop(), nil, nil)

	vp := o.VirtualPrinter()
	if vp.ID != virtualPrinterID {
		t.Errorf("id = %s, want %s", vp.ID, virtualPrinterID)
	}
	// No endpoint does not stop the printer, jobs must keep flowing into
	// the queue while it reports idle.
	if vp.State != "idle" {
		t.Errorf("state without endpoint = %s, want idle", vp.State)
	}
	if vp.Connected {
		t.Error("connected without endpoint, want false")
	}
	if vp.ColorMode != "monochrome" {
		t.Errorf("color mode = %s, want monochrome", vp.ColorMode)
	}
}

func TestSelfTestJobWritesRaster(t *testing.T) {
	setupTestDB(t)
	link := &fakeLink{}
	o := NewOrchestrator(testConfig(t, "AA:BB:CC:DD:EE:FF"), zap.NewNop(), nil,
		func(config.PrinterConfig, *zap.Logger) transport.Link { return link })
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer o.Stop()

	job, err := o.SubmitSelfTest(context.Background(), "http://localhost:8340")
	if err != nil {
		t.Fatalf("SubmitSelfTest failed: %v", err)
	}
	waitForStatus(t, o, job.ID, JobStatusCompleted)

	stream := link.allWrites()
	if !bytes.Contains(stream, []byte{0x1D, 0x76, 0x30, 0x00}) {
		t.Error("stream does not contain a raster block")
	}
}
