package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	if db != nil {
		_ = Close()
	}
	path := filepath.Join(t.TempDir(), "test.db")
	if err := Init(Config{Path: path}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() {
		_ = Close()
	})
}

func TestPendingJobRoundTrip(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	want := &PendingJob{
		ID:          "pj-abc123",
		Title:       "Receipt 42",
		ContentPath: "/var/spool/pj-abc123.bin",
		ContentKind: "raw",
		CreatedAt:   created,
	}

	if err := Pending.Create(ctx, want); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := Pending.GetByID(ctx, "pj-abc123")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Title != want.Title || got.ContentPath != want.ContentPath || got.ContentKind != want.ContentKind {
		t.Errorf("round trip mismatch: got=%+v want=%+v", got, want)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at mismatch: got=%v want=%v", got.CreatedAt, created)
	}

	if err := Pending.Delete(ctx, "pj-abc123"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := Pending.GetByID(ctx, "pj-abc123"); err != sql.ErrNoRows {
		t.Fatalf("after delete: got err=%v want=%v", err, sql.ErrNoRows)
	}
}

func TestPendingJobsListedInCreationOrder(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Insert out of order on purpose.
	for _, p := range []*PendingJob{
		{ID: "c", Title: "third", ContentPath: "/s/c", ContentKind: "text", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "a", Title: "first", ContentPath: "/s/a", ContentKind: "text", CreatedAt: base},
		{ID: "b", Title: "second", ContentPath: "/s/b", ContentKind: "text", CreatedAt: base.Add(time.Minute)},
	} {
		if err := Pending.Create(ctx, p); err != nil {
			t.Fatalf("Create(%s) failed: %v", p.ID, err)
		}
	}

	list, err := Pending.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("list length: got=%d want=3", len(list))
	}
	for i, wantID := range []string{"a", "b", "c"} {
		if list[i].ID != wantID {
			t.Errorf("position %d: got=%s want=%s", i, list[i].ID, wantID)
		}
	}
}

func TestJobRecordLifecycle(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	job := &JobRecord{
		ID:         "job-1",
		Kind:       "document",
		Title:      "menu.png",
		Status:     "queued",
		PagesTotal: 2,
		CreatedAt:  time.Now().UTC(),
	}
	if err := Jobs.Create(ctx, job); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	started := time.Now().UTC()
	if err := Jobs.UpdateStatus(ctx, "job-1", "printing", "", 2, 0, &started, nil); err != nil {
		t.Fatalf("UpdateStatus to printing failed: %v", err)
	}

	completed := started.Add(5 * time.Second)
	if err := Jobs.UpdateStatus(ctx, "job-1", "completed", "", 2, 2, nil, &completed); err != nil {
		t.Fatalf("UpdateStatus to completed failed: %v", err)
	}

	got, err := Jobs.GetByID(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("status: got=%s want=completed", got.Status)
	}
	if got.PagesPrinted != 2 {
		t.Errorf("pages printed: got=%d want=2", got.PagesPrinted)
	}
	if got.StartedAt == nil {
		t.Error("started_at not preserved across status updates")
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	setupTestDB(t)
	// Re-running against the already-migrated database must be a no-op.
	if err := runMigrations(GetDB()); err != nil {
		t.Fatalf("second migration run failed: %v", err)
	}
}

func TestSettingsUpsert(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	if err := Settings.SetSetting(ctx, "printer_address", "AA:BB:CC:DD:EE:FF", false); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if err := Settings.SetSetting(ctx, "printer_address", "11:22:33:44:55:66", false); err != nil {
		t.Fatalf("SetSetting overwrite failed: %v", err)
	}

	got, err := Settings.GetSetting(ctx, "printer_address")
	if err != nil {
		t.Fatalf("GetSetting failed: %v", err)
	}
	if got.Value != "11:22:33:44:55:66" {
		t.Errorf("value: got=%s want=11:22:33:44:55:66", got.Value)
	}
}
