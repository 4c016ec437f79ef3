// Package archive moves old finished jobs out of the live database into
// monthly sqlite archive files, and sweeps spool files that no pending job
// references anymore.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/inkfeed/inkfeed/internal/db"
)

type Config struct {
	ArchivePath string
	ArchiveDays int
	SpoolDir    string
}

type Archiver struct {
	logger      *zap.Logger
	archivePath string
	archiveDays int
	spoolDir    string
	stopCh      chan struct{}
	mu          sync.Mutex
}

func NewArchiver(cfg Config, logger *zap.Logger) (*Archiver, error) {
	if cfg.ArchivePath == "" {
		cfg.ArchivePath = "./data/archives"
	}
	if cfg.ArchiveDays <= 0 {
		cfg.ArchiveDays = 30
	}
	if err := os.MkdirAll(cfg.ArchivePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		logger:      logger,
		archivePath: cfg.ArchivePath,
		archiveDays: cfg.ArchiveDays,
		spoolDir:    cfg.SpoolDir,
		stopCh:      make(chan struct{}),
	}, nil
}

func (a *Archiver) Start() {
	go a.runDaily()
}

func (a *Archiver) Stop() {
	close(a.stopCh)
}

func (a *Archiver) runDaily() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			if err := a.RunArchive(); err != nil {
				a.logger.Warn("job archival failed", zap.Error(err))
			}
			if err := a.SweepSpool(); err != nil {
				a.logger.Warn("spool sweep failed", zap.Error(err))
			}
		}
	}
}

// RunArchive moves finished jobs older than the cutoff into the current
// month's archive file and removes them from the live database.
func (a *Archiver) RunArchive() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -a.archiveDays)
	jobs, err := a.jobsBefore(cutoff)
	if err != nil {
		return fmt.Errorf("failed to select jobs for archival: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	path := filepath.Join(a.archivePath, fmt.Sprintf("jobs_%s.db", time.Now().Format("2006_01")))
	archiveDB, err := openArchiveDB(path)
	if err != nil {
		return err
	}
	defer archiveDB.Close()

	tx, err := archiveDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	for _, job := range jobs {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO jobs (id, kind, title, status, error_message, pages_total, pages_printed, created_at, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.Kind, job.Title, job.Status, job.ErrorMessage,
			job.PagesTotal, job.PagesPrinted, job.CreatedAt, job.StartedAt, job.CompletedAt); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to archive job %s: %w", job.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive: %w", err)
	}

	for _, job := range jobs {
		if err := db.Jobs.Delete(context.Background(), job.ID); err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to remove archived job %s: %w", job.ID, err)
		}
	}

	a.logger.Info("archived finished jobs",
		zap.Int("count", len(jobs)), zap.String("file", path))
	return nil
}

func (a *Archiver) jobsBefore(cutoff time.Time) ([]*db.JobRecord, error) {
	rows, err := db.GetDB().Query(`
		SELECT id, kind, title, status, error_message, pages_total, pages_printed, created_at, started_at, completed_at
		FROM jobs
		WHERE status IN ('completed', 'failed', 'canceled') AND completed_at < ?
		ORDER BY completed_at ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*db.JobRecord
	for rows.Next() {
		j := &db.JobRecord{}
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&j.ID, &j.Kind, &j.Title, &j.Status, &j.ErrorMessage,
			&j.PagesTotal, &j.PagesPrinted, &j.CreatedAt, &startedAt, &completedAt); err != nil {
			return nil, err
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

func openArchiveDB(path string) (*sql.DB, error) {
	archiveDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	if _, err := archiveDB.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			pages_total INTEGER NOT NULL DEFAULT 0,
			pages_printed INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME
		)`); err != nil {
		archiveDB.Close()
		return nil, fmt.Errorf("failed to create archive schema: %w", err)
	}
	return archiveDB, nil
}

// SweepSpool deletes spool files that no pending job references. Crashes
// between writing a spool file and recording the pending row can leave
// orphans behind.
func (a *Archiver) SweepSpool() error {
	if a.spoolDir == "" {
		return nil
	}

	pending, err := db.Pending.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list pending jobs: %w", err)
	}
	referenced := make(map[string]bool, len(pending))
	for _, p := range pending {
		referenced[filepath.Clean(p.ContentPath)] = true
	}

	entries, err := os.ReadDir(a.spoolDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read spool directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".spool" {
			continue
		}
		path := filepath.Clean(filepath.Join(a.spoolDir, entry.Name()))
		if referenced[path] {
			continue
		}
		if err := os.Remove(path); err != nil {
			a.logger.Warn("failed to remove orphaned spool file",
				zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		a.logger.Info("removed orphaned spool files", zap.Int("count", removed))
	}
	return nil
}
