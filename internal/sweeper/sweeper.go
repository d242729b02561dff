// Package sweeper deletes attachment files that have outlived the
// retention window.
package sweeper

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// DefaultRetention is how long attachment files are kept.
const DefaultRetention = 14 * 24 * time.Hour

// Result summarizes one sweep.
type Result struct {
	Scanned int
	Deleted int
	Failed  int
}

// Sweeper removes files older than the retention window from a directory.
type Sweeper struct {
	dir       string
	retention time.Duration
	now       func() time.Time
}

// New creates a Sweeper for dir. A non-positive retention selects
// DefaultRetention.
func New(dir string, retention time.Duration) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Sweeper{
		dir:       dir,
		retention: retention,
		now:       time.Now,
	}
}

// Sweep scans the directory once. Each file is handled independently:
// a failed stat or delete is logged and the sweep moves on.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	var res Result

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		slog.Error("failed to read upload directory",
			"dir", s.dir,
			"error", err,
		)
		return res
	}

	now := s.now()
	for _, entry := range entries {
		if ctx.Err() != nil {
			slog.Warn("sweep interrupted", "error", ctx.Err())
			break
		}
		if entry.IsDir() {
			continue
		}
		res.Scanned++

		path := filepath.Join(s.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			res.Failed++
			slog.Error("failed to stat file",
				"path", path,
				"error", err,
			)
			continue
		}

		if now.Sub(info.ModTime()) <= s.retention {
			continue
		}

		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			res.Failed++
			slog.Error("failed to delete file",
				"path", path,
				"error", err,
			)
			continue
		}
		res.Deleted++
		slog.Info("deleted old file", "path", path)
	}

	return res
}
