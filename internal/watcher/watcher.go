// Package watcher polls the procedures directory and triggers re-indexing
// when .prc files change. Polling keeps the binary dependency-free on
// network filesystems where inotify events are unreliable.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	baseInterval = 1 * time.Second
	maxInterval  = 60 * time.Second
)

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// IndexFunc is the callback signature for triggering a re-index.
type IndexFunc func(ctx context.Context) error

// Watcher polls a procedures directory for .prc changes and triggers
// re-indexing. The index pass itself skips files whose content hash is
// unchanged, so a spurious trigger is cheap.
type Watcher struct {
	dir      string
	indexFn  IndexFunc
	snapshot map[string]fileSnapshot
	interval time.Duration
	nextPoll time.Time
}

// New creates a Watcher over dir. indexFn is called when file changes are
// detected.
func New(dir string, indexFn IndexFunc) *Watcher {
	return &Watcher{
		dir:     dir,
		indexFn: indexFn,
	}
}

// Run blocks until ctx is cancelled. Ticks at baseInterval, polling only
// when the adaptive interval has elapsed.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(baseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Now().Before(w.nextPoll) {
				continue
			}
			w.poll(ctx)
		}
	}
}

// poll captures a snapshot of the directory and compares with the previous
// one. First poll: captures baseline without triggering indexing.
// Subsequent polls: triggers indexFn if any file changed.
func (w *Watcher) poll(ctx context.Context) {
	if _, err := os.Stat(w.dir); err != nil {
		slog.Warn("watcher.dir_gone", "path", w.dir)
		w.nextPoll = time.Now().Add(maxInterval)
		return
	}

	snap, err := captureSnapshot(w.dir)
	if err != nil {
		slog.Warn("watcher.snapshot", "dir", w.dir, "err", err)
		w.nextPoll = time.Now().Add(w.interval)
		return
	}

	interval := pollInterval(len(snap))

	if w.snapshot == nil {
		// First poll captures the baseline, no index trigger.
		slog.Debug("watcher.baseline", "dir", w.dir, "files", len(snap))
		w.snapshot = snap
		w.interval = interval
		w.nextPoll = time.Now().Add(interval)
		return
	}

	if snapshotsEqual(w.snapshot, snap) {
		w.interval = interval
		w.nextPoll = time.Now().Add(interval)
		return
	}

	slog.Info("watcher.changed", "dir", w.dir, "files", len(snap))
	if err := w.indexFn(ctx); err != nil {
		slog.Warn("watcher.index", "dir", w.dir, "err", err)
		// Keep the old snapshot so we retry next cycle.
		w.nextPoll = time.Now().Add(interval)
		return
	}

	w.snapshot = snap
	w.interval = pollInterval(len(snap))
	w.nextPoll = time.Now().Add(w.interval)
}

// captureSnapshot walks the directory tree and records mtime+size for every
// .prc file.
func captureSnapshot(dir string) (map[string]fileSnapshot, error) {
	snap := make(map[string]fileSnapshot)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".prc") {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		snap[rel] = fileSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// snapshotsEqual returns true if two snapshots have identical files with same mtime+size.
func snapshotsEqual(a, b map[string]fileSnapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for path, aSnap := range a {
		bSnap, ok := b[path]
		if !ok {
			return false
		}
		if !aSnap.modTime.Equal(bSnap.modTime) || aSnap.size != bSnap.size {
			return false
		}
	}
	return true
}

// pollInterval computes the adaptive interval from file count.
// 1s base + 1s per 500 files, capped at 60s.
func pollInterval(fileCount int) time.Duration {
	ms := 1000 + (fileCount/500)*1000
	if ms > 60000 {
		ms = 60000
	}
	return time.Duration(ms) * time.Millisecond
}
