package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
	"github.com/custodia-labs/bankfeed/internal/core/ports/driving"
	"github.com/custodia-labs/bankfeed/internal/logger"
)

// defaultSettle is how long a file must sit unchanged before import.
const defaultSettle = 2 * time.Second

// Result reports one import attempt for a dropped file.
type Result struct {
	Path         string
	Transactions []domain.FetchedTransaction
	Stats        domain.ImportStats
	Err          error
}

// pending tracks a file waiting to settle.
type pending struct {
	size     int64
	deadline time.Time
}

// Watcher feeds files dropped into a directory through the import
// service.
type Watcher struct {
	dir      string
	imports  driving.ImportService
	settle   time.Duration
	onResult func(Result)
}

// New creates a watcher for dir. onResult is invoked for every import
// attempt, including failures; it may be nil.
func New(dir string, imports driving.ImportService, onResult func(Result)) *Watcher {
	return &Watcher{
		dir:      dir,
		imports:  imports,
		settle:   defaultSettle,
		onResult: onResult,
	}
}

// Run watches the directory until ctx is cancelled. Files already
// present when Run starts are imported too.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	waiting := make(map[string]pending)

	// Pick up files that were dropped before we started.
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", w.dir, err)
	}
	for _, entry := range entries {
		path := filepath.Join(w.dir, entry.Name())
		if w.eligible(path) {
			w.track(waiting, path)
		}
	}

	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	logger.Info("Watching %s for export files", w.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			if w.eligible(event.Name) {
				w.track(waiting, event.Name)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error: %v", err)

		case now := <-ticker.C:
			for path, p := range waiting {
				if now.Before(p.deadline) {
					continue
				}
				info, err := os.Stat(path)
				if err != nil {
					// Removed before it settled.
					delete(waiting, path)
					continue
				}
				if info.Size() != p.size {
					// Still growing; wait another settle interval.
					waiting[path] = pending{size: info.Size(), deadline: now.Add(w.settle)}
					continue
				}
				delete(waiting, path)
				w.importFile(ctx, path)
			}
		}
	}
}

// track records or refreshes the settle deadline for a file.
func (w *Watcher) track(waiting map[string]pending, path string) {
	var size int64
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return
		}
		size = info.Size()
	}
	waiting[path] = pending{size: size, deadline: time.Now().Add(w.settle)}
}

// eligible reports whether the path looks like an importable export.
func (w *Watcher) eligible(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt", ".log":
		return true
	default:
		return false
	}
}

// importFile runs one file through the import service and reports the
// outcome.
func (w *Watcher) importFile(ctx context.Context, path string) {
	txns, stats, err := w.imports.ImportFile(ctx, path)
	if err != nil {
		logger.Warn("Import of %s failed: %v", filepath.Base(path), err)
	} else {
		logger.Info("Imported %s: %d transactions (%d skipped)", filepath.Base(path), stats.Imported, stats.Skipped)
	}

	if w.onResult != nil {
		w.onResult(Result{Path: path, Transactions: txns, Stats: stats, Err: err})
	}
}
