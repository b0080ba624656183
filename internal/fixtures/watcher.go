package fixtures

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/eduops/internal/source/sqlitesource"
	"github.com/starford/eduops/internal/storage"
)

// DefaultDebounce is the quiet period after the last file event before a
// sync pass runs.
const DefaultDebounce = 200 * time.Millisecond

// ChangeCallback is called after a watcher-driven sync changed records.
type ChangeCallback func(Report)

// WatchOptions tune Watch.
type WatchOptions struct {
	Keys     Keys
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watch watches root until ctx is cancelled. Bursts of file events are
// debounced into a single sync pass; cb runs after every pass that changed
// records. Directories created at runtime are watched too.
func Watch(ctx context.Context, db *sqlitesource.DB, store storage.Provider, root string, opts WatchOptions, cb ChangeCallback) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("fixtures: watcher started", slog.String("root", root))

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerC = timer.C
			return
		}
		timer.Reset(debounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("fixtures: watcher stopped")
			return nil

		case <-timerC:
			rep, err := Sync(db, store, opts.Keys, logger)
			if err != nil {
				logger.Warn("fixtures: sync failed", slog.String("error", err.Error()))
				continue
			}
			if rep.Changed() {
				logger.Info("fixtures: synced",
					slog.Any("collections", rep.Collections),
					slog.Int("indexed", rep.Indexed), slog.Int("removed", rep.Removed))
				if cb != nil {
					cb(rep)
				}
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("fixtures: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					// The new directory may already hold fixtures.
					schedule()
					continue
				}
			}

			if !storage.IsFixture(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("fixtures: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
