// Package watch observes an application tree and reports settled batches
// of changes so the analysis can be rerun.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last event before a batch
// is delivered.
const DefaultDebounce = 300 * time.Millisecond

// EventCallback is called for every relevant file event. kind is one of
// "created", "updated", "deleted".
type EventCallback func(kind, path string)

// SettleCallback receives the sorted relative paths changed since the last
// batch.
type SettleCallback func(paths []string)

// Config configures Watch.
type Config struct {
	Root     string
	Debounce time.Duration
	// Skip reports whether a relative path should be ignored. ".git" is
	// always skipped.
	Skip     func(rel string) bool
	OnEvent  EventCallback
	OnSettle SettleCallback
}

// Watch starts an fsnotify watcher on cfg.Root and processes events until
// ctx is cancelled. New directories are added to the watch list as they
// appear. Every burst of events ends in one OnSettle call once the tree
// has been quiet for cfg.Debounce.
func Watch(ctx context.Context, cfg Config, logger *slog.Logger) error {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	skip := func(rel string) bool {
		if rel == ".git" || strings.HasPrefix(rel, ".git/") {
			return true
		}
		return cfg.Skip != nil && cfg.Skip(rel)
	}

	if err := addDirsRecursive(w, cfg.Root, cfg.Root, skip); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", cfg.Root))

	var settleTimer *time.Timer
	var settleCh <-chan time.Time
	pending := make(map[string]struct{})

	scheduleSettle := func() {
		if settleTimer == nil {
			settleTimer = time.NewTimer(cfg.Debounce)
			settleCh = settleTimer.C
		} else {
			settleTimer.Reset(cfg.Debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if settleTimer != nil {
				settleTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-settleCh:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			logger.Debug("watcher: settled", slog.Int("paths", len(paths)))
			if cfg.OnSettle != nil {
				cfg.OnSettle(paths)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			rel, relErr := filepath.Rel(cfg.Root, ev.Name)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if skip(rel) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, cfg.Root, ev.Name, skip); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", rel),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", rel))
					}
					pending[rel] = struct{}{}
					scheduleSettle()
					continue
				}
			}

			var kind string
			switch {
			case ev.Op&fsnotify.Create != 0:
				kind = "created"
			case ev.Op&fsnotify.Write != 0:
				kind = "updated"
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// Rename fires on the old path; the new one arrives as Create.
				kind = "deleted"
			default:
				continue
			}
			logger.Debug("watcher: change", slog.String("path", rel), slog.String("op", kind))
			if cfg.OnEvent != nil {
				cfg.OnEvent(kind, rel)
			}
			pending[rel] = struct{}{}
			scheduleSettle()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds dir and its subdirectories to the watcher. Skip
// decisions use paths relative to the tree root.
func addDirsRecursive(w *fsnotify.Watcher, root, dir string, skip func(string) bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(root, path); relErr == nil && rel != "." && skip(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
