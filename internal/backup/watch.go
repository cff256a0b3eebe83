package backup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"jugaad-backup/internal/errors"
	"jugaad-backup/internal/filter"
)

// DefaultDebounce is the quiet period after the last change before a build
const DefaultDebounce = 2 * time.Second

// WatchOptions configures Watch
type WatchOptions struct {
	Debounce   time.Duration
	Passphrase string
	// OnBuild is called after every triggered build
	OnBuild func(*BuildResult, error)
}

// Watch runs an incremental build whenever the project tree settles after
// a change. It returns when ctx is done.
func (e *Engine) Watch(ctx context.Context, opts WatchOptions) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	f, err := filter.New(e.opts.ProjectRoot, e.opts.Filter)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.NewScanError(e.opts.ProjectRoot, err)
	}
	defer watcher.Close()

	if err := e.addWatches(watcher, f, e.opts.ProjectRoot); err != nil {
		return err
	}
	e.logger.WithFields(map[string]interface{}{
		"root":     e.opts.ProjectRoot,
		"debounce": opts.Debounce.String(),
	}).Info("Watching project for changes")

	timer := time.NewTimer(opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Watch stopped")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !e.relevant(f, ev) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := e.addWatches(watcher, f, ev.Name); err != nil {
						e.logger.WithField("dir", ev.Name).Warnf("Failed to watch new directory: %v", err)
					}
				}
			}
			timer.Reset(opts.Debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warnf("File watcher error: %v", err)

		case <-timer.C:
			res, err := e.Build(ctx, BuildRequest{Incremental: true, Passphrase: opts.Passphrase})
			if err != nil {
				e.logger.Errorf("Watch build failed: %v", err)
			}
			if opts.OnBuild != nil {
				opts.OnBuild(res, err)
			}
		}
	}
}

// addWatches registers dir and every directory below it that the filter
// does not prune
func (e *Engine) addWatches(w *fsnotify.Watcher, f *filter.PathFilter, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel := e.relative(path); rel != "" {
			if prune, _ := f.PruneDir(rel); prune || filter.AlwaysPruned(d.Name()) {
				return filepath.SkipDir
			}
		}
		if err := w.Add(path); err != nil {
			return errors.NewScanError(path, err)
		}
		return nil
	})
}

// relevant drops events inside the backup directory and pruned trees
func (e *Engine) relevant(f *filter.PathFilter, ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	rel := e.relative(ev.Name)
	if rel == "" {
		return false
	}
	parts := strings.Split(rel, "/")
	for i := range parts[:len(parts)-1] {
		if filter.AlwaysPruned(parts[i]) {
			return false
		}
		if prune, _ := f.PruneDir(strings.Join(parts[:i+1], "/")); prune {
			return false
		}
	}
	if filter.AlwaysPruned(parts[len(parts)-1]) {
		return false
	}
	ignored, _ := f.Ignored(rel)
	return !ignored
}

func (e *Engine) relative(path string) string {
	rel, err := filepath.Rel(e.opts.ProjectRoot, path)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}
