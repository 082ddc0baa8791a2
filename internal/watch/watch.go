// Package watch re-runs a save whenever card sources under a project change.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/danisheto/anc/internal/pipeline"
	"github.com/danisheto/anc/internal/workspace"
)

// DefaultDebounce is how long the watcher waits for events to settle.
const DefaultDebounce = 300 * time.Millisecond

// Saver runs one save over the project.
type Saver interface {
	Save(ctx context.Context) (*pipeline.Report, error)
}

// Watcher drives a Saver from file system events.
type Watcher struct {
	project   *workspace.Project
	saver     Saver
	extension string
	debounce  time.Duration
	logger    *slog.Logger

	fingerprint string // sources at the last successful save
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithExtension sets the source extension that triggers a save.
func WithExtension(ext string) Option {
	return func(w *Watcher) {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		w.extension = ext
	}
}

// WithDebounce sets the settle delay.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithLogger sets the watcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// New creates a watcher over project.
func New(project *workspace.Project, saver Saver, opts ...Option) *Watcher {
	w := &Watcher{
		project:   project,
		saver:     saver,
		extension: workspace.DefaultExtension,
		debounce:  DefaultDebounce,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run saves once, then again after every settled burst of source changes,
// until ctx is cancelled. Bursts that leave every source checksum unchanged
// are skipped. A change to the hooks directory always forces a save.
//
// New directories created at runtime are added to the watch list.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addDirs(fw, w.project.Root()); err != nil {
		return err
	}
	if info, err := os.Stat(w.project.HooksDir()); err == nil && info.IsDir() {
		if err := fw.Add(w.project.HooksDir()); err != nil {
			return err
		}
	}

	w.logger.Info("watcher: started", slog.String("root", w.project.Root()))
	w.save(ctx)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerCh = timer.C
		} else {
			timer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			w.save(ctx)

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.inHooks(ev.Name) {
				w.logger.Debug("watcher: hook changed", slog.String("path", ev.Name))
				w.fingerprint = ""
				schedule()
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := w.addDirs(fw, ev.Name); addErr != nil {
						w.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					schedule()
					continue
				}
			}

			if filepath.Ext(ev.Name) != w.extension {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.logger.Debug("watcher: source changed",
					slog.String("path", ev.Name),
					slog.String("op", ev.Op.String()))
				schedule()
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) save(ctx context.Context) {
	sources, err := w.project.Sources(w.extension)
	if err != nil {
		w.logger.Warn("watcher: list sources failed", slog.String("error", err.Error()))
		return
	}
	fp := workspace.Fingerprint(sources)
	if fp == w.fingerprint {
		w.logger.Debug("watcher: sources unchanged, skipping save")
		return
	}

	if _, err := w.saver.Save(ctx); err != nil {
		w.logger.Warn("watcher: save failed", slog.String("error", err.Error()))
		return
	}
	w.fingerprint = fp
}

func (w *Watcher) inHooks(path string) bool {
	return filepath.Dir(path) == w.project.HooksDir()
}

// addDirs adds root and its subdirectories, skipping .anc.
func (w *Watcher) addDirs(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == workspace.Dir && path != w.project.Root() {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
