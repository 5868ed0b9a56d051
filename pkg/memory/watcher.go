package memory

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/harun/forge/pkg/chunker"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the quiet period before a change batch fires.
const DefaultDebounce = 500 * time.Millisecond

// ProjectWatcher watches a source tree recursively and calls onChange once
// per burst of file system events.
type ProjectWatcher struct {
	watcher  *fsnotify.Watcher
	root     string
	logger   zerolog.Logger
	onChange func()
	debounce time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopCh  chan struct{}
	stopped bool
	done    chan struct{}
}

// NewProjectWatcher starts watching root. A zero debounce selects
// DefaultDebounce.
func NewProjectWatcher(root string, debounce time.Duration, logger zerolog.Logger, onChange func()) (*ProjectWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	pw := &ProjectWatcher{
		watcher:  watcher,
		root:     root,
		logger:   logger,
		onChange: onChange,
		debounce: debounce,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	if err := pw.addTree(root); err != nil {
		watcher.Close()
		return nil, err
	}

	go pw.run()
	return pw, nil
}

// addTree registers dir and every non-skipped subdirectory.
func (pw *ProjectWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != pw.root && chunker.SkipDirs[d.Name()] {
			return filepath.SkipDir
		}
		return pw.watcher.Add(path)
	})
}

// Stop stops the watcher and cancels any pending callback.
func (pw *ProjectWatcher) Stop() error {
	pw.mu.Lock()
	if pw.stopped {
		pw.mu.Unlock()
		return nil
	}
	pw.stopped = true
	if pw.timer != nil {
		pw.timer.Stop()
	}
	close(pw.stopCh)
	pw.mu.Unlock()

	err := pw.watcher.Close()
	<-pw.done
	return err
}

// run processes file system events
func (pw *ProjectWatcher) run() {
	defer close(pw.done)
	for {
		select {
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			pw.handle(event)

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pw.logger.Error().Err(err).Msg("File watcher error")

		case <-pw.stopCh:
			return
		}
	}
}

func (pw *ProjectWatcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(pw.root, event.Name)
	if err != nil || chunker.IsSkippedPath(rel) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := pw.addTree(event.Name); err != nil {
				pw.logger.Warn().Err(err).Str("dir", rel).Msg("Failed to watch new directory")
			}
		}
	}

	pw.logger.Debug().
		Str("file", rel).
		Str("op", event.Op.String()).
		Msg("File change detected")
	pw.schedule()
}

// schedule debounces the change callback
func (pw *ProjectWatcher) schedule() {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.stopped {
		return
	}

	if pw.timer != nil {
		pw.timer.Stop()
	}
	pw.timer = time.AfterFunc(pw.debounce, func() {
		pw.logger.Debug().Msg("Source tree changed")
		pw.onChange()
	})
}
