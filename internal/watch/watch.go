// Package watch monitors sequence directories for frames arriving on disk.
package watch

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FrameEvent represents a change to a sequence directory.
type FrameEvent struct {
	Path      string    `json:"path"`
	Dir       string    `json:"dir"`
	Operation string    `json:"operation"` // "created", "modified", "deleted", "renamed"
	Time      time.Time `json:"time"`
}

// SequenceWatcher monitors directories for new or changed FITS frames.
type SequenceWatcher struct {
	watcher    *fsnotify.Watcher
	Events     chan FrameEvent
	watchDirs  []string
	extensions []string
	log        *slog.Logger
	done       chan struct{}
}

// New creates a watcher over the given directories. extensions defaults to
// the usual FITS suffixes when empty.
func New(watchDirs []string, extensions []string, log *slog.Logger) (*SequenceWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if len(extensions) == 0 {
		extensions = []string{".fit", ".fits", ".fts"}
	}
	if log == nil {
		log = slog.Default()
	}

	return &SequenceWatcher{
		watcher:    watcher,
		Events:     make(chan FrameEvent, 100),
		watchDirs:  watchDirs,
		extensions: extensions,
		log:        log,
		done:       make(chan struct{}),
	}, nil
}

// Start begins monitoring the configured directories.
func (w *SequenceWatcher) Start() error {
	for _, dir := range w.watchDirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		w.log.Info("watching sequence directory", "dir", dir)
	}

	go w.processEvents()
	return nil
}

// Stop stops the watcher.
func (w *SequenceWatcher) Stop() error {
	close(w.done)
	close(w.Events)
	return w.watcher.Close()
}

func (w *SequenceWatcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			var operation string
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				operation = "created"
			case event.Op&fsnotify.Write == fsnotify.Write:
				operation = "modified"
			case event.Op&fsnotify.Remove == fsnotify.Remove:
				operation = "deleted"
			case event.Op&fsnotify.Rename == fsnotify.Rename:
				operation = "renamed"
			default:
				continue
			}

			if !w.isFrameFile(event.Name) {
				continue
			}

			fe := FrameEvent{
				Path:      event.Name,
				Dir:       filepath.Dir(event.Name),
				Operation: operation,
				Time:      time.Now(),
			}

			select {
			case w.Events <- fe:
			default:
				w.log.Warn("event buffer full, dropping event", "path", event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("sequence watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

func (w *SequenceWatcher) isFrameFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.extensions {
		if ext == e {
			return true
		}
	}
	return false
}
