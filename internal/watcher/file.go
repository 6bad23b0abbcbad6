package watcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher tails a focus feed file and emits an event for every appended
// line. Window-manager hooks write to the file with AppendEvent.
type FileWatcher struct {
	relay

	Path   string
	Logger *slog.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

// NewFileWatcher returns a watcher for the feed file at path.
func NewFileWatcher(path string) *FileWatcher {
	return &FileWatcher{
		Path:   filepath.Clean(path),
		Logger: slog.Default(),
		ready:  make(chan struct{}),
	}
}

// Ready is closed once Run has registered with fsnotify; lines appended after
// that are guaranteed to be seen.
func (w *FileWatcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches the feed file until ctx is cancelled. Lines already in the
// file when Run starts are skipped.
func (w *FileWatcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(w.Path), 0o755); err != nil {
		return fmt.Errorf("creating feed directory: %w", err)
	}
	f, err := os.OpenFile(w.Path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open focus feed: %w", err)
	}
	info, err := f.Stat()
	f.Close()
	if err != nil {
		return fmt.Errorf("stat focus feed: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory so a rotated or recreated feed is picked up.
	if err := watcher.Add(filepath.Dir(w.Path)); err != nil {
		return fmt.Errorf("watch focus feed: %w", err)
	}
	w.readyOnce.Do(func() { close(w.ready) })

	offset := info.Size()
	var partial []byte

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.Path {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				offset, partial = 0, nil
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				offset, partial, err = w.drain(offset, partial)
				if err != nil {
					w.Logger.Warn("reading focus feed", "path", w.Path, "error", err)
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Watcher errors are non-fatal; continue watching.
			w.Logger.Warn("focus feed watcher", "error", err)
		}
	}
}

// drain reads everything past offset and emits each complete line. An
// unterminated trailing line is carried over in the returned partial.
func (w *FileWatcher) drain(offset int64, partial []byte) (int64, []byte, error) {
	f, err := os.Open(w.Path)
	if err != nil {
		return offset, partial, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return offset, partial, err
	}
	if info.Size() < offset {
		// Truncated: start over from the top.
		offset, partial = 0, nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, partial, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return offset, partial, err
	}
	offset += int64(len(data))

	buf := append(partial, data...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := string(buf[:i])
		buf = buf[i+1:]
		if id, name, ok := ParseLine(line); ok {
			if err := w.deliver(Normalize(name, id)); err != nil && !errors.Is(err, ErrNoListener) {
				w.Logger.Debug("focus feed event rejected", "app_id", id, "error", err)
			}
		}
	}
	return offset, bytes.Clone(buf), nil
}
