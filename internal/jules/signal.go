package jules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/accdd/internal/logging"
)

// SignalWatcher reports when a completion signal file appears.
type SignalWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *logging.Logger
	fired   chan struct{}
	done    chan struct{}

	fireOnce  sync.Once
	closeOnce sync.Once
}

// WatchSignal watches the parent directory of path, creating it if needed.
// The returned watcher fires at most once. Call Close when finished.
func WatchSignal(ctx context.Context, path string, logger *logging.Logger) (*SignalWatcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create signal directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	sw := &SignalWatcher{
		path:    filepath.Clean(path),
		watcher: w,
		logger:  logger,
		fired:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	go sw.loop(ctx)

	// The file may have been written before the watch started.
	if SignalExists(path) {
		sw.fire()
	}
	return sw, nil
}

// C is closed once the signal file exists.
func (s *SignalWatcher) C() <-chan struct{} {
	return s.fired
}

// Close stops watching.
func (s *SignalWatcher) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.watcher.Close()
	})
	return err
}

func (s *SignalWatcher) fire() {
	s.fireOnce.Do(func() { close(s.fired) })
}

func (s *SignalWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				if SignalExists(s.path) {
					s.logger.Debug(ctx, "completion signal detected", zap.String("path", s.path))
					s.fire()
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn(ctx, "signal watcher error", zap.Error(err))
		}
	}
}

// SignalExists reports whether a non-empty signal file is present.
func SignalExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Size() > 0
}

// WriteSignal writes payload to path, creating parent directories.
func WriteSignal(path string, payload []byte) error {
	if len(payload) == 0 {
		return errors.New("empty signal payload")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create signal directory: %w", err)
	}
	return os.WriteFile(path, payload, 0o644)
}
