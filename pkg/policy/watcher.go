package policy

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher recompiles a rego file whenever it changes on disk and installs the
// new engine into a Swappable authorizer. A file that fails to compile leaves
// the previous engine in place.
type Watcher struct {
	path       string
	entrypoint string
	target     *Swappable
	watcher    *fsnotify.Watcher
	logger     *slog.Logger

	mu           sync.Mutex
	running      bool
	stopCh       chan struct{}
	debounceTime time.Duration
	reloads      int
}

// WatcherConfig configures a policy file watcher.
type WatcherConfig struct {
	Path         string
	Entrypoint   string
	Target       *Swappable
	Logger       *slog.Logger
	DebounceTime time.Duration
}

// NewWatcher creates a watcher for cfg.Path.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.DebounceTime
	if debounce <= 0 {
		debounce = time.Second
	}

	return &Watcher{
		path:         cfg.Path,
		entrypoint:   cfg.Entrypoint,
		target:       cfg.Target,
		watcher:      fw,
		logger:       logger,
		stopCh:       make(chan struct{}),
		debounceTime: debounce,
	}, nil
}

// Start begins watching the policy file.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Editors often replace files by rename, so watch the directory.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	w.logger.Info("policy watcher started", "policy_path", w.path)

	go w.watchLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	return w.watcher.Close()
}

// Reloads returns the number of successful reloads.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.isPolicyFileEvent(event) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			w.logger.Debug("policy file event", "event", event.Op.String(), "file", event.Name)
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounceTime, func() { w.reload(ctx) })

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("policy watcher error", "error", err)

		case <-w.stopCh:
			w.logger.Info("policy watcher stopped")
			return

		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) isPolicyFileEvent(event fsnotify.Event) bool {
	eventPath, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	policyPath, err := filepath.Abs(w.path)
	if err != nil {
		return false
	}
	return eventPath == policyPath
}

func (w *Watcher) reload(ctx context.Context) {
	start := time.Now()
	engine, err := LoadEngine(ctx, w.path, w.entrypoint, w.logger)
	if err != nil {
		w.logger.Error("policy reload failed", "error", err, "duration", time.Since(start))
		return
	}
	w.target.Swap(engine)

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	w.logger.Info("policy reloaded", "policy_path", w.path, "duration", time.Since(start))
}
