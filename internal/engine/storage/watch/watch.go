// Package watch pushes filesystem change notices into content registries.
// The flow is strictly one-directional: the watcher invokes callbacks,
// nothing calls back into the watcher.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

type pendingOp struct {
	removed bool
	at      time.Time
}

// Config configures a watcher.
type Config struct {
	// Path is the file or directory to watch. Watching a file (the SQLite
	// database) reports changes to that file; watching a directory (YAML
	// authoring) reports changes to the YAML files inside it.
	Path string
	// Debounce is how long events must settle before a callback fires.
	// Defaults to 500ms.
	Debounce time.Duration
	// OnChange is invoked with the settled path after creates and writes.
	OnChange func(path string)
	// OnRemove is invoked with the settled path after removes and renames.
	OnRemove func(path string)
}

// Watcher debounces filesystem events for one watched path.
type Watcher struct {
	fsw      *fsnotify.Watcher
	path     string
	isDir    bool
	debounce time.Duration
	onChange func(string)
	onRemove func(string)

	mu      sync.Mutex
	pending map[string]pendingOp
	started bool

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates a watcher for cfg.Path. The path must exist.
func New(cfg Config) (*Watcher, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("watch path is required")
	}
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("change callback is required")
	}

	info, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("stat watch path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}

	// Watching a file directly misses editors that replace it; watch the
	// containing directory and filter instead.
	watchDir := cfg.Path
	if !info.IsDir() {
		watchDir = filepath.Dir(cfg.Path)
	}
	if err := fsw.Add(watchDir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", watchDir, err)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	return &Watcher{
		fsw:      fsw,
		path:     filepath.Clean(cfg.Path),
		isDir:    info.IsDir(),
		debounce: debounce,
		onChange: cfg.OnChange,
		onRemove: cfg.OnRemove,
		pending:  map[string]pendingOp{},
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start runs the event loop until Close is called or ctx is cancelled.
// Starting twice is a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run(ctx)
}

// Close stops the watcher and releases the fsnotify handle. Safe to call
// whether or not Start ran; doneCh is only waited on for a started loop.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		started := w.started
		w.mu.Unlock()
		if started {
			<-w.doneCh
		}
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	flushTick := w.debounce / 4
	if flushTick < 10*time.Millisecond {
		flushTick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(flushTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("watcher %s: %v", w.path, err)
		case <-ticker.C:
			w.flushSettled()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	target, ok := w.resolve(event.Name)
	if !ok {
		return
	}

	var removed bool
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		removed = false
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		removed = true
	default:
		return
	}

	w.mu.Lock()
	w.pending[target] = pendingOp{removed: removed, at: time.Now()}
	w.mu.Unlock()
}

// resolve maps a raw event path to the path callbacks should see, and
// filters events outside the watched scope.
func (w *Watcher) resolve(name string) (string, bool) {
	name = filepath.Clean(name)
	if w.isDir {
		if filepath.Dir(name) != w.path {
			return "", false
		}
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			return "", false
		}
		return name, true
	}
	// SQLite in WAL mode writes through sidecar files; report them as
	// changes to the database itself.
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if name == w.path+suffix {
			return w.path, true
		}
	}
	return "", false
}

func (w *Watcher) flushSettled() {
	now := time.Now()

	w.mu.Lock()
	var settled []struct {
		path    string
		removed bool
	}
	for path, op := range w.pending {
		if now.Sub(op.at) >= w.debounce {
			settled = append(settled, struct {
				path    string
				removed bool
			}{path, op.removed})
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	// Map iteration order is random; callbacks fire in path order so that
	// reloads and removals stay deterministic.
	sort.Slice(settled, func(i, j int) bool { return settled[i].path < settled[j].path })

	for _, s := range settled {
		if s.removed {
			if w.onRemove != nil {
				w.onRemove(s.path)
			}
			continue
		}
		w.onChange(s.path)
	}
}
