package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	changes []string
	removes []string
}

func (r *recorder) change(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, path)
}

func (r *recorder) remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removes = append(r.removes, path)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes), len(r.removes)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func startWatcher(t *testing.T, path string, rec *recorder) *Watcher {
	t.Helper()
	w, err := New(Config{
		Path:     path,
		Debounce: 50 * time.Millisecond,
		OnChange: rec.change,
		OnRemove: rec.remove,
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	w.Start(context.Background())
	t.Cleanup(func() {
		if err := w.Close(); err != nil {
			t.Fatalf("close watcher: %v", err)
		}
	})
	return w
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{OnChange: func(string) {}}); err == nil {
		t.Fatal("expected missing path error")
	}
	if _, err := New(Config{Path: t.TempDir()}); err == nil {
		t.Fatal("expected missing change callback error")
	}
	if _, err := New(Config{Path: filepath.Join(t.TempDir(), "nope"), OnChange: func(string) {}}); err == nil {
		t.Fatal("expected stat error for absent path")
	}
}

func TestCloseWithoutStartReturns(t *testing.T) {
	rec := &recorder{}
	w, err := New(Config{
		Path:     t.TempDir(),
		Debounce: 50 * time.Millisecond,
		OnChange: rec.change,
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	// The loop never ran; Close must not wait for it.
	done := make(chan error, 1)
	go func() { done <- w.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return for an unstarted watcher")
	}
}

func TestFlushSettledDispatchesInPathOrder(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w, err := New(Config{
		Path:     dir,
		Debounce: 50 * time.Millisecond,
		OnChange: rec.change,
		OnRemove: rec.remove,
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() {
		if err := w.Close(); err != nil {
			t.Fatalf("close watcher: %v", err)
		}
	})

	past := time.Now().Add(-time.Second)
	w.mu.Lock()
	w.pending[filepath.Join(dir, "c.yaml")] = pendingOp{at: past}
	w.pending[filepath.Join(dir, "a.yaml")] = pendingOp{at: past}
	w.pending[filepath.Join(dir, "b.yaml")] = pendingOp{removed: true, at: past}
	w.mu.Unlock()

	w.flushSettled()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.changes) != 2 || len(rec.removes) != 1 {
		t.Fatalf("expected 2 changes and 1 remove, got %v and %v", rec.changes, rec.removes)
	}
	if rec.changes[0] != filepath.Join(dir, "a.yaml") || rec.changes[1] != filepath.Join(dir, "c.yaml") {
		t.Fatalf("expected changes in path order, got %v", rec.changes)
	}
	if rec.removes[0] != filepath.Join(dir, "b.yaml") {
		t.Fatalf("expected b.yaml removal, got %v", rec.removes)
	}
}

func TestDirectoryWatchDebouncesRapidWrites(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec)

	path := filepath.Join(dir, "goblin.yaml")
	// Rapid consecutive writes settle into a single reload.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("initial_state: idle\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !waitFor(t, 2*time.Second, func() bool {
		changes, _ := rec.counts()
		return changes >= 1
	}) {
		t.Fatal("expected a change callback")
	}

	// Give the debounce window time to prove it coalesced.
	time.Sleep(200 * time.Millisecond)
	changes, _ := rec.counts()
	if changes != 1 {
		t.Fatalf("expected rapid writes to coalesce into 1 change, got %d", changes)
	}

	rec.mu.Lock()
	got := rec.changes[0]
	rec.mu.Unlock()
	if got != filepath.Clean(path) {
		t.Fatalf("expected callback for %s, got %s", path, got)
	}
}

func TestDirectoryWatchIgnoresNonYAML(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	changes, removes := rec.counts()
	if changes != 0 || removes != 0 {
		t.Fatalf("expected non-YAML files to be ignored, got %d changes %d removes", changes, removes)
	}
}

func TestDirectoryWatchReportsRemovals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "goblin.yaml")
	if err := os.WriteFile(path, []byte("initial_state: idle\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rec := &recorder{}
	startWatcher(t, dir, rec)

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool {
		_, removes := rec.counts()
		return removes == 1
	}) {
		t.Fatal("expected a remove callback")
	}
}

func TestFileWatchReportsDatabaseWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "content.db")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rec := &recorder{}
	startWatcher(t, path, rec)

	if err := os.WriteFile(path, []byte("xy"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	// Unrelated files in the same directory are filtered out.
	if err := os.WriteFile(filepath.Join(dir, "other.db"), []byte("z"), 0o644); err != nil {
		t.Fatalf("write sibling: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool {
		changes, _ := rec.counts()
		return changes >= 1
	}) {
		t.Fatal("expected a change callback")
	}

	time.Sleep(200 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, change := range rec.changes {
		if change != filepath.Clean(path) {
			t.Fatalf("expected changes reported against the database path, got %s", change)
		}
	}
}
