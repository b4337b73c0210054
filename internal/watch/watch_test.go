package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcherFiresOnModelWrite(t *testing.T) {
	dir := t.TempDir()
	var fired atomic.Int32
	w, err := New(dir, 50*time.Millisecond, func() { fired.Add(1) }, t.Logf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	w.Start(context.Background())

	path := filepath.Join(dir, "orders.sql")
	if err := os.WriteFile(path, []byte("SELECT 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return fired.Load() >= 1 })
}

func TestWatcherIgnoresNonSQL(t *testing.T) {
	dir := t.TempDir()
	var fired atomic.Int32
	w, err := New(dir, 50*time.Millisecond, func() { fired.Add(1) }, t.Logf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	w.Start(context.Background())

	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("fired %d times for non-model file", fired.Load())
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	var fired atomic.Int32
	w, err := New(dir, 150*time.Millisecond, func() { fired.Add(1) }, t.Logf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	w.Start(context.Background())

	path := filepath.Join(dir, "orders.sql")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("SELECT 1"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	waitFor(t, func() bool { return fired.Load() >= 1 })
	time.Sleep(300 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Errorf("fired %d times, want 1 after debounce", n)
	}
}

func TestWatcherCoversNewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	var fired atomic.Int32
	w, err := New(dir, 50*time.Millisecond, func() { fired.Add(1) }, t.Logf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	w.Start(context.Background())

	sub := filepath.Join(dir, "staging")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a moment to pick up the new directory.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(sub, "events.sql"), []byte("SELECT 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return fired.Load() >= 1 })
}
