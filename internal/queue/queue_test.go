package queue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestEnqueueBound(t *testing.T) {
	m := newTestManager(t)

	var paths []string
	for i := 0; i < 6; i++ {
		task, err := m.Save(ViewPrimary, []byte{byte(i)})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		paths = append(paths, task.Path)
		if n := m.Len(ViewPrimary); n > MaxPerQueue {
			t.Fatalf("queue length %d exceeds bound after enqueue %d", n, i)
		}
	}

	snap := m.Snapshot(ViewPrimary)
	if len(snap) != MaxPerQueue {
		t.Fatalf("len = %d, want %d", len(snap), MaxPerQueue)
	}
	// Oldest (paths[0]) evicted, order preserved for the rest.
	for i, task := range snap {
		if task.Path != paths[i+1] {
			t.Errorf("snap[%d] = %s, want %s", i, task.Path, paths[i+1])
		}
	}
	if _, err := os.Stat(paths[0]); !os.IsNotExist(err) {
		t.Errorf("evicted file %s still exists", paths[0])
	}
	if _, err := os.Stat(paths[1]); err != nil {
		t.Errorf("surviving file %s: %v", paths[1], err)
	}
}

func TestQueuesAreIndependent(t *testing.T) {
	m := newTestManager(t)
	for i := 0; i < 5; i++ {
		if _, err := m.Save(ViewPrimary, []byte("p")); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if _, err := m.Save(ViewSupplementary, []byte("s")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if n := m.Len(ViewPrimary); n != 5 {
		t.Errorf("primary len = %d, want 5", n)
	}
	if n := m.Len(ViewSupplementary); n != 1 {
		t.Errorf("supplementary len = %d, want 1", n)
	}
}

func TestClear(t *testing.T) {
	m := newTestManager(t)
	var paths []string
	for i := 0; i < 3; i++ {
		task, _ := m.Save(ViewSupplementary, []byte("x"))
		paths = append(paths, task.Path)
	}

	m.Clear(ViewSupplementary)
	if n := m.Len(ViewSupplementary); n != 0 {
		t.Fatalf("len = %d after Clear, want 0", n)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("file %s not deleted by Clear", p)
		}
	}
}

func TestDelete(t *testing.T) {
	m := newTestManager(t)
	a, _ := m.Save(ViewPrimary, []byte("a"))
	b, _ := m.Save(ViewPrimary, []byte("b"))

	m.Delete(a.Path)
	snap := m.Snapshot(ViewPrimary)
	if len(snap) != 1 || snap[0].Path != b.Path {
		t.Fatalf("snapshot = %+v, want only %s", snap, b.Path)
	}
	if _, err := os.Stat(a.Path); !os.IsNotExist(err) {
		t.Errorf("deleted task's file still exists")
	}

	// Idempotent for unknown paths.
	m.Delete(filepath.Join(t.TempDir(), "missing.png"))
	m.Delete(a.Path)
	if n := m.Len(ViewPrimary); n != 1 {
		t.Errorf("len = %d after no-op deletes, want 1", n)
	}
}
