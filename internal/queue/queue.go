// Package queue holds the two bounded screenshot queues the solve pipeline
// reads from. Tasks are filesystem backed: one file per captured image.
package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// View names the logical queue a capture or a run targets.
type View string

const (
	ViewPrimary       View = "primary"
	ViewSupplementary View = "supplementary"
)

// MaxPerQueue is the hard bound on each queue; enqueueing past it evicts the
// oldest task and deletes its backing file.
const MaxPerQueue = 5

// Task is one captured screenshot awaiting a solve.
type Task struct {
	Path      string
	View      View
	CreatedAt time.Time
}

// Manager owns both queues. All methods are safe for concurrent use; the
// shells and the pipeline run on separate goroutines.
type Manager struct {
	dir string
	log zerolog.Logger

	mu     sync.Mutex
	queues map[View][]Task
}

func NewManager(dir string, log zerolog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("screenshot dir: %w", err)
	}
	return &Manager{
		dir: dir,
		log: log,
		queues: map[View][]Task{
			ViewPrimary:       nil,
			ViewSupplementary: nil,
		},
	}, nil
}

// Save writes image bytes into the managed directory and enqueues the
// resulting task. Returns the stored task.
func (m *Manager) Save(view View, img []byte) (Task, error) {
	name := fmt.Sprintf("%s-%d.png", view, time.Now().UnixNano())
	path := filepath.Join(m.dir, name)
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return Task{}, fmt.Errorf("write screenshot: %w", err)
	}
	t := Task{Path: path, View: view, CreatedAt: time.Now()}
	m.Enqueue(t)
	return t, nil
}

// Enqueue appends the task to its view's queue. If the queue would exceed
// MaxPerQueue the oldest task is evicted and its backing file deleted.
// Deletion is best effort: failures are logged, never propagated.
func (m *Manager) Enqueue(t Task) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := append(m.queues[t.View], t)
	for len(q) > MaxPerQueue {
		old := q[0]
		q = q[1:]
		m.removeFile(old.Path)
		m.log.Debug().Str("path", old.Path).Str("view", string(t.View)).Msg("evicted oldest screenshot")
	}
	m.queues[t.View] = q
}

// Snapshot returns a copy of the view's queue in insertion order.
func (m *Manager) Snapshot(view View) []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Task(nil), m.queues[view]...)
}

// Len reports the current length of the view's queue.
func (m *Manager) Len(view View) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[view])
}

// Clear deletes every backing file of the view's queue, then empties it.
func (m *Manager) Clear(view View) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.queues[view] {
		m.removeFile(t.Path)
	}
	m.queues[view] = nil
}

// Delete removes the task with the given path from whichever queue owns it
// and deletes its backing file. Calling it for an unknown path is a no-op.
func (m *Manager) Delete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for view, q := range m.queues {
		for i, t := range q {
			if t.Path == path {
				m.queues[view] = append(q[:i:i], q[i+1:]...)
				m.removeFile(path)
				return
			}
		}
	}
}

func (m *Manager) removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.log.Warn().Err(err).Str("path", path).Msg("could not delete screenshot file")
	}
}
