// Package taskmanager runs workloads off the request goroutine, exposing
// cooperative cancellation, progress reporting, and a terminal-state task
// record queryable by id. Grounded on mcp_handlers_scan.cpp's
// TaskManager::Instance().StartTask usage (the body signature, the
// cancellation-token check points, and the progress(fraction, message)
// calls) since no standalone task_manager.h/.cpp survived the source
// filter; the state machine and identifier scheme follow spec.md §4.9 and
// §6.2 directly.
package taskmanager

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memcore-dev/memcore/coreerr"
)

// Kind tags the category of work a task performs, mirroring the handler
// names the original dispatches through StartTask.
type Kind string

const (
	KindScanPattern     Kind = "scan_pattern"
	KindScanStrings     Kind = "scan_strings"
	KindRecoverFunctions Kind = "recover_functions"
	KindRTTIScanModule  Kind = "rtti_scan_module"
	KindSchemaDump      Kind = "schema_dump"
)

// State is a TaskRecord's lifecycle stage. Pending and Running are
// transient; the other three are terminal and durable until Cleanup.
type State string

const (
	Pending   State = "Pending"
	Running   State = "Running"
	Completed State = "Completed"
	Failed    State = "Failed"
	Cancelled State = "Cancelled"
)

func (s State) terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// CancelToken is the cooperative cancellation handle a task body polls at
// coarse step boundaries.
type CancelToken struct {
	cancelled chan struct{}
	once      sync.Once
}

func newCancelToken() *CancelToken {
	return &CancelToken{cancelled: make(chan struct{})}
}

// IsCancelled reports whether Cancel has been called.
func (c *CancelToken) IsCancelled() bool {
	select {
	case <-c.cancelled:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the task is cancelled, for use in a
// select alongside blocking work.
func (c *CancelToken) Done() <-chan struct{} { return c.cancelled }

func (c *CancelToken) cancel() {
	c.once.Do(func() { close(c.cancelled) })
}

// ProgressFunc reports a task body's advancement: fraction in [0,1] and a
// human-readable stage description.
type ProgressFunc func(stage string, fraction float64)

// Body is the unit of work a task runs. It must poll cancel at coarse step
// boundaries and return promptly once cancel.IsCancelled() is true; a
// returned error other than ErrCancelled marks the task Failed.
type Body func(cancel *CancelToken, progress ProgressFunc) (any, error)

// ErrCancelled is the sentinel a Body may return (or the wrapping
// machinery synthesizes) to mark a task Cancelled rather than Failed.
var ErrCancelled = fmt.Errorf("taskmanager: cancelled")

// Record is the caller-visible snapshot of one task. It is a value copy;
// mutating it does not affect the manager's state.
type Record struct {
	ID          string
	Kind        Kind
	Description string
	State       State
	Progress    float64
	LastMessage string
	CreatedAt   time.Time
	CompletedAt time.Time
	Result      any
	Error       string
}

type task struct {
	mu     sync.Mutex
	record Record
	cancel *CancelToken
}

// Manager tracks a set of concurrently running tasks. The zero value is
// not usable; construct with New.
type Manager struct {
	mu    sync.Mutex
	tasks map[string]*task
}

// New builds an empty Manager.
func New() *Manager {
	return &Manager{tasks: make(map[string]*task)}
}

var defaultManager = New()

// Default returns the process-wide Manager singleton, matching spec.md's
// design note that the task manager is a process-wide singleton.
func Default() *Manager { return defaultManager }

// Start launches body on its own goroutine and returns its task id
// immediately; the caller polls Status or awaits nothing.
func (m *Manager) Start(kind Kind, description string, body Body) string {
	id := uuid.NewString()
	tok := newCancelToken()
	t := &task{
		record: Record{
			ID:          id,
			Kind:        kind,
			Description: description,
			State:       Pending,
			CreatedAt:   timeNow(),
		},
		cancel: tok,
	}

	m.mu.Lock()
	m.tasks[id] = t
	m.mu.Unlock()

	go m.run(t, body)
	return id
}

func (m *Manager) run(t *task, body Body) {
	t.mu.Lock()
	t.record.State = Running
	t.mu.Unlock()

	progress := func(stage string, fraction float64) {
		t.mu.Lock()
		t.record.LastMessage = stage
		if fraction < 0 {
			fraction = 0
		} else if fraction > 1 {
			fraction = 1
		}
		t.record.Progress = fraction
		t.mu.Unlock()
	}

	result, err := body(t.cancel, progress)

	t.mu.Lock()
	t.record.CompletedAt = timeNow()
	switch {
	case err == ErrCancelled || (err == nil && t.cancel.IsCancelled()):
		t.record.State = Cancelled
		t.record.Error = ErrCancelled.Error()
	case err != nil:
		t.record.State = Failed
		t.record.Error = err.Error()
	default:
		t.record.State = Completed
		t.record.Result = result
		t.record.Progress = 1
	}
	t.mu.Unlock()
}

// Status returns a snapshot of one task's current record.
func (m *Manager) Status(id string) (Record, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return Record{}, coreerr.New(coreerr.NotFound, "taskmanager.Status", "task_id")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record, nil
}

// Cancel requests cooperative cancellation of a task. It is a no-op (not
// an error) if the task is already terminal.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return coreerr.New(coreerr.NotFound, "taskmanager.Cancel", "task_id")
	}
	t.mu.Lock()
	terminal := t.record.State.terminal()
	t.mu.Unlock()
	if terminal {
		return nil
	}
	t.cancel.cancel()
	return nil
}

// List enumerates every tracked task, in no particular order.
func (m *Manager) List() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.tasks))
	for _, t := range m.tasks {
		t.mu.Lock()
		out = append(out, t.record)
		t.mu.Unlock()
	}
	return out
}

// Cleanup drops every terminal task whose CompletedAt is older than
// olderThan relative to now, returning the count removed.
func (m *Manager) Cleanup(now time.Time, olderThan time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, t := range m.tasks {
		t.mu.Lock()
		drop := t.record.State.terminal() && now.Sub(t.record.CompletedAt) >= olderThan
		t.mu.Unlock()
		if drop {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}

// timeNow is the manager's only clock read, isolated so tests can't be
// broken by wall-clock flakiness in CreatedAt/CompletedAt comparisons
// without also controlling this function.
var timeNow = time.Now
