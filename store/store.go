package store

import (
	"sync"

	"prism-tasks/domain"
)

// Change describes a state transition that has been fully applied.
type Change struct {
	Revision uint64
	Action   string
	TaskID   string
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects the time source used for task timestamps.
func WithClock(c domain.Clock) Option {
	return func(s *Store) { s.r.clock = c }
}

// WithIDs injects the task id generator.
func WithIDs(g domain.IDGenerator) Option {
	return func(s *Store) { s.r.ids = g }
}

// WithHistoryLimit caps the number of undo checkpoints kept. Zero or a
// negative value keeps all of them.
func WithHistoryLimit(n int) Option {
	return func(s *Store) {
		if n < 0 {
			n = 0
		}
		s.r.limit = n
	}
}

// WithState seeds the store, typically from a persisted snapshot.
func WithState(st State) Option {
	return func(s *Store) { s.state = st }
}

// Store owns the task collection and its undo/redo history. Every operation
// is applied atomically; hooks registered with OnChange run after the new
// state is installed and outside the lock.
type Store struct {
	mu       sync.RWMutex
	state    State
	r        reducer
	revision uint64
	hooks    []func(Change)
}

// New creates a Store. Without options it starts empty and uses the system
// clock and UUID ids.
func New(opts ...Option) *Store {
	s := &Store{
		state: State{Tasks: []domain.Task{}},
		r:     reducer{clock: domain.SystemClock{}, ids: domain.UUIDGenerator{}},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.state.Tasks == nil {
		s.state.Tasks = []domain.Task{}
	}
	if s.r.limit > 0 && len(s.state.Past) > s.r.limit {
		s.state.Past = s.state.Past[len(s.state.Past)-s.r.limit:]
	}
	return s
}

// OnChange registers fn to be called after every applied transition.
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// apply runs fn against the current state under the write lock and
// publishes the result. fn may override the task id reported in the Change.
func (s *Store) apply(action, taskID string, fn func(State) (State, string)) {
	s.mu.Lock()
	next, id := fn(s.state)
	if id != "" {
		taskID = id
	}
	s.state = next
	s.revision++
	ch := Change{Revision: s.revision, Action: action, TaskID: taskID}
	hooks := s.hooks
	s.mu.Unlock()

	for _, h := range hooks {
		h(ch)
	}
}

func keep(fn func(State) State) func(State) (State, string) {
	return func(st State) (State, string) { return fn(st), "" }
}

// AddTask appends a new task and returns it.
func (s *Store) AddTask(f domain.NewTask) domain.Task {
	var created domain.Task
	s.apply(domain.AddTask, "", func(st State) (State, string) {
		var next State
		next, created = s.r.add(st, f)
		return next, created.ID
	})
	return created
}

// UpdateTask merges the patch into the task with the given id. An unknown id
// still consumes a history slot.
func (s *Store) UpdateTask(id string, p domain.TaskPatch) {
	s.apply(domain.UpdateTask, id, keep(func(st State) State { return s.r.update(st, id, p) }))
}

// DeleteTask removes the task with the given id, if any.
func (s *Store) DeleteTask(id string) {
	s.apply(domain.DeleteTask, id, keep(func(st State) State { return s.r.remove(st, id) }))
}

// ToggleTask flips the completion flag of the task with the given id, if any.
func (s *Store) ToggleTask(id string) {
	s.apply(domain.ToggleTask, id, keep(func(st State) State { return s.r.toggle(st, id) }))
}

// ReorderTasks moves the task at src to dst. Both must be valid indices into
// the current collection; callers are expected to check with Len.
func (s *Store) ReorderTasks(src, dst int) {
	s.apply(domain.ReorderTasks, "", keep(func(st State) State { return s.r.reorder(st, src, dst) }))
}

// ImportTasks replaces the whole collection.
func (s *Store) ImportTasks(tasks []domain.Task) {
	s.apply(domain.ImportTasks, "", keep(func(st State) State { return s.r.replace(st, tasks) }))
}

// ClearAllTasks empties the collection.
func (s *Store) ClearAllTasks() {
	s.apply(domain.ClearTasks, "", keep(s.r.clear))
}

// Undo steps back one checkpoint. It reports whether anything changed.
func (s *Store) Undo() bool {
	return s.step(domain.Undo, s.r.undo)
}

// Redo re-applies the most recently undone state. It reports whether
// anything changed.
func (s *Store) Redo() bool {
	return s.step(domain.Redo, s.r.redo)
}

func (s *Store) step(action string, fn func(State) (State, bool)) bool {
	s.mu.Lock()
	next, moved := fn(s.state)
	if !moved {
		s.mu.Unlock()
		return false
	}
	s.state = next
	s.revision++
	ch := Change{Revision: s.revision, Action: action}
	hooks := s.hooks
	s.mu.Unlock()

	for _, h := range hooks {
		h(ch)
	}
	return true
}

// Tasks returns a copy of the current collection.
func (s *Store) Tasks() []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CloneTasks(s.state.Tasks)
}

// Len returns the number of tasks in the current collection.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Tasks)
}

// Snapshot returns the current state and its revision. The slices are shared
// with the store and must be treated as read-only.
func (s *Store) Snapshot() (State, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.revision
}

// Revision increases by one on every applied transition.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// CanUndo reports whether there is a checkpoint to return to.
func (s *Store) CanUndo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Past) > 0
}

// CanRedo reports whether there is an undone state to re-apply.
func (s *Store) CanRedo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Future) > 0
}

// HistoryDepth returns the sizes of the past and future stacks.
func (s *Store) HistoryDepth() (past, future int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Past), len(s.state.Future)
}
