package view

import (
	"sync"

	"prism-tasks/domain"
	"prism-tasks/store"
)

// Source exposes the current task state and its revision.
type Source interface {
	Snapshot() (store.State, uint64)
}

// FilterSource exposes the current filters.
type FilterSource interface {
	Get() domain.Filters
}

// Board is the view handed to clients: the filtered list plus the history
// flags needed to enable undo/redo controls.
type Board struct {
	Revision uint64         `json:"revision"`
	Filters  domain.Filters `json:"filters"`
	Tasks    []domain.Task  `json:"tasks"`
	CanUndo  bool           `json:"canUndo"`
	CanRedo  bool           `json:"canRedo"`
}

// Engine memoizes derived views. A cached result is reused while the store
// revision, the filters and (for stats) the current day are unchanged.
// Returned slices and maps are shared between callers and must not be
// modified.
type Engine struct {
	src     Source
	filters FilterSource
	clock   domain.Clock

	mu         sync.Mutex
	filtered   filteredEntry
	stats      statsEntry
	categories categoriesEntry
}

type filteredEntry struct {
	ok      bool
	rev     uint64
	filters domain.Filters
	tasks   []domain.Task
}

type statsEntry struct {
	ok    bool
	rev   uint64
	day   string
	stats Stats
}

type categoriesEntry struct {
	ok   bool
	rev  uint64
	list []string
}

// NewEngine creates an Engine reading from src and filters.
func NewEngine(src Source, filters FilterSource, clock domain.Clock) *Engine {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Engine{src: src, filters: filters, clock: clock}
}

// Board returns the filtered view under the current filters.
func (e *Engine) Board() Board {
	st, rev := e.src.Snapshot()
	f := e.filters.Get()
	return Board{
		Revision: rev,
		Filters:  f,
		Tasks:    e.filteredFor(st, rev, f),
		CanUndo:  len(st.Past) > 0,
		CanRedo:  len(st.Future) > 0,
	}
}

// FilteredTasks returns the filtered view under the current filters.
func (e *Engine) FilteredTasks() []domain.Task {
	st, rev := e.src.Snapshot()
	return e.filteredFor(st, rev, e.filters.Get())
}

func (e *Engine) filteredFor(st store.State, rev uint64, f domain.Filters) []domain.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c := e.filtered; c.ok && c.rev == rev && c.filters == f {
		return c.tasks
	}
	tasks := FilteredTasks(st.Tasks, f)
	e.filtered = filteredEntry{ok: true, rev: rev, filters: f, tasks: tasks}
	return tasks
}

// Stats returns the statistics for the current collection.
func (e *Engine) Stats() Stats {
	st, rev := e.src.Snapshot()
	now := e.clock.Now()
	day := now.UTC().Format(dayLayout)

	e.mu.Lock()
	defer e.mu.Unlock()
	if c := e.stats; c.ok && c.rev == rev && c.day == day {
		return c.stats
	}
	stats := TaskStats(st.Tasks, now)
	e.stats = statsEntry{ok: true, rev: rev, day: day, stats: stats}
	return stats
}

// Categories returns the distinct categories of the current collection.
func (e *Engine) Categories() []string {
	st, rev := e.src.Snapshot()

	e.mu.Lock()
	defer e.mu.Unlock()
	if c := e.categories; c.ok && c.rev == rev {
		return c.list
	}
	list := UniqueCategories(st.Tasks)
	e.categories = categoriesEntry{ok: true, rev: rev, list: list}
	return list
}
