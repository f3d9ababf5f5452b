package store

import (
	"sync"

	"prism-tasks/domain"
)

// FilterState holds the status, category and search selection. Changes are
// plain replacements and never enter history.
type FilterState struct {
	mu      sync.RWMutex
	filters domain.Filters
	hooks   []func(domain.Filters)
}

// NewFilterState starts from f, or from the defaults when f is nil.
func NewFilterState(f *domain.Filters) *FilterState {
	fs := &FilterState{filters: domain.DefaultFilters()}
	if f != nil {
		fs.filters = *f
		if !fs.filters.Status.Valid() {
			fs.filters.Status = domain.StatusAll
		}
		if fs.filters.SelectedCategory == "" {
			fs.filters.SelectedCategory = domain.AllCategories
		}
	}
	return fs
}

// OnChange registers fn to be called with the new filters after each change.
func (fs *FilterState) OnChange(fn func(domain.Filters)) {
	fs.mu.Lock()
	fs.hooks = append(fs.hooks, fn)
	fs.mu.Unlock()
}

// Get returns the current filters.
func (fs *FilterState) Get() domain.Filters {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.filters
}

func (fs *FilterState) set(fn func(*domain.Filters)) {
	fs.mu.Lock()
	fn(&fs.filters)
	f := fs.filters
	hooks := fs.hooks
	fs.mu.Unlock()

	for _, h := range hooks {
		h(f)
	}
}

func (fs *FilterState) SetStatusFilter(s domain.StatusFilter) {
	fs.set(func(f *domain.Filters) { f.Status = s })
}

func (fs *FilterState) SetSearchQuery(q string) {
	fs.set(func(f *domain.Filters) { f.SearchQuery = q })
}

func (fs *FilterState) SetCategory(c string) {
	fs.set(func(f *domain.Filters) { f.SelectedCategory = c })
}

// Replace swaps all three filters at once.
func (fs *FilterState) Replace(next domain.Filters) {
	fs.set(func(f *domain.Filters) { *f = next })
}

// ClearFilters resets to status=all, empty search and all categories.
func (fs *FilterState) ClearFilters() {
	fs.set(func(f *domain.Filters) { *f = domain.DefaultFilters() })
}
