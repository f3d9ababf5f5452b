package domain

// AllCategories disables category filtering.
const AllCategories = "all"

// StatusFilter selects tasks by completion.
type StatusFilter string

const (
	StatusAll       StatusFilter = "all"
	StatusActive    StatusFilter = "active"
	StatusCompleted StatusFilter = "completed"
)

// Valid reports whether s is one of the known status filters.
func (s StatusFilter) Valid() bool {
	switch s {
	case StatusAll, StatusActive, StatusCompleted:
		return true
	}
	return false
}

// Filters is the user's current view selection. It is not part of history.
type Filters struct {
	Status           StatusFilter `json:"status"`
	SearchQuery      string       `json:"searchQuery"`
	SelectedCategory string       `json:"selectedCategory"`
}

// DefaultFilters shows every task.
func DefaultFilters() Filters {
	return Filters{Status: StatusAll, SearchQuery: "", SelectedCategory: AllCategories}
}
