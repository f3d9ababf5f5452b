// Package view derives read models from the task collection: the filtered
// list, aggregate statistics and the category set. Every function here is
// pure and never modifies its arguments.
package view

import (
	"math"
	"sort"
	"strings"
	"time"

	"prism-tasks/domain"
)

const (
	dayLayout = "2006-01-02"
	statsDays = 7
)

// PriorityCounts is the per-priority histogram.
type PriorityCounts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// DayCount is the number of tasks created on a calendar day.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Stats aggregates the collection for the dashboard.
type Stats struct {
	Total          int            `json:"total"`
	Completed      int            `json:"completed"`
	Active         int            `json:"active"`
	CompletionRate int            `json:"completionRate"`
	ByCategory     map[string]int `json:"byCategory"`
	ByPriority     PriorityCounts `json:"byPriority"`
	TasksByDate    []DayCount     `json:"tasksByDate"`
}

// FilteredTasks applies the status, category and search filters in that
// order. The relative order of tasks is preserved.
func FilteredTasks(tasks []domain.Task, f domain.Filters) []domain.Task {
	query := strings.ToLower(f.SearchQuery)
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		switch f.Status {
		case domain.StatusActive:
			if t.Completed {
				continue
			}
		case domain.StatusCompleted:
			if !t.Completed {
				continue
			}
		}
		if f.SelectedCategory != "" && f.SelectedCategory != domain.AllCategories && t.Category != f.SelectedCategory {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(t.Title), query) &&
			!strings.Contains(strings.ToLower(t.Description), query) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// TaskStats computes totals and histograms. tasksByDate covers the seven UTC
// calendar days ending on now, oldest first; a task counts towards the day
// its createdAt is encoded in, without converting its zone.
func TaskStats(tasks []domain.Task, now time.Time) Stats {
	st := Stats{
		Total:       len(tasks),
		ByCategory:  map[string]int{},
		TasksByDate: make([]DayCount, statsDays),
	}

	created := make(map[string]int, len(tasks))
	for _, t := range tasks {
		if t.Completed {
			st.Completed++
		}
		st.ByCategory[t.Category]++
		switch t.Priority {
		case domain.PriorityHigh:
			st.ByPriority.High++
		case domain.PriorityMedium:
			st.ByPriority.Medium++
		case domain.PriorityLow:
			st.ByPriority.Low++
		}
		if !t.CreatedAt.IsZero() {
			created[t.CreatedAt.Format(dayLayout)]++
		}
	}
	st.Active = st.Total - st.Completed
	if st.Total > 0 {
		st.CompletionRate = int(math.Round(100 * float64(st.Completed) / float64(st.Total)))
	}

	today := now.UTC()
	for i := 0; i < statsDays; i++ {
		day := today.AddDate(0, 0, i-(statsDays-1)).Format(dayLayout)
		st.TasksByDate[i] = DayCount{Date: day, Count: created[day]}
	}
	return st
}

// UniqueCategories returns the distinct categories in ascending order.
func UniqueCategories(tasks []domain.Task) []string {
	seen := make(map[string]struct{}, len(tasks))
	out := make([]string, 0)
	for _, t := range tasks {
		if _, ok := seen[t.Category]; ok {
			continue
		}
		seen[t.Category] = struct{}{}
		out = append(out, t.Category)
	}
	sort.Strings(out)
	return out
}
