// Package transfer converts the task collection to and from its portable
// JSON form.
package transfer

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"prism-tasks/domain"
)

const (
	// MaxImportSize bounds the accepted import payload.
	MaxImportSize = 8 << 20 // 8 MiB

	exportPrefix = "tasks-export-"
	exportSuffix = ".json"
)

// Import parses blob as a JSON array of tasks and validates every record.
// Each record needs a non-empty id and title, a boolean completed flag and a
// createdAt timestamp; ids must be unique. Missing optional fields take their
// defaults. Timestamps may carry an offset (RFC 3339), be a local date-time
// without one, or be a bare date; the last two are read as UTC. An updatedAt
// earlier than createdAt is raised to createdAt. The first problem found is
// returned as a *domain.ValidationError and no tasks are returned.
func Import(blob []byte) ([]domain.Task, error) {
	var raw any
	if err := sonic.Unmarshal(blob, &raw); err != nil {
		return nil, &domain.ValidationError{Index: -1, Reason: "invalid JSON", Err: err}
	}
	records, ok := raw.([]any)
	if !ok {
		return nil, &domain.ValidationError{Index: -1, Err: domain.ErrNotArray}
	}

	tasks := make([]domain.Task, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for i, r := range records {
		fields, ok := r.(map[string]any)
		if !ok {
			return nil, domain.Invalid(i, "", "expected an object")
		}
		task, err := decodeRecord(i, fields)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[task.ID]; dup {
			return nil, domain.Invalid(i, "id", fmt.Sprintf("duplicate id %q", task.ID))
		}
		seen[task.ID] = struct{}{}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func decodeRecord(i int, fields map[string]any) (domain.Task, error) {
	var t domain.Task
	var err error

	if t.ID, err = requiredString(i, fields, "id"); err != nil {
		return t, err
	}
	if t.Title, err = requiredString(i, fields, "title"); err != nil {
		return t, err
	}
	completed, ok := fields["completed"].(bool)
	if !ok {
		return t, domain.Invalid(i, "completed", "must be a boolean")
	}
	t.Completed = completed

	if t.Description, err = optionalString(i, fields, "description"); err != nil {
		return t, err
	}
	if t.Category, err = optionalString(i, fields, "category"); err != nil {
		return t, err
	}
	if t.Category == "" {
		t.Category = domain.DefaultCategory
	}
	priority, err := optionalString(i, fields, "priority")
	if err != nil {
		return t, err
	}
	t.Priority = domain.Priority(priority)
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	} else if !t.Priority.Valid() {
		return t, domain.Invalid(i, "priority", fmt.Sprintf("unknown priority %q", priority))
	}

	created, err := requiredString(i, fields, "createdAt")
	if err != nil {
		return t, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return t, &domain.ValidationError{Index: i, Field: "createdAt", Reason: "invalid timestamp", Err: err}
	}
	updated, err := optionalString(i, fields, "updatedAt")
	if err != nil {
		return t, err
	}
	t.UpdatedAt = t.CreatedAt
	if updated != "" {
		u, err := parseTime(updated)
		if err != nil {
			return t, &domain.ValidationError{Index: i, Field: "updatedAt", Reason: "invalid timestamp", Err: err}
		}
		if u.After(t.CreatedAt) {
			t.UpdatedAt = u
		}
	}
	return t, nil
}

func requiredString(i int, fields map[string]any, name string) (string, error) {
	v, present := fields[name]
	if !present || v == nil {
		return "", domain.Invalid(i, name, "missing required field")
	}
	s, ok := v.(string)
	if !ok {
		return "", domain.Invalid(i, name, "must be a string")
	}
	if s == "" {
		return "", domain.Invalid(i, name, "must not be empty")
	}
	return s, nil
}

func optionalString(i int, fields map[string]any, name string) (string, error) {
	v, present := fields[name]
	if !present || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", domain.Invalid(i, name, "must be a string")
	}
	return s, nil
}

// importLayouts are tried in order. Layouts without an offset parse as UTC.
var importLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	var err error
	for _, layout := range importLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}

// Export encodes tasks as two-space indented JSON.
func Export(tasks []domain.Task) ([]byte, error) {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return sonic.ConfigStd.MarshalIndent(tasks, "", "  ")
}

// ExportFileName names an export made at now, e.g. tasks-export-2024-06-10.json.
func ExportFileName(now time.Time) string {
	return exportPrefix + now.UTC().Format("2006-01-02") + exportSuffix
}
