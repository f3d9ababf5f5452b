package domain

import "github.com/bytedance/sonic"

const (
	AddTask      = "add-task"
	UpdateTask   = "update-task"
	DeleteTask   = "delete-task"
	ToggleTask   = "toggle-task"
	ReorderTasks = "reorder-tasks"
	ImportTasks  = "import-tasks"
	ClearTasks   = "clear-tasks"
	Undo         = "undo"
	Redo         = "redo"
)

// Command represents a mutation request for the task store.
type Command struct {
	IdempotencyKey string                 `json:"idempotencyKey,omitempty"`
	Type           string                 `json:"type"`
	Data           sonic.NoCopyRawMessage `json:"data,omitempty"`
}

// TaskRef addresses a task by id.
type TaskRef struct {
	ID string `json:"id"`
}

// UpdateTaskData is the payload of an update-task command.
type UpdateTaskData struct {
	ID      string    `json:"id"`
	Updates TaskPatch `json:"updates"`
}

// ReorderData is the payload of a reorder-tasks command.
type ReorderData struct {
	SourceIndex      int `json:"sourceIndex"`
	DestinationIndex int `json:"destinationIndex"`
}

// Event records an applied mutation for the journal.
type Event struct {
	ID       string `json:"id"`
	BoardID  string `json:"boardId"`
	Type     string `json:"type"`
	TaskID   string `json:"taskId,omitempty"`
	Revision uint64 `json:"revision"`
	Time     int64  `json:"time"`
}
