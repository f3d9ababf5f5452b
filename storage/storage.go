package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"

	"prism-tasks/domain"
)

const snapshotVersion = 1

// History is the persisted form of the undo/redo stacks.
type History struct {
	Past   [][]domain.Task `json:"past"`
	Future [][]domain.Task `json:"future"`
}

// Snapshot is everything persisted for a board.
type Snapshot struct {
	Version int            `json:"version"`
	SavedAt time.Time      `json:"savedAt"`
	Tasks   []domain.Task  `json:"tasks"`
	History History        `json:"history"`
	Filters domain.Filters `json:"filters"`
}

// Persister saves and loads board snapshots. Load returns a nil snapshot and
// a nil error when nothing usable is stored, including corrupt data.
type Persister interface {
	Save(ctx context.Context, s Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
	Clear(ctx context.Context) error
}

func encodeSnapshot(s Snapshot) ([]byte, error) {
	s.Version = snapshotVersion
	if s.Tasks == nil {
		s.Tasks = []domain.Task{}
	}
	return sonic.Marshal(s)
}

// decodeSnapshot returns nil for payloads that cannot be used.
func decodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := sonic.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Tasks == nil {
		s.Tasks = []domain.Task{}
	}
	return &s, nil
}
