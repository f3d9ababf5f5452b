package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-tasks/domain"
)

const (
	taskRowPrefix    = "task-"
	historyRowPrefix = "history-"
	filtersRowKey    = "filters"

	// Table string properties are limited to 64 KiB of UTF-16, so the
	// base64 encoded history is split into ASCII chunks well below that.
	historyChunkSize = 30000
)

// TablePersister stores a board in Azure Table Storage under one partition:
// a row per task keyed by position, a filters row and the history split into
// chunk rows.
type TablePersister struct {
	table *aztables.Client
	board string
}

// NewTablePersister creates a persister for boardID in tableName.
func NewTablePersister(connStr, tableName, boardID string) (*TablePersister, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &TablePersister{table: svc.NewClient(tableName), board: boardID}, nil
}

type rowKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskRow struct {
	rowKeys
	ID          string `json:"ID"`
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Category    string `json:"Category"`
	Priority    string `json:"Priority"`
	Completed   bool   `json:"Completed"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt"`
}

type filtersRow struct {
	rowKeys
	Version          int    `json:"Version"`
	SavedAt          string `json:"SavedAt"`
	Status           string `json:"Status"`
	SearchQuery      string `json:"SearchQuery"`
	SelectedCategory string `json:"SelectedCategory"`
}

type historyRow struct {
	rowKeys
	Chunk string `json:"Chunk"`
}

func taskRowKey(i int) string    { return fmt.Sprintf("%s%08d", taskRowPrefix, i) }
func historyRowKey(i int) string { return fmt.Sprintf("%s%04d", historyRowPrefix, i) }

// encodeRows turns a snapshot into table entities, returned with their row
// keys in the same order.
func encodeRows(board string, s Snapshot) ([][]byte, []string, error) {
	rows := make([][]byte, 0, len(s.Tasks)+2)
	keys := make([]string, 0, len(s.Tasks)+2)
	add := func(rk string, v any) error {
		data, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		rows = append(rows, data)
		keys = append(keys, rk)
		return nil
	}

	for i, t := range s.Tasks {
		rk := taskRowKey(i)
		row := taskRow{
			rowKeys:     rowKeys{PartitionKey: board, RowKey: rk},
			ID:          t.ID,
			Title:       t.Title,
			Description: t.Description,
			Category:    t.Category,
			Priority:    string(t.Priority),
			Completed:   t.Completed,
			CreatedAt:   t.CreatedAt.Format(time.RFC3339Nano),
			UpdatedAt:   t.UpdatedAt.Format(time.RFC3339Nano),
		}
		if err := add(rk, row); err != nil {
			return nil, nil, err
		}
	}

	fr := filtersRow{
		rowKeys:          rowKeys{PartitionKey: board, RowKey: filtersRowKey},
		Version:          snapshotVersion,
		SavedAt:          s.SavedAt.UTC().Format(time.RFC3339Nano),
		Status:           string(s.Filters.Status),
		SearchQuery:      s.Filters.SearchQuery,
		SelectedCategory: s.Filters.SelectedCategory,
	}
	if err := add(filtersRowKey, fr); err != nil {
		return nil, nil, err
	}

	hist, err := sonic.Marshal(s.History)
	if err != nil {
		return nil, nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(hist)
	for i := 0; len(encoded) > 0; i++ {
		n := min(historyChunkSize, len(encoded))
		rk := historyRowKey(i)
		if err := add(rk, historyRow{rowKeys: rowKeys{PartitionKey: board, RowKey: rk}, Chunk: encoded[:n]}); err != nil {
			return nil, nil, err
		}
		encoded = encoded[n:]
	}
	return rows, keys, nil
}

// decodeRows rebuilds a snapshot from the entities of one partition. It
// returns nil when the partition holds no filters row, which every save
// writes.
func decodeRows(rows [][]byte) (*Snapshot, error) {
	type keyed struct {
		rk   string
		data []byte
	}
	var (
		tasks   []keyed
		history []keyed
		filters *filtersRow
	)
	for _, data := range rows {
		var k rowKeys
		if err := sonic.Unmarshal(data, &k); err != nil {
			return nil, err
		}
		switch {
		case strings.HasPrefix(k.RowKey, taskRowPrefix):
			tasks = append(tasks, keyed{rk: k.RowKey, data: data})
		case strings.HasPrefix(k.RowKey, historyRowPrefix):
			history = append(history, keyed{rk: k.RowKey, data: data})
		case k.RowKey == filtersRowKey:
			var fr filtersRow
			if err := sonic.Unmarshal(data, &fr); err != nil {
				return nil, err
			}
			filters = &fr
		}
	}
	if filters == nil {
		return nil, nil
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].rk < tasks[j].rk })
	sort.Slice(history, func(i, j int) bool { return history[i].rk < history[j].rk })

	s := &Snapshot{
		Version: filters.Version,
		Tasks:   make([]domain.Task, 0, len(tasks)),
		Filters: domain.Filters{
			Status:           domain.StatusFilter(filters.Status),
			SearchQuery:      filters.SearchQuery,
			SelectedCategory: filters.SelectedCategory,
		},
	}
	if filters.SavedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, filters.SavedAt); err == nil {
			s.SavedAt = t
		}
	}

	for _, k := range tasks {
		var row taskRow
		if err := sonic.Unmarshal(k.data, &row); err != nil {
			return nil, err
		}
		created, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("row %s: createdAt: %w", k.rk, err)
		}
		updated, err := time.Parse(time.RFC3339Nano, row.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("row %s: updatedAt: %w", k.rk, err)
		}
		s.Tasks = append(s.Tasks, domain.Task{
			ID:          row.ID,
			Title:       row.Title,
			Description: row.Description,
			Category:    row.Category,
			Priority:    domain.Priority(row.Priority),
			Completed:   row.Completed,
			CreatedAt:   created,
			UpdatedAt:   updated,
		})
	}

	if len(history) > 0 {
		var sb strings.Builder
		for _, k := range history {
			var row historyRow
			if err := sonic.Unmarshal(k.data, &row); err != nil {
				return nil, err
			}
			sb.WriteString(row.Chunk)
		}
		raw, err := base64.StdEncoding.DecodeString(sb.String())
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		if err := sonic.Unmarshal(raw, &s.History); err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
	}
	return s, nil
}

func (p *TablePersister) partitionFilter() string {
	return "PartitionKey eq '" + strings.ReplaceAll(p.board, "'", "''") + "'"
}

func (p *TablePersister) listRows(ctx context.Context, selectKeys bool) ([][]byte, error) {
	filter := p.partitionFilter()
	opts := &aztables.ListEntitiesOptions{Filter: &filter}
	if selectKeys {
		sel := "PartitionKey,RowKey"
		opts.Select = &sel
	}
	pager := p.table.NewListEntitiesPager(opts)
	rows := [][]byte{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		rows = append(rows, resp.Entities...)
	}
	return rows, nil
}

func (p *TablePersister) existingKeys(ctx context.Context) ([]string, error) {
	rows, err := p.listRows(ctx, true)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	keys := make([]string, 0, len(rows))
	for _, data := range rows {
		var k rowKeys
		if err := sonic.Unmarshal(data, &k); err != nil {
			return nil, err
		}
		keys = append(keys, k.RowKey)
	}
	return keys, nil
}

func (p *TablePersister) Save(ctx context.Context, s Snapshot) error {
	rows, keys, err := encodeRows(p.board, s)
	if err != nil {
		return err
	}
	existing, err := p.existingKeys(ctx)
	if err != nil {
		return err
	}
	for i, row := range rows {
		if _, err := p.table.UpsertEntity(ctx, row, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
			return fmt.Errorf("upsert %s: %w", keys[i], err)
		}
	}
	present := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		present[k] = struct{}{}
	}
	for _, rk := range existing {
		if _, ok := present[rk]; ok {
			continue
		}
		if err := p.delete(ctx, rk); err != nil {
			return err
		}
	}
	return nil
}

func (p *TablePersister) Load(ctx context.Context) (*Snapshot, error) {
	rows, err := p.listRows(ctx, false)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	s, err := decodeRows(rows)
	if err != nil {
		log.WithError(err).WithField("board", p.board).Warn("discarding unreadable table snapshot")
		return nil, nil
	}
	return s, nil
}

func (p *TablePersister) Clear(ctx context.Context) error {
	keys, err := p.existingKeys(ctx)
	if err != nil {
		return err
	}
	for _, rk := range keys {
		if err := p.delete(ctx, rk); err != nil {
			return err
		}
	}
	return nil
}

func (p *TablePersister) delete(ctx context.Context, rk string) error {
	if _, err := p.table.DeleteEntity(ctx, p.board, rk, nil); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete %s: %w", rk, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
