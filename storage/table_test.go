package storage

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"prism-tasks/domain"
)

func TestTableRowsRoundTrip(t *testing.T) {
	want := sampleSnapshot()
	rows, keys, err := encodeRows("b1", want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(rows) != len(keys) {
		t.Fatalf("rows and keys differ: %d vs %d", len(rows), len(keys))
	}
	if keys[0] != "task-00000000" || keys[1] != "task-00000001" || keys[2] != filtersRowKey || keys[3] != "history-0000" {
		t.Fatalf("unexpected keys %v", keys)
	}

	got, err := decodeRows(rows)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	assertSnapshot(t, got, want)
	if !got.SavedAt.Equal(want.SavedAt) {
		t.Fatalf("savedAt mismatch: %v", got.SavedAt)
	}
}

func TestTableRowsOrderIndependent(t *testing.T) {
	s := Snapshot{Filters: domain.DefaultFilters()}
	created := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		s.Tasks = append(s.Tasks, domain.Task{ID: fmt.Sprintf("id-%d", i), Title: "t", Category: "General", Priority: domain.PriorityMedium, CreatedAt: created, UpdatedAt: created})
	}
	rows, _, err := encodeRows("b1", s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	r := rand.New(rand.NewSource(1))
	r.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

	got, err := decodeRows(rows)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i, task := range got.Tasks {
		if task.ID != fmt.Sprintf("id-%d", i) {
			t.Fatalf("position %d holds %s", i, task.ID)
		}
	}
}

func TestTableHistoryChunks(t *testing.T) {
	created := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	big := domain.Task{ID: "x", Title: strings.Repeat("long title ", 400), Category: "General", Priority: domain.PriorityMedium, CreatedAt: created, UpdatedAt: created}
	s := Snapshot{Filters: domain.DefaultFilters()}
	for i := 0; i < 20; i++ {
		s.History.Past = append(s.History.Past, []domain.Task{big})
	}

	rows, keys, err := encodeRows("b1", s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	chunks := 0
	for i, k := range keys {
		if !strings.HasPrefix(k, historyRowPrefix) {
			continue
		}
		chunks++
		var row historyRow
		if err := sonic.Unmarshal(rows[i], &row); err != nil {
			t.Fatalf("unmarshal chunk: %v", err)
		}
		if len(row.Chunk) > historyChunkSize {
			t.Fatalf("chunk %s too large: %d", k, len(row.Chunk))
		}
	}
	if chunks < 2 {
		t.Fatalf("expected history split across chunks, got %d", chunks)
	}

	got, err := decodeRows(rows)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.History.Past) != 20 || got.History.Past[19][0].Title != big.Title {
		t.Fatalf("history not restored: %d entries", len(got.History.Past))
	}
}

func TestTableRowsIgnoreServiceMetadata(t *testing.T) {
	rows := [][]byte{
		[]byte(`{"odata.etag":"W/\"1\"","Timestamp":"2024-06-10T09:00:00Z","PartitionKey":"b1","RowKey":"filters","Version":1,"Status":"completed","SearchQuery":"","SelectedCategory":"all"}`),
		[]byte(`{"odata.etag":"W/\"2\"","PartitionKey":"b1","RowKey":"task-00000000","ID":"a","Title":"Buy milk","Category":"General","Priority":"low","Completed":true,"CreatedAt":"2024-06-10T09:00:00Z","UpdatedAt":"2024-06-10T09:00:00Z"}`),
	}
	got, err := decodeRows(rows)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Filters.Status != domain.StatusCompleted || len(got.Tasks) != 1 || !got.Tasks[0].Completed {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if len(got.History.Past) != 0 {
		t.Fatalf("expected empty history")
	}
}

func TestTableRowsWithoutFiltersIsEmpty(t *testing.T) {
	rows := [][]byte{
		[]byte(`{"PartitionKey":"b1","RowKey":"task-00000000","ID":"a","Title":"t","CreatedAt":"2024-06-10T09:00:00Z","UpdatedAt":"2024-06-10T09:00:00Z"}`),
	}
	got, err := decodeRows(rows)
	if err != nil || got != nil {
		t.Fatalf("expected nil snapshot, got %+v, %v", got, err)
	}
}

func TestTableRowsBadTimestamp(t *testing.T) {
	rows := [][]byte{
		[]byte(`{"PartitionKey":"b1","RowKey":"filters","Version":1}`),
		[]byte(`{"PartitionKey":"b1","RowKey":"task-00000000","ID":"a","Title":"t","CreatedAt":"later","UpdatedAt":"2024-06-10T09:00:00Z"}`),
	}
	if _, err := decodeRows(rows); err == nil {
		t.Fatalf("expected error for bad createdAt")
	}
}

func TestPartitionFilterEscapesQuotes(t *testing.T) {
	p := &TablePersister{board: "o'brien"}
	if got := p.partitionFilter(); got != "PartitionKey eq 'o''brien'" {
		t.Fatalf("unexpected filter %q", got)
	}
}
