package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS board_snapshots (
	board_id TEXT PRIMARY KEY,
	data     JSONB NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL
)`

// PostgresPersister stores one row per board in board_snapshots.
type PostgresPersister struct {
	db    *sql.DB
	board string
}

// OpenPostgres connects to connString, verifies the connection and makes sure
// the snapshot table exists.
func OpenPostgres(ctx context.Context, connString string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}

func NewPostgresPersister(db *sql.DB, boardID string) *PostgresPersister {
	return &PostgresPersister{db: db, board: boardID}
}

func (p *PostgresPersister) Save(ctx context.Context, s Snapshot) error {
	data, err := encodeSnapshot(s)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO board_snapshots (board_id, data, saved_at) VALUES ($1, $2, $3)
		 ON CONFLICT (board_id) DO UPDATE SET data = EXCLUDED.data, saved_at = EXCLUDED.saved_at`,
		p.board, data, s.SavedAt.UTC())
	return err
}

func (p *PostgresPersister) Load(ctx context.Context) (*Snapshot, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx, `SELECT data FROM board_snapshots WHERE board_id = $1`, p.board).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s, err := decodeSnapshot(data)
	if err != nil {
		log.WithError(err).WithField("board", p.board).Warn("discarding unreadable snapshot")
		return nil, nil
	}
	return s, nil
}

func (p *PostgresPersister) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM board_snapshots WHERE board_id = $1`, p.board)
	return err
}
