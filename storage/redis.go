package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisPersister keeps the snapshot of one board under a single key.
type RedisPersister struct {
	client *redis.Client
	key    string
}

// NewRedisPersister stores the snapshot of boardID in client.
func NewRedisPersister(client *redis.Client, boardID string) *RedisPersister {
	return &RedisPersister{client: client, key: snapshotKey(boardID)}
}

func snapshotKey(boardID string) string {
	return "board:" + boardID + ":snapshot"
}

func (r *RedisPersister) Save(ctx context.Context, s Snapshot) error {
	data, err := encodeSnapshot(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key, data, 0).Err()
}

func (r *RedisPersister) Load(ctx context.Context) (*Snapshot, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	s, err := decodeSnapshot(data)
	if err != nil {
		log.WithError(err).WithField("key", r.key).Warn("discarding unreadable snapshot")
		return nil, nil
	}
	return s, nil
}

func (r *RedisPersister) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}
