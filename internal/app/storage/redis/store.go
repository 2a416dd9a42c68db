// Package redis stores raffle snapshots as a JSON document under one key.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"github.com/R3E-Network/neoraffle/internal/app/storage"
	"github.com/R3E-Network/neoraffle/internal/raffle"
)

// DefaultKey holds the snapshot when no key is configured. History lives
// under the same prefix.
const DefaultKey = "raffle:snapshot"

const maxWinners = 1000

// Options configures the connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Store implements the snapshot store backed by Redis.
type Store struct {
	client *goredis.Client
	key    string
}

var _ storage.Store = (*Store)(nil)

// New wraps an existing client.
func New(client *goredis.Client, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{client: client, key: key}
}

// Open connects and pings the server.
func Open(ctx context.Context, opts Options) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return New(client, opts.Key), nil
}

// Save writes the snapshot without expiry.
func (s *Store) Save(ctx context.Context, snap raffle.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot.
func (s *Store) Load(ctx context.Context) (raffle.Snapshot, bool, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return raffle.Snapshot{}, false, nil
	}
	if err != nil {
		return raffle.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	var snap raffle.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return raffle.Snapshot{}, false, fmt.Errorf("%w: %v", raffle.ErrInvalidSnapshot, err)
	}
	return snap, true, nil
}

// RecordWinner pushes w onto the history list. The request id is claimed in
// a set first so replays are ignored.
func (s *Store) RecordWinner(ctx context.Context, w storage.Winner) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	added, err := s.client.SAdd(ctx, s.key+":winner_ids", w.RequestID).Result()
	if err != nil {
		return fmt.Errorf("record winner: %w", err)
	}
	if added == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key+":winners", data)
	pipe.LTrim(ctx, s.key+":winners", 0, maxWinners-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record winner: %w", err)
	}
	return nil
}

// ListWinners returns up to limit payouts, newest first.
func (s *Store) ListWinners(ctx context.Context, limit int) ([]storage.Winner, error) {
	if limit <= 0 {
		limit = storage.DefaultWinnerLimit
	}
	items, err := s.client.LRange(ctx, s.key+":winners", 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list winners: %w", err)
	}
	winners := make([]storage.Winner, 0, len(items))
	for _, item := range items {
		var w storage.Winner
		if err := json.Unmarshal([]byte(item), &w); err != nil {
			return nil, fmt.Errorf("decode winner: %w", err)
		}
		winners = append(winners, w)
	}
	return winners, nil
}

// Backend implements storage.SnapshotStore.
func (s *Store) Backend() string { return storage.BackendRedis }

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
