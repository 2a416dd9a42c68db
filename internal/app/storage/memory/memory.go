package memory

import (
	"context"
	"sync"

	"github.com/R3E-Network/neoraffle/internal/app/storage"
	"github.com/R3E-Network/neoraffle/internal/raffle"
)

// Store is an in-memory snapshot store. It is safe for concurrent use and is
// primarily intended for tests and local development.
type Store struct {
	mu      sync.RWMutex
	snap    raffle.Snapshot
	saved   bool
	winners []storage.Winner
	seen    map[uint64]bool
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{seen: make(map[uint64]bool)}
}

// Save replaces the stored snapshot.
func (s *Store) Save(_ context.Context, snap raffle.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = cloneSnapshot(snap)
	s.saved = true
	return nil
}

// Load returns the stored snapshot.
func (s *Store) Load(_ context.Context) (raffle.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.saved {
		return raffle.Snapshot{}, false, nil
	}
	return cloneSnapshot(s.snap), true, nil
}

// RecordWinner appends w unless its request id is already recorded.
func (s *Store) RecordWinner(_ context.Context, w storage.Winner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[w.RequestID] {
		return nil
	}
	s.seen[w.RequestID] = true
	s.winners = append(s.winners, w)
	return nil
}

// ListWinners returns up to limit payouts, newest first.
func (s *Store) ListWinners(_ context.Context, limit int) ([]storage.Winner, error) {
	if limit <= 0 {
		limit = storage.DefaultWinnerLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Winner, 0, min(limit, len(s.winners)))
	for i := len(s.winners) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.winners[i])
	}
	return out, nil
}

// Backend implements storage.SnapshotStore.
func (s *Store) Backend() string { return storage.BackendMemory }

// Close implements storage.SnapshotStore.
func (s *Store) Close() error { return nil }

func cloneSnapshot(in raffle.Snapshot) raffle.Snapshot {
	out := in
	out.Entrants = append([]string(nil), in.Entrants...)
	if in.Balances != nil {
		out.Balances = make(map[string]int64, len(in.Balances))
		for k, v := range in.Balances {
			out.Balances[k] = v
		}
	}
	return out
}
