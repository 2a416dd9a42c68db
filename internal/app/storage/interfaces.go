package storage

import (
	"context"
	"time"

	"github.com/R3E-Network/neoraffle/internal/raffle"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// DefaultWinnerLimit bounds ListWinners when no limit is given.
const DefaultWinnerLimit = 50

// Winner is a row of the payout history.
type Winner struct {
	RequestID uint64    `db:"request_id" json:"request_id"`
	Winner    string    `db:"winner" json:"winner"`
	Payout    int64     `db:"payout" json:"payout"`
	PickedAt  time.Time `db:"picked_at" json:"picked_at"`
}

// WinnerHistory records completed draws.
type WinnerHistory interface {
	// RecordWinner ignores a request id that was already recorded.
	RecordWinner(ctx context.Context, w Winner) error
	// ListWinners returns up to limit payouts, newest first.
	ListWinners(ctx context.Context, limit int) ([]Winner, error)
}

// Store persists raffle snapshots and payout history and owns its connection.
type Store interface {
	raffle.SnapshotStore
	WinnerHistory
	// Backend names the storage engine, used as a metrics label.
	Backend() string
	Close() error
}
