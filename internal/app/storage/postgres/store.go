package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/neoraffle/internal/app/storage"
	"github.com/R3E-Network/neoraffle/internal/raffle"
)

// Store implements the snapshot store backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn, verifies the connection and applies migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

type snapshotRow struct {
	State         string    `db:"state"`
	Entrants      []byte    `db:"entrants"`
	Pot           int64     `db:"pot"`
	RecentWinner  string    `db:"recent_winner"`
	LastTimestamp time.Time `db:"last_timestamp"`
	TakenAt       time.Time `db:"taken_at"`
	Balances      []byte    `db:"balances"`
}

// Save upserts the single snapshot row.
func (s *Store) Save(ctx context.Context, snap raffle.Snapshot) error {
	entrants := snap.Entrants
	if entrants == nil {
		entrants = []string{}
	}
	entrantsJSON, err := json.Marshal(entrants)
	if err != nil {
		return err
	}
	// NULL when the bank does not checkpoint balances.
	var balancesJSON any
	if snap.Balances != nil {
		data, err := json.Marshal(snap.Balances)
		if err != nil {
			return err
		}
		balancesJSON = data
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO raffle_snapshots (id, state, entrants, pot, recent_winner, last_timestamp, taken_at, balances)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state,
			entrants = EXCLUDED.entrants,
			pot = EXCLUDED.pot,
			recent_winner = EXCLUDED.recent_winner,
			last_timestamp = EXCLUDED.last_timestamp,
			taken_at = EXCLUDED.taken_at,
			balances = EXCLUDED.balances
	`, snap.State.String(), entrantsJSON, snap.Pot, snap.RecentWinner, snap.LastTimestamp.UTC(), snap.TakenAt.UTC(), balancesJSON)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot row.
func (s *Store) Load(ctx context.Context) (raffle.Snapshot, bool, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `
		SELECT state, entrants, pot, recent_winner, last_timestamp, taken_at, balances
		FROM raffle_snapshots
		WHERE id = 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return raffle.Snapshot{}, false, nil
	}
	if err != nil {
		return raffle.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}

	state, err := raffle.ParseState(row.State)
	if err != nil {
		return raffle.Snapshot{}, false, fmt.Errorf("%w: %v", raffle.ErrInvalidSnapshot, err)
	}
	var entrants []string
	if len(row.Entrants) > 0 {
		if err := json.Unmarshal(row.Entrants, &entrants); err != nil {
			return raffle.Snapshot{}, false, fmt.Errorf("%w: entrants: %v", raffle.ErrInvalidSnapshot, err)
		}
	}
	var balances map[string]int64
	if len(row.Balances) > 0 {
		if err := json.Unmarshal(row.Balances, &balances); err != nil {
			return raffle.Snapshot{}, false, fmt.Errorf("%w: balances: %v", raffle.ErrInvalidSnapshot, err)
		}
	}
	return raffle.Snapshot{
		State:         state,
		Entrants:      entrants,
		Pot:           row.Pot,
		RecentWinner:  row.RecentWinner,
		LastTimestamp: row.LastTimestamp.UTC(),
		TakenAt:       row.TakenAt.UTC(),
		Balances:      balances,
	}, true, nil
}

// RecordWinner appends a payout to the history.
func (s *Store) RecordWinner(ctx context.Context, w storage.Winner) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raffle_winners (request_id, winner, payout, picked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (request_id) DO NOTHING
	`, int64(w.RequestID), w.Winner, w.Payout, w.PickedAt.UTC())
	if err != nil {
		return fmt.Errorf("record winner: %w", err)
	}
	return nil
}

// ListWinners returns up to limit payouts, newest first.
func (s *Store) ListWinners(ctx context.Context, limit int) ([]storage.Winner, error) {
	if limit <= 0 {
		limit = storage.DefaultWinnerLimit
	}
	var winners []storage.Winner
	if err := s.db.SelectContext(ctx, &winners, `
		SELECT request_id, winner, payout, picked_at
		FROM raffle_winners
		ORDER BY picked_at DESC
		LIMIT $1
	`, limit); err != nil {
		return nil, fmt.Errorf("list winners: %w", err)
	}
	return winners, nil
}

// Backend implements storage.SnapshotStore.
func (s *Store) Backend() string { return storage.BackendPostgres }

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
