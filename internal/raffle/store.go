package raffle

import (
	"context"
	"fmt"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/neoraffle/internal/app/metrics"
)

// Snapshot is the persisted form of the round state. Addresses are Neo N3
// address strings. Balances is only filled when the bank implements
// BalanceLedger; it is captured under the raffle lock so the raffle account
// always backs Pot.
type Snapshot struct {
	State         State            `json:"state"`
	Entrants      []string         `json:"entrants"`
	Pot           int64            `json:"pot"`
	RecentWinner  string           `json:"recent_winner,omitempty"`
	LastTimestamp time.Time        `json:"last_timestamp"`
	TakenAt       time.Time        `json:"taken_at"`
	Balances      map[string]int64 `json:"balances,omitempty"`
}

// BalanceLedger is implemented by banks whose balances are checkpointed
// together with the round.
type BalanceLedger interface {
	SnapshotBalances() map[string]int64
	RestoreBalances(balances map[string]int64) error
}

// SnapshotStore persists raffle snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	// Load returns false when nothing was saved yet.
	Load(ctx context.Context) (Snapshot, bool, error)
}

// Snapshot captures the current round.
func (r *Raffle) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	entrants := r.entrantsCopy()
	snap := Snapshot{
		State:         r.state,
		Entrants:      make([]string, len(entrants)),
		Pot:           r.pot,
		LastTimestamp: r.lastTimestamp,
		TakenAt:       r.clock.Now(),
	}
	for i, e := range entrants {
		snap.Entrants[i] = address.Uint160ToString(e)
	}
	if !r.recentWinner.Equals(util.Uint160{}) {
		snap.RecentWinner = address.Uint160ToString(r.recentWinner)
	}
	if ledger, ok := r.bank.(BalanceLedger); ok {
		snap.Balances = ledger.SnapshotBalances()
	}
	return snap
}

// Restore replaces the round state with snap, and the bank balances when the
// snapshot carries them. It is meant for startup hydration, before the raffle
// is exposed to callers. A restored StateCalculating round has no oracle
// request behind it; call ResumeDraw afterwards.
func (r *Raffle) Restore(snap Snapshot) error {
	if !snap.State.Valid() {
		return fmt.Errorf("%w: state %d", ErrInvalidSnapshot, snap.State)
	}
	if snap.Pot < 0 {
		return fmt.Errorf("%w: negative pot", ErrInvalidSnapshot)
	}
	entrants := make([]util.Uint160, len(snap.Entrants))
	for i, s := range snap.Entrants {
		u, err := address.StringToUint160(s)
		if err != nil {
			return fmt.Errorf("%w: entrant %d: %v", ErrInvalidSnapshot, i, err)
		}
		entrants[i] = u
	}
	var winner util.Uint160
	if snap.RecentWinner != "" {
		u, err := address.StringToUint160(snap.RecentWinner)
		if err != nil {
			return fmt.Errorf("%w: recent winner: %v", ErrInvalidSnapshot, err)
		}
		winner = u
	}
	if snap.State == StateCalculating && len(entrants) == 0 {
		return fmt.Errorf("%w: calculating round without entrants", ErrInvalidSnapshot)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if snap.Balances != nil {
		ledger, ok := r.bank.(BalanceLedger)
		if !ok {
			return fmt.Errorf("%w: bank cannot restore balances", ErrInvalidSnapshot)
		}
		if err := ledger.RestoreBalances(snap.Balances); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
	}
	r.state = snap.State
	r.entrants = entrants
	r.pot = snap.Pot
	r.recentWinner = winner
	if !snap.LastTimestamp.IsZero() {
		r.lastTimestamp = snap.LastTimestamp
	}
	metrics.SetRound(r.pot, len(r.entrants), int(r.state))
	r.log.WithField("state", r.state.String()).
		WithField("entrants", len(r.entrants)).
		WithField("pot", r.pot).
		Info("raffle state restored")
	return nil
}
