// Package raffle implements the raffle state machine: paid entries, the
// automation eligibility check, draw initiation against a randomness oracle
// and the fulfilment that pays the winner and resets the round.
//
// Every exported method holds the raffle mutex for its whole duration, so
// each operation either completes or fails without any observable partial
// state.
//
// A round stuck in StateCalculating stays there until the oracle delivers;
// there is no timeout or cancellation path.
package raffle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/neoraffle/internal/app/metrics"
	"github.com/R3E-Network/neoraffle/internal/events"
	"github.com/R3E-Network/neoraffle/internal/oracle"
	"github.com/R3E-Network/neoraffle/pkg/logger"
)

// Bank moves GAS between accounts. A failed Transfer must leave both
// balances unchanged.
type Bank interface {
	Transfer(ctx context.Context, from, to util.Uint160, amount int64) error
}

// Config wires a Raffle to its collaborators.
type Config struct {
	Params Params
	// Address is the raffle's own account in the bank; it holds the pot.
	Address     util.Uint160
	Coordinator oracle.Coordinator
	Bank        Bank
	Clock       Clock
	Events      events.EventLogger
	Logger      *logger.Logger
}

// Raffle is the single running raffle instance.
type Raffle struct {
	mu sync.Mutex

	params      Params
	address     util.Uint160
	coordinator oracle.Coordinator
	bank        Bank
	clock       Clock
	events      events.EventLogger
	log         *logger.Logger

	state         State
	entrants      []util.Uint160
	pot           int64
	recentWinner  util.Uint160
	lastTimestamp time.Time
}

var _ oracle.Consumer = (*Raffle)(nil)

// New constructs an open raffle whose round clock starts now.
func New(cfg Config) (*Raffle, error) {
	params := cfg.Params.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("%w: coordinator is required", ErrInvalidParams)
	}
	if cfg.Bank == nil {
		return nil, fmt.Errorf("%w: bank is required", ErrInvalidParams)
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Events == nil {
		cfg.Events = events.NoOpLogger{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("raffle")
	}

	r := &Raffle{
		params:        params,
		address:       cfg.Address,
		coordinator:   cfg.Coordinator,
		bank:          cfg.Bank,
		clock:         cfg.Clock,
		events:        cfg.Events,
		log:           cfg.Logger,
		state:         StateOpen,
		lastTimestamp: cfg.Clock.Now(),
	}
	metrics.SetRound(r.pot, len(r.entrants), int(r.state))
	return r, nil
}

// Address returns the account holding the pot.
func (r *Raffle) Address() util.Uint160 {
	return r.address
}

// EntranceFee returns the minimum payment for an entry.
func (r *Raffle) EntranceFee() int64 {
	return r.params.EntranceFee
}

// Interval returns the minimum time between draws.
func (r *Raffle) Interval() time.Duration {
	return r.params.Interval
}

// Params returns the construction parameters.
func (r *Raffle) Params() Params {
	return r.params
}

// NumberOfEntrants returns the entry count of the current round.
func (r *Raffle) NumberOfEntrants() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entrants)
}

// Entrant returns the entrant at index.
func (r *Raffle) Entrant(index int) (util.Uint160, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.entrants) {
		return util.Uint160{}, fmt.Errorf("%w: %d of %d", ErrEntrantIndex, index, len(r.entrants))
	}
	return r.entrants[index], nil
}

// RecentWinner returns the last paid winner, zero before the first draw.
func (r *Raffle) RecentWinner() util.Uint160 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recentWinner
}

// State returns the current round state.
func (r *Raffle) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastTimestamp returns when the current round started.
func (r *Raffle) LastTimestamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTimestamp
}

// Pot returns the value held for the current round.
func (r *Raffle) Pot() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pot
}

func (r *Raffle) emit(ctx context.Context, e events.Event) {
	e.Timestamp = r.clock.Now()
	r.events.LogWithContext(ctx, e)
}

func (r *Raffle) transition(to State) error {
	if !CanTransition(r.state, to) {
		return TransitionError{From: r.state, To: to}
	}
	r.state = to
	return nil
}
