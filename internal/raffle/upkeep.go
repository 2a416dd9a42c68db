package raffle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/R3E-Network/neoraffle/internal/app/metrics"
	"github.com/R3E-Network/neoraffle/internal/events"
	"github.com/R3E-Network/neoraffle/internal/oracle"
)

// UpkeepStatus is the diagnostic breakdown of the eligibility predicate.
type UpkeepStatus struct {
	State       State         `json:"state"`
	Open        bool          `json:"open"`
	TimePassed  bool          `json:"time_passed"`
	HasEntrants bool          `json:"has_entrants"`
	HasBalance  bool          `json:"has_balance"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Entrants    int           `json:"entrants"`
	Pot         int64         `json:"pot"`
}

// Needed reports whether every condition for a draw holds.
func (u UpkeepStatus) Needed() bool {
	return u.Open && u.TimePassed && u.HasEntrants && u.HasBalance
}

// evaluateUpkeep is the shared eligibility predicate. Callers hold r.mu.
func (r *Raffle) evaluateUpkeep() UpkeepStatus {
	elapsed := r.clock.Now().Sub(r.lastTimestamp)
	return UpkeepStatus{
		State:       r.state,
		Open:        r.state == StateOpen,
		TimePassed:  elapsed >= r.params.Interval,
		HasEntrants: len(r.entrants) > 0,
		HasBalance:  r.pot > 0,
		Elapsed:     elapsed,
		Entrants:    len(r.entrants),
		Pot:         r.pot,
	}
}

// CheckUpkeep reports whether a draw should be initiated now. It never
// mutates state. The second value is the JSON-encoded UpkeepStatus.
func (r *Raffle) CheckUpkeep(ctx context.Context) (bool, []byte) {
	_ = ctx
	r.mu.Lock()
	status := r.evaluateUpkeep()
	r.mu.Unlock()

	data, _ := json.Marshal(status)
	return status.Needed(), data
}

// Status returns the current eligibility breakdown.
func (r *Raffle) Status() UpkeepStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evaluateUpkeep()
}

// PerformUpkeep re-evaluates eligibility and, when it holds, requests
// randomness and moves the round to StateCalculating. performData is accepted
// for interface compatibility with automation callers and ignored. The
// returned id correlates the later fulfilment.
func (r *Raffle) PerformUpkeep(ctx context.Context, performData []byte) (uint64, error) {
	_ = performData
	r.mu.Lock()
	defer r.mu.Unlock()

	status := r.evaluateUpkeep()
	if !status.Needed() {
		return 0, &UpkeepNotNeededError{Pot: r.pot, Entrants: len(r.entrants), State: r.state}
	}

	requestID, err := r.requestRandomness(ctx)
	if err != nil {
		return 0, err
	}
	if err := r.transition(StateCalculating); err != nil {
		return 0, err
	}

	r.log.WithField("request_id", requestID).
		WithField("entrants", len(r.entrants)).
		WithField("pot", r.pot).
		Info("raffle draw requested")
	r.drawRequested(ctx, requestID)
	return requestID, nil
}

// ResumeDraw issues a fresh randomness request for a round that is already
// in StateCalculating, such as one restored from a snapshot after the
// coordinator that held its request was lost. Entrants and pot are kept.
func (r *Raffle) ResumeDraw(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateCalculating {
		return 0, fmt.Errorf("%w: state %s", ErrNoDrawPending, r.state)
	}
	requestID, err := r.requestRandomness(ctx)
	if err != nil {
		return 0, err
	}

	r.log.WithField("request_id", requestID).
		WithField("entrants", len(r.entrants)).
		WithField("pot", r.pot).
		Info("raffle draw resumed")
	r.drawRequested(ctx, requestID)
	return requestID, nil
}

// requestRandomness asks the coordinator for the draw's words. Callers hold r.mu.
func (r *Raffle) requestRandomness(ctx context.Context) (uint64, error) {
	requestID, err := r.coordinator.RequestRandomWords(ctx, oracle.Request{
		KeyHash:              r.params.KeyHash,
		SubscriptionID:       r.params.SubscriptionID,
		MinimumConfirmations: r.params.RequestConfirmations,
		CallbackGasLimit:     r.params.CallbackGasLimit,
		NumWords:             NumWords,
		Consumer:             r,
	})
	if err != nil {
		return 0, fmt.Errorf("request randomness: %w", err)
	}
	return requestID, nil
}

func (r *Raffle) drawRequested(ctx context.Context, requestID uint64) {
	metrics.RecordDrawRequested()
	metrics.SetRound(r.pot, len(r.entrants), int(r.state))
	r.emit(ctx, events.Event{
		Type:      events.EventDrawRequested,
		RequestID: requestID,
		Amount:    r.pot,
	})
}
