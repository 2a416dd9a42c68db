package raffle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/neoraffle/internal/app/metrics"
	"github.com/R3E-Network/neoraffle/internal/events"
	"github.com/R3E-Network/neoraffle/internal/oracle"
)

// FulfillRandomWords handles the oracle callback for a pending draw: it picks
// the winner, pays out the whole pot and opens the next round.
//
// The request id is not checked here; the coordinator only delivers ids it
// issued to the consumer that requested them. A delivery while no draw is
// pending changes nothing.
//
// If the payout fails nothing is changed and ErrTransferFailed is returned,
// leaving the round in StateCalculating so the delivery can be retried.
func (r *Raffle) FulfillRandomWords(ctx context.Context, f oracle.Fulfillment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateCalculating {
		r.log.WithField("request_id", f.RequestID).
			WithField("state", r.state.String()).
			Warn("fulfilment ignored, no draw pending")
		metrics.RecordIgnoredFulfillment()
		return nil
	}
	if len(f.RandomWords) == 0 || f.RandomWords[0] == nil {
		return ErrMissingRandomWords
	}

	index, err := winnerIndex(f.RandomWords[0], len(r.entrants))
	if err != nil {
		return err
	}
	winner := r.entrants[index]
	payout := r.pot

	if err := r.bank.Transfer(ctx, r.address, winner, payout); err != nil {
		r.log.WithError(err).
			WithField("request_id", f.RequestID).
			WithField("winner", address.Uint160ToString(winner)).
			Error("raffle payout failed")
		metrics.RecordPayoutFailure()
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	r.recentWinner = winner
	r.entrants = nil
	r.pot = 0
	r.lastTimestamp = r.clock.Now()
	if err := r.transition(StateOpen); err != nil {
		return err
	}

	winnerAddr := address.Uint160ToString(winner)
	r.log.WithField("request_id", f.RequestID).
		WithField("winner", winnerAddr).
		WithField("payout", payout).
		Info("raffle winner picked")
	metrics.RecordDrawCompleted(payout)
	metrics.SetRound(r.pot, len(r.entrants), int(r.state))
	r.emit(ctx, events.Event{
		Type:      events.EventWinnerPicked,
		Winner:    winnerAddr,
		RequestID: f.RequestID,
		Amount:    payout,
	})
	return nil
}

// winnerIndex maps a random word onto [0, n). Modulo bias is accepted.
func winnerIndex(word *big.Int, n int) (int, error) {
	if n <= 0 {
		return 0, ErrNoEntrants
	}
	idx := new(big.Int).Mod(word, big.NewInt(int64(n)))
	i := int(idx.Int64())
	if i < 0 || i >= n {
		return 0, fmt.Errorf("%w: %d of %d", ErrEntrantIndex, i, n)
	}
	return i, nil
}

// entrantsCopy returns a copy of the entrant list. Callers hold r.mu.
func (r *Raffle) entrantsCopy() []util.Uint160 {
	out := make([]util.Uint160, len(r.entrants))
	copy(out, r.entrants)
	return out
}
