package raffle

import (
	"context"
	"fmt"
	"math"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/neoraffle/internal/app/metrics"
	"github.com/R3E-Network/neoraffle/internal/events"
)

// Enter records player for the current round. The payment is moved from the
// player into the raffle account and added to the pot.
func (r *Raffle) Enter(ctx context.Context, player util.Uint160, payment int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if payment < r.params.EntranceFee {
		metrics.RecordEntry("insufficient_payment")
		return fmt.Errorf("%w: paid %d, fee %d", ErrInsufficientPayment, payment, r.params.EntranceFee)
	}
	if r.state != StateOpen {
		metrics.RecordEntry("not_open")
		return ErrRoundNotOpen
	}
	if r.pot > math.MaxInt64-payment {
		metrics.RecordEntry("overflow")
		return ErrPotOverflow
	}

	if err := r.bank.Transfer(ctx, player, r.address, payment); err != nil {
		metrics.RecordEntry("payment_failed")
		return fmt.Errorf("collect entry payment: %w", err)
	}

	r.entrants = append(r.entrants, player)
	r.pot += payment

	playerAddr := address.Uint160ToString(player)
	r.log.WithField("player", playerAddr).
		WithField("payment", payment).
		WithField("entrants", len(r.entrants)).
		Info("raffle entry recorded")
	metrics.RecordEntry("accepted")
	metrics.SetRound(r.pot, len(r.entrants), int(r.state))
	r.emit(ctx, events.Event{
		Type:    events.EventEntryRecorded,
		Entrant: playerAddr,
		Amount:  payment,
	})
	return nil
}
