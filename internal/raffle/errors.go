package raffle

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrRoundNotOpen        = errors.New("raffle round is not open")
	ErrUpkeepNotNeeded     = errors.New("upkeep not needed")
	ErrTransferFailed      = errors.New("transfer to winner failed")
	ErrMissingRandomWords  = errors.New("fulfilment carries no random words")
	ErrNoEntrants          = errors.New("no entrants to draw from")
	ErrEntrantIndex        = errors.New("entrant index out of range")
	ErrPotOverflow         = errors.New("pot overflow")
	ErrInvalidSnapshot     = errors.New("invalid snapshot")
	ErrInvalidParams       = errors.New("invalid raffle params")
	ErrNoDrawPending       = errors.New("no draw pending")
)

// UpkeepNotNeededError reports why a draw could not be initiated.
type UpkeepNotNeededError struct {
	Pot      int64
	Entrants int
	State    State
}

// Error implements error.
func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("upkeep not needed: pot=%d entrants=%d state=%s", e.Pot, e.Entrants, e.State)
}

// Is lets errors.Is match ErrUpkeepNotNeeded.
func (e *UpkeepNotNeededError) Is(target error) bool {
	return target == ErrUpkeepNotNeeded
}
