package raffle

import (
	"fmt"
	"time"
)

// Default configuration values.
const (
	DefaultEntranceFee          = 1_000_000 // 0.01 GAS
	DefaultInterval             = 30 * time.Second
	DefaultRequestConfirmations = 3
	DefaultCallbackGasLimit     = 500_000
	NumWords                    = 1
)

// Params are fixed when the raffle is constructed.
type Params struct {
	EntranceFee          int64
	Interval             time.Duration
	KeyHash              string
	SubscriptionID       uint64
	RequestConfirmations uint16
	CallbackGasLimit     uint32
}

// WithDefaults fills zero values.
func (p Params) WithDefaults() Params {
	if p.EntranceFee == 0 {
		p.EntranceFee = DefaultEntranceFee
	}
	if p.Interval == 0 {
		p.Interval = DefaultInterval
	}
	if p.RequestConfirmations == 0 {
		p.RequestConfirmations = DefaultRequestConfirmations
	}
	if p.CallbackGasLimit == 0 {
		p.CallbackGasLimit = DefaultCallbackGasLimit
	}
	return p
}

// Validate checks the params.
func (p Params) Validate() error {
	if p.EntranceFee <= 0 {
		return fmt.Errorf("%w: entrance fee must be positive", ErrInvalidParams)
	}
	if p.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidParams)
	}
	return nil
}
