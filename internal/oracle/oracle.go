// Package oracle defines the boundary between the raffle and the randomness
// provider.
//
// Architecture: Request-Callback Pattern
//  1. The raffle calls Coordinator.RequestRandomWords and receives a request id.
//  2. The coordinator produces random words out of band.
//  3. The coordinator delivers exactly one Fulfillment message to the Consumer
//     that issued the request.
package oracle

import (
	"context"
	"errors"
	"math/big"
)

var (
	// ErrNonexistentRequest is returned when a fulfilment names a request id
	// the coordinator never issued or already delivered.
	ErrNonexistentRequest = errors.New("nonexistent request")
	ErrInvalidNumWords    = errors.New("num words must be between 1 and 500")
	ErrNoConsumer         = errors.New("request has no consumer")
	ErrCoordinatorStopped = errors.New("coordinator stopped")
)

// MaxNumWords bounds a single request.
const MaxNumWords = 500

// Request carries the parameters of a randomness request.
type Request struct {
	KeyHash              string
	SubscriptionID       uint64
	MinimumConfirmations uint16
	CallbackGasLimit     uint32
	NumWords             uint32
	Consumer             Consumer
}

// Fulfillment is the inbound callback message delivered by the oracle.
type Fulfillment struct {
	RequestID   uint64
	RandomWords []*big.Int
}

// Coordinator issues randomness requests.
type Coordinator interface {
	RequestRandomWords(ctx context.Context, req Request) (uint64, error)
}

// Consumer receives fulfilments for the requests it issued.
type Consumer interface {
	FulfillRandomWords(ctx context.Context, f Fulfillment) error
}
