package oracle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/neoraffle/pkg/logger"
)

type recordingConsumer struct {
	mu       sync.Mutex
	received []Fulfillment
	fail     error
	done     chan struct{}
}

func newRecordingConsumer() *recordingConsumer {
	return &recordingConsumer{done: make(chan struct{}, 10)}
}

func (c *recordingConsumer) FulfillRandomWords(_ context.Context, f Fulfillment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.received = append(c.received, f)
	c.done <- struct{}{}
	return nil
}

func (c *recordingConsumer) setFail(err error) {
	c.mu.Lock()
	c.fail = err
	c.mu.Unlock()
}

func (c *recordingConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func newTestCoordinator(t *testing.T, cfg LocalConfig) *LocalCoordinator {
	t.Helper()
	cfg.Logger = logger.Discard()
	if cfg.SecretKey == nil {
		cfg.SecretKey = []byte("coordinator-test")
	}
	c, err := NewLocalCoordinator(cfg)
	require.NoError(t, err)
	return c
}

func TestRequestRandomWords(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, LocalConfig{})
	consumer := newRecordingConsumer()

	id1, err := c.RequestRandomWords(ctx, Request{NumWords: 1, Consumer: consumer})
	require.NoError(t, err)
	id2, err := c.RequestRandomWords(ctx, Request{NumWords: 2, Consumer: consumer})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)
	assert.Equal(t, []uint64{1, 2}, c.Pending())
	assert.Zero(t, consumer.count(), "request must not call back")
}

func TestRequestRandomWordsValidation(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, LocalConfig{})

	_, err := c.RequestRandomWords(ctx, Request{NumWords: 0, Consumer: newRecordingConsumer()})
	assert.ErrorIs(t, err, ErrInvalidNumWords)
	_, err = c.RequestRandomWords(ctx, Request{NumWords: MaxNumWords + 1, Consumer: newRecordingConsumer()})
	assert.ErrorIs(t, err, ErrInvalidNumWords)
	_, err = c.RequestRandomWords(ctx, Request{NumWords: 1})
	assert.ErrorIs(t, err, ErrNoConsumer)

	c.Stop()
	_, err = c.RequestRandomWords(ctx, Request{NumWords: 1, Consumer: newRecordingConsumer()})
	assert.ErrorIs(t, err, ErrCoordinatorStopped)
}

func TestFulfill(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, LocalConfig{})
	consumer := newRecordingConsumer()

	id, err := c.RequestRandomWords(ctx, Request{NumWords: 3, Consumer: consumer})
	require.NoError(t, err)

	require.NoError(t, c.Fulfill(ctx, id))
	require.Equal(t, 1, consumer.count())
	assert.Equal(t, id, consumer.received[0].RequestID)
	assert.Len(t, consumer.received[0].RandomWords, 3)
	assert.Empty(t, c.Pending())

	assert.ErrorIs(t, c.Fulfill(ctx, id), ErrNonexistentRequest)
	assert.ErrorIs(t, c.Fulfill(ctx, 0), ErrNonexistentRequest)
	assert.ErrorIs(t, c.Fulfill(ctx, 42), ErrNonexistentRequest)
}

func TestFulfillWithWords(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, LocalConfig{})
	consumer := newRecordingConsumer()

	id, err := c.RequestRandomWords(ctx, Request{NumWords: 1, Consumer: consumer})
	require.NoError(t, err)

	words := []*big.Int{big.NewInt(777)}
	require.NoError(t, c.FulfillWithWords(ctx, id, words))
	assert.Equal(t, words, consumer.received[0].RandomWords)
}

func TestRejectedDeliveryStaysPending(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, LocalConfig{})
	consumer := newRecordingConsumer()
	rejection := errors.New("payout failed")
	consumer.setFail(rejection)

	id, err := c.RequestRandomWords(ctx, Request{NumWords: 1, Consumer: consumer})
	require.NoError(t, err)

	err = c.Fulfill(ctx, id)
	require.ErrorIs(t, err, rejection)

	p, ok := c.PendingRequest(id)
	require.True(t, ok)
	assert.Equal(t, 1, p.Attempts)
	assert.Equal(t, rejection.Error(), p.LastError)

	consumer.setFail(nil)
	require.NoError(t, c.Fulfill(ctx, id))
	_, ok = c.PendingRequest(id)
	assert.False(t, ok)
}

func TestAutoFulfill(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newTestCoordinator(t, LocalConfig{AutoFulfill: true, FulfillDelay: 10 * time.Millisecond})
	c.Start(ctx)
	defer c.Stop()

	consumer := newRecordingConsumer()
	id, err := c.RequestRandomWords(ctx, Request{NumWords: 1, Consumer: consumer})
	require.NoError(t, err)

	select {
	case <-consumer.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("request %d was not fulfilled automatically", id)
	}
	assert.Equal(t, 1, consumer.count())
}

func TestDeriveWords(t *testing.T) {
	seed := []byte("seed")
	a := DeriveWords(seed, 4)
	b := DeriveWords(seed, 4)
	require.Len(t, a, 4)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a[0], a[1])

	other := DeriveWords([]byte("other"), 1)
	assert.NotEqual(t, a[0], other[0])
	assert.LessOrEqual(t, a[0].BitLen(), 256)
}
