package oracle

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/R3E-Network/neoraffle/pkg/logger"
)

// RequestStatus tracks a request inside the local coordinator.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusFulfilled RequestStatus = "fulfilled"
)

// PendingRequest is a request awaiting fulfilment.
type PendingRequest struct {
	ID          uint64
	Request     Request
	Seed        []byte
	Attempts    int
	LastError   string
	RequestedAt time.Time
}

// LocalConfig configures a LocalCoordinator.
type LocalConfig struct {
	// AutoFulfill makes the worker deliver fulfilments on its own.
	AutoFulfill bool
	// FulfillDelay is waited before each automatic delivery.
	FulfillDelay time.Duration
	// QueueSize bounds the automatic delivery queue.
	QueueSize int
	// SecretKey seeds word derivation; a random key is generated when empty.
	SecretKey []byte
	Logger    *logger.Logger
}

// LocalCoordinator is an in-process randomness coordinator. Request ids start
// at 1. Each request is delivered to its consumer at most once successfully;
// a delivery the consumer rejects stays pending so it can be retried.
type LocalCoordinator struct {
	mu       sync.Mutex
	nextID   uint64
	pending  map[uint64]*PendingRequest
	secret   []byte
	cfg      LocalConfig
	log      *logger.Logger
	queue    chan uint64
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLocalCoordinator creates a coordinator.
func NewLocalCoordinator(cfg LocalConfig) (*LocalCoordinator, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("oracle")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	secret := cfg.SecretKey
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate coordinator key: %w", err)
		}
	}
	return &LocalCoordinator{
		pending: make(map[uint64]*PendingRequest),
		secret:  secret,
		cfg:     cfg,
		log:     cfg.Logger,
		queue:   make(chan uint64, cfg.QueueSize),
		stopCh:  make(chan struct{}),
	}, nil
}

// RequestRandomWords registers a request and returns its id. It never calls
// back into the consumer.
func (c *LocalCoordinator) RequestRandomWords(ctx context.Context, req Request) (uint64, error) {
	_ = ctx
	if req.NumWords == 0 || req.NumWords > MaxNumWords {
		return 0, ErrInvalidNumWords
	}
	if req.Consumer == nil {
		return 0, ErrNoConsumer
	}
	select {
	case <-c.stopCh:
		return 0, ErrCoordinatorStopped
	default:
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = &PendingRequest{
		ID:          id,
		Request:     req,
		Seed:        c.seedFor(id),
		RequestedAt: time.Now().UTC(),
	}
	c.mu.Unlock()

	c.log.WithField("request_id", id).
		WithField("num_words", req.NumWords).
		WithField("key_hash", req.KeyHash).
		Info("randomness requested")

	if c.cfg.AutoFulfill {
		select {
		case c.queue <- id:
		default:
			c.log.WithField("request_id", id).Warn("fulfil queue full, request left for manual delivery")
		}
	}
	return id, nil
}

// Fulfill derives the words for requestID and delivers them.
func (c *LocalCoordinator) Fulfill(ctx context.Context, requestID uint64) error {
	return c.deliver(ctx, requestID, nil)
}

// FulfillWithWords delivers caller-chosen words for requestID.
func (c *LocalCoordinator) FulfillWithWords(ctx context.Context, requestID uint64, words []*big.Int) error {
	return c.deliver(ctx, requestID, words)
}

// Pending returns the ids of requests awaiting fulfilment in ascending order.
func (c *LocalCoordinator) Pending() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint64, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PendingRequest returns the pending request with the given id.
func (c *LocalCoordinator) PendingRequest(requestID uint64) (PendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[requestID]
	if !ok {
		return PendingRequest{}, false
	}
	return *p, true
}

// Start launches the automatic delivery worker.
func (c *LocalCoordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.runFulfiller(ctx)
}

// Stop stops the worker. Safe to call more than once.
func (c *LocalCoordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

func (c *LocalCoordinator) runFulfiller(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case id := <-c.queue:
			if c.cfg.FulfillDelay > 0 {
				timer := time.NewTimer(c.cfg.FulfillDelay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-c.stopCh:
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			if err := c.Fulfill(ctx, id); err != nil {
				c.log.WithError(err).WithField("request_id", id).Warn("automatic fulfilment failed")
			}
		}
	}
}

func (c *LocalCoordinator) deliver(ctx context.Context, requestID uint64, words []*big.Int) error {
	c.mu.Lock()
	p, ok := c.pending[requestID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNonexistentRequest, requestID)
	}
	// Remove before delivering so a concurrent delivery of the same id fails.
	delete(c.pending, requestID)
	c.mu.Unlock()

	if words == nil {
		words = DeriveWords(p.Seed, p.Request.NumWords)
	}

	err := p.Request.Consumer.FulfillRandomWords(ctx, Fulfillment{RequestID: requestID, RandomWords: words})
	if err != nil {
		c.mu.Lock()
		p.Attempts++
		p.LastError = err.Error()
		c.pending[requestID] = p
		c.mu.Unlock()
		c.log.WithError(err).WithField("request_id", requestID).Warn("consumer rejected fulfilment, request kept pending")
		return fmt.Errorf("deliver request %d: %w", requestID, err)
	}

	c.log.WithField("request_id", requestID).Info("request fulfilled")
	return nil
}

func (c *LocalCoordinator) seedFor(id uint64) []byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], id)
	binary.BigEndian.PutUint64(buf[8:], uint64(time.Now().UnixNano()))
	h := sha3.NewLegacyKeccak256()
	h.Write(c.secret)
	h.Write(buf[:])
	return h.Sum(nil)
}

// DeriveWords expands seed into n 256-bit words: word[i] = keccak256(seed || i).
func DeriveWords(seed []byte, n uint32) []*big.Int {
	words := make([]*big.Int, n)
	for i := uint32(0); i < n; i++ {
		var idx [4]byte
		binary.BigEndian.PutUint32(idx[:], i)
		h := sha3.NewLegacyKeccak256()
		h.Write(seed)
		h.Write(idx[:])
		words[i] = new(big.Int).SetBytes(h.Sum(nil))
	}
	return words
}
