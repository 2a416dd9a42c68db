package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/R3E-Network/neoraffle/internal/app/metrics"
	"github.com/R3E-Network/neoraffle/internal/app/storage"
	"github.com/R3E-Network/neoraffle/internal/events"
	"github.com/R3E-Network/neoraffle/internal/keeper"
	"github.com/R3E-Network/neoraffle/internal/middleware"
	"github.com/R3E-Network/neoraffle/internal/oracle"
	"github.com/R3E-Network/neoraffle/internal/raffle"
	"github.com/R3E-Network/neoraffle/pkg/logger"
)

// oracleService runs the local coordinator's automatic delivery worker.
type oracleService struct {
	coord *oracle.LocalCoordinator
}

func (s *oracleService) Name() string { return "oracle" }

func (s *oracleService) Start(ctx context.Context) error {
	s.coord.Start(context.WithoutCancel(ctx))
	return nil
}

func (s *oracleService) Stop(context.Context) error {
	s.coord.Stop()
	return nil
}

type keeperService struct {
	keeper *keeper.Keeper
}

func (s *keeperService) Name() string { return "keeper" }

func (s *keeperService) Start(ctx context.Context) error {
	return s.keeper.Start(context.WithoutCancel(ctx))
}

func (s *keeperService) Stop(context.Context) error {
	s.keeper.Stop()
	return nil
}

// checkpointer saves raffle snapshots periodically and once more on Stop.
type checkpointer struct {
	raffle   *raffle.Raffle
	store    raffle.SnapshotStore
	backend  string
	interval time.Duration
	log      *logger.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

func (c *checkpointer) Name() string { return "checkpointer" }

func (c *checkpointer) Start(ctx context.Context) error {
	c.stop = make(chan struct{})
	if c.interval <= 0 {
		return nil
	}
	runCtx := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				_ = c.save(runCtx)
			}
		}
	}()
	return nil
}

func (c *checkpointer) Stop(ctx context.Context) error {
	close(c.stop)
	c.wg.Wait()
	return c.save(ctx)
}

func (c *checkpointer) save(ctx context.Context) error {
	err := c.store.Save(ctx, c.raffle.Snapshot())
	metrics.RecordCheckpoint(c.backend, err == nil)
	if err != nil {
		c.log.WithError(err).Warn("raffle checkpoint failed")
	}
	return err
}

// winnerRecorder copies WinnerPicked events into the winner history.
type winnerRecorder struct {
	events  events.EventLogger
	history storage.WinnerHistory
	log     *logger.Logger

	ch          chan events.Event
	stop        chan struct{}
	unsubscribe func()
	wg          sync.WaitGroup
}

const winnerQueueSize = 64

func (w *winnerRecorder) Name() string { return "winner-recorder" }

func (w *winnerRecorder) Start(ctx context.Context) error {
	w.ch = make(chan events.Event, winnerQueueSize)
	w.stop = make(chan struct{})
	w.unsubscribe = w.events.SubscribeFiltered(func(e events.Event) bool {
		return e.Type == events.EventWinnerPicked
	}, func(e events.Event) {
		select {
		case w.ch <- e:
		default:
			w.log.WithField("request_id", e.RequestID).Warn("winner history queue full, dropping")
		}
	})

	runCtx := context.WithoutCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case e := <-w.ch:
				w.record(runCtx, e)
			case <-w.stop:
				for {
					select {
					case e := <-w.ch:
						w.record(runCtx, e)
					default:
						return
					}
				}
			}
		}
	}()
	return nil
}

func (w *winnerRecorder) Stop(context.Context) error {
	w.unsubscribe()
	close(w.stop)
	w.wg.Wait()
	return nil
}

func (w *winnerRecorder) record(ctx context.Context, e events.Event) {
	err := w.history.RecordWinner(ctx, storage.Winner{
		RequestID: e.RequestID,
		Winner:    e.Winner,
		Payout:    e.Amount,
		PickedAt:  e.Timestamp,
	})
	if err != nil {
		w.log.WithError(err).WithField("request_id", e.RequestID).Warn("record winner failed")
	}
}

// limiterJanitor evicts idle per-client rate limiters.
type limiterJanitor struct {
	limiter  *middleware.RateLimiter
	interval time.Duration
	maxIdle  time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

func (j *limiterJanitor) Name() string { return "limiter-janitor" }

func (j *limiterJanitor) Start(context.Context) error {
	j.stop = make(chan struct{})
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-j.stop:
				return
			case <-ticker.C:
				j.limiter.Cleanup(j.maxIdle)
			}
		}
	}()
	return nil
}

func (j *limiterJanitor) Stop(context.Context) error {
	close(j.stop)
	j.wg.Wait()
	return nil
}

// httpService serves the API. The listener is bound in Start so address
// errors surface immediately.
type httpService struct {
	server *http.Server
	log    *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

func (s *httpService) Name() string { return "http" }

func (s *httpService) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.log.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server stopped")
		}
	}()
	return nil
}

func (s *httpService) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := s.server.Shutdown(shutdownCtx)
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	return err
}

// Addr returns the bound address, or "" before Start.
func (s *httpService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
