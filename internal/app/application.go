package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/crypto/hash"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/neoraffle/internal/app/httpapi"
	"github.com/R3E-Network/neoraffle/internal/app/storage"
	"github.com/R3E-Network/neoraffle/internal/app/storage/memory"
	"github.com/R3E-Network/neoraffle/internal/app/storage/postgres"
	"github.com/R3E-Network/neoraffle/internal/app/storage/redis"
	"github.com/R3E-Network/neoraffle/internal/app/system"
	"github.com/R3E-Network/neoraffle/internal/config"
	"github.com/R3E-Network/neoraffle/internal/events"
	"github.com/R3E-Network/neoraffle/internal/gasbank"
	"github.com/R3E-Network/neoraffle/internal/keeper"
	"github.com/R3E-Network/neoraffle/internal/middleware"
	"github.com/R3E-Network/neoraffle/internal/oracle"
	"github.com/R3E-Network/neoraffle/internal/raffle"
	"github.com/R3E-Network/neoraffle/pkg/logger"
)

// Application ties the raffle to its collaborators and manages their
// lifecycle.
type Application struct {
	cfg     *config.Config
	manager *system.Manager
	log     *logger.Logger
	http    *httpService
	handler http.Handler

	Raffle *raffle.Raffle
	Bank   *gasbank.Manager
	Oracle *oracle.LocalCoordinator
	Keeper *keeper.Keeper
	Events *events.RingBuffer
	Store  storage.Store
	Auth   *middleware.ServiceAuth
}

// Option customises New.
type Option func(*options)

type options struct {
	store storage.Store
	clock raffle.Clock
	log   *logger.Logger
}

// WithStore uses store instead of opening the configured backend.
func WithStore(store storage.Store) Option {
	return func(o *options) { o.store = store }
}

// WithClock overrides the raffle clock.
func WithClock(clock raffle.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithLogger overrides the logger built from cfg.Logging.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// New builds the application from a resolved configuration. The raffle is
// hydrated from the store's last snapshot when one exists.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log
	if log == nil {
		log = logger.New(cfg.Logging)
	}

	raffleAddr, err := raffleAddress(cfg)
	if err != nil {
		return nil, err
	}

	bank := gasbank.NewManager()
	ring := events.NewRingBuffer(cfg.Server.EventBufferLen)

	coord, err := oracle.NewLocalCoordinator(oracle.LocalConfig{
		AutoFulfill:  cfg.Oracle.AutoFulfill,
		FulfillDelay: cfg.Oracle.FulfillDelay,
		QueueSize:    cfg.Oracle.QueueSize,
		SecretKey:    []byte(cfg.Oracle.SecretKey),
		Logger:       log.Named("oracle"),
	})
	if err != nil {
		return nil, fmt.Errorf("configure oracle: %w", err)
	}

	store := o.store
	if store == nil {
		store, err = openStore(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("configure storage: %w", err)
		}
	}

	r, err := raffle.New(raffle.Config{
		Params: raffle.Params{
			EntranceFee:          cfg.Raffle.EntranceFee,
			Interval:             cfg.Raffle.Interval,
			KeyHash:              cfg.Raffle.KeyHash,
			SubscriptionID:       cfg.Raffle.SubscriptionID,
			RequestConfirmations: cfg.Raffle.RequestConfirmations,
			CallbackGasLimit:     cfg.Raffle.CallbackGasLimit,
		},
		Address:     raffleAddr,
		Coordinator: coord,
		Bank:        bank,
		Clock:       o.clock,
		Events:      ring,
		Logger:      log.Named("raffle"),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("configure raffle: %w", err)
	}

	if err := hydrate(ctx, r, bank, store, log); err != nil {
		_ = store.Close()
		return nil, err
	}

	schedule := cfg.Keeper.Schedule
	if schedule == "" {
		schedule = keeper.DefaultSchedule
	}
	kp, err := keeper.New(r, schedule, log.Named("keeper"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("configure keeper: %w", err)
	}

	auth := middleware.NewServiceAuth(cfg.Auth.JWTSecret, log.Named("auth"))
	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, log.Named("ratelimit"))
	handler := httpapi.NewHandler(httpapi.Options{
		Raffle:      r,
		Oracle:      coord,
		Ledger:      bank,
		Events:      ring,
		History:     store,
		Auth:        auth,
		Limiter:     limiter,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      log.Named("httpapi"),
	})
	httpSvc := &httpService{
		server: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           handler,
			ReadTimeout:       cfg.Server.ReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.Server.WriteTimeout,
		},
		log: log.Named("http"),
	}

	services := []system.Service{
		&winnerRecorder{events: ring, history: store, log: log.Named("winners")},
		&checkpointer{
			raffle:   r,
			store:    store,
			backend:  store.Backend(),
			interval: cfg.Storage.CheckpointInterval,
			log:      log.Named("checkpoint"),
		},
	}
	if cfg.Oracle.AutoFulfill {
		services = append(services, &oracleService{coord: coord})
	}
	if cfg.Keeper.Enabled {
		services = append(services, &keeperService{keeper: kp})
	}
	if cfg.Server.RateLimit > 0 {
		services = append(services, &limiterJanitor{limiter: limiter, interval: time.Minute, maxIdle: 10 * time.Minute})
	}
	services = append(services, httpSvc)

	manager := system.NewManager()
	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	log.WithField("address", address.Uint160ToString(raffleAddr)).
		WithField("network", cfg.Network).
		WithField("storage", store.Backend()).
		WithField("entrance_fee", r.EntranceFee()).
		WithField("interval", r.Interval().String()).
		Info("raffle configured")

	return &Application{
		cfg:     cfg,
		manager: manager,
		log:     log,
		http:    httpSvc,
		handler: handler,
		Raffle:  r,
		Bank:    bank,
		Oracle:  coord,
		Keeper:  kp,
		Events:  ring,
		Store:   store,
		Auth:    auth,
	}, nil
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services, writes a final checkpoint and closes the store.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if cerr := a.Store.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close store: %w", cerr))
	}
	return err
}

// Handler returns the HTTP API handler.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// Addr returns the address the HTTP server is bound to once started.
func (a *Application) Addr() string {
	return a.http.Addr()
}

// Services lists the lifecycle-managed components in start order.
func (a *Application) Services() []string {
	return a.manager.Names()
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "", config.StorageMemory:
		return memory.New(), nil
	case config.StoragePostgres:
		return postgres.Open(ctx, cfg.DSN)
	case config.StorageRedis:
		return redis.Open(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// hydrate restores the last snapshot. Snapshots written without balances
// get the pot re-credited to the raffle account, and a round caught in
// StateCalculating gets a fresh randomness request since the coordinator
// does not outlive the process.
func hydrate(ctx context.Context, r *raffle.Raffle, bank *gasbank.Manager, store raffle.SnapshotStore, log *logger.Logger) error {
	snap, ok, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return nil
	}
	if err := r.Restore(snap); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	if short := snap.Pot - bank.Balance(r.Address()); short > 0 {
		if err := bank.Deposit(ctx, r.Address(), short); err != nil {
			return fmt.Errorf("back restored pot: %w", err)
		}
		log.WithField("amount", short).Warn("restored pot re-credited to raffle account")
	}
	log.WithField("state", snap.State.String()).
		WithField("entrants", len(snap.Entrants)).
		WithField("pot", snap.Pot).
		WithField("accounts", len(snap.Balances)).
		Info("raffle restored from snapshot")

	if snap.State == raffle.StateCalculating {
		requestID, err := r.ResumeDraw(ctx)
		if err != nil {
			return fmt.Errorf("resume draw: %w", err)
		}
		log.WithField("request_id", requestID).Info("pending draw re-requested")
	}
	return nil
}

// raffleAddress parses the configured pot account. Without one, an address is
// derived from the network name so restarts keep the same account.
func raffleAddress(cfg *config.Config) (util.Uint160, error) {
	raw := strings.TrimSpace(cfg.Raffle.Address)
	if raw == "" {
		return hash.Hash160([]byte("neoraffle/" + cfg.Network)), nil
	}
	u, err := address.StringToUint160(raw)
	if err != nil {
		return util.Uint160{}, fmt.Errorf("raffle.address: %w", err)
	}
	return u, nil
}
