// Package keeper polls an upkeep target on a cron schedule and performs the
// upkeep when the target reports it is needed.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/neoraffle/internal/app/metrics"
	"github.com/R3E-Network/neoraffle/pkg/logger"
)

// DefaultSchedule checks every ten seconds.
const DefaultSchedule = "@every 10s"

// Target is the contract the keeper services.
type Target interface {
	CheckUpkeep(ctx context.Context) (bool, []byte)
	PerformUpkeep(ctx context.Context, performData []byte) (uint64, error)
}

// Result describes a single tick.
type Result struct {
	Performed bool
	RequestID uint64
	CheckData []byte
	RanAt     time.Time
}

// Keeper runs Tick on a schedule.
type Keeper struct {
	target   Target
	schedule cron.Schedule
	expr     string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
	last    Result
	runs    int
}

// New parses schedule and returns a stopped keeper. The schedule accepts
// standard five-field cron expressions and descriptors such as "@every 15s".
func New(target Target, schedule string, log *logger.Logger) (*Keeper, error) {
	if target == nil {
		return nil, errors.New("keeper target is required")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	parsed, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse keeper schedule %q: %w", schedule, err)
	}
	if log == nil {
		log = logger.NewDefault("keeper")
	}
	return &Keeper{target: target, schedule: parsed, expr: schedule, log: log}, nil
}

// Schedule returns the configured cron expression.
func (k *Keeper) Schedule() string {
	return k.expr
}

// Next returns the next run time after t.
func (k *Keeper) Next(t time.Time) time.Time {
	return k.schedule.Next(t)
}

// Tick checks the target once and performs upkeep if it is needed. A target
// that changes between check and perform reports the perform error.
func (k *Keeper) Tick(ctx context.Context) (Result, error) {
	start := time.Now()
	res := Result{RanAt: start.UTC()}

	needed, data := k.target.CheckUpkeep(ctx)
	res.CheckData = data
	if !needed {
		metrics.RecordKeeperRun("skipped", time.Since(start))
		k.record(res)
		return res, nil
	}

	id, err := k.target.PerformUpkeep(ctx, data)
	if err != nil {
		metrics.RecordKeeperRun("failed", time.Since(start))
		k.log.WithError(err).Warn("perform upkeep failed")
		k.record(res)
		return res, err
	}
	res.Performed = true
	res.RequestID = id
	metrics.RecordKeeperRun("performed", time.Since(start))
	k.log.WithField("request_id", id).Info("upkeep performed")
	k.record(res)
	return res, nil
}

// Start schedules ticks until Stop is called or ctx is done.
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(k.schedule, cron.FuncJob(func() {
		_, _ = k.Tick(runCtx)
	}))
	c.Start()

	k.cron = c
	k.cancel = cancel
	k.running = true
	k.log.WithField("schedule", k.expr).Info("keeper started")
	return nil
}

// Stop halts scheduling and waits for a running tick to finish.
func (k *Keeper) Stop() {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return
	}
	c, cancel := k.cron, k.cancel
	k.running = false
	k.cron = nil
	k.mu.Unlock()

	<-c.Stop().Done()
	cancel()
	k.log.Info("keeper stopped")
}

// Running reports whether the schedule is active.
func (k *Keeper) Running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}

// LastRun returns the most recent tick result and the total number of ticks.
func (k *Keeper) LastRun() (Result, int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.last, k.runs
}

func (k *Keeper) record(res Result) {
	k.mu.Lock()
	k.last = res
	k.runs++
	k.mu.Unlock()
}
