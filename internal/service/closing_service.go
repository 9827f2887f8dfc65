package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/prn-tf/crowdfund/internal/domain"
	"github.com/prn-tf/crowdfund/internal/lock"
	"github.com/prn-tf/crowdfund/internal/metrics"
	"github.com/prn-tf/crowdfund/internal/repository"
)

// ClosingService periodically asks Planned projects to complete, so that
// expired campaigns get suspended and funded ones get connected without a
// manual call.
type ClosingService struct {
	projectRepo repository.ProjectRepository
	funding     *FundingService
	locker      lock.Locker
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	config      ClosingConfig

	// Control
	mu      sync.Mutex
	running bool
	cron    *cron.Cron
}

// ClosingConfig contains closing sweeper configuration.
type ClosingConfig struct {
	// Enabled determines if the sweeper runs on its schedule.
	Enabled bool

	// Schedule is a standard cron expression or descriptor.
	Schedule string

	// BatchSize is the maximum number of projects evaluated per run.
	BatchSize int

	// LockTTL bounds how long one run may hold the sweep lock.
	LockTTL time.Duration
}

// DefaultClosingConfig returns sensible defaults.
func DefaultClosingConfig() ClosingConfig {
	return ClosingConfig{
		Enabled:   true,
		Schedule:  "@hourly",
		BatchSize: 500,
		LockTTL:   10 * time.Minute,
	}
}

// NewClosingService creates a new closing sweeper.
func NewClosingService(
	projectRepo repository.ProjectRepository,
	funding *FundingService,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config ClosingConfig,
) *ClosingService {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultClosingConfig().BatchSize
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultClosingConfig().LockTTL
	}

	return &ClosingService{
		projectRepo: projectRepo,
		funding:     funding,
		locker:      locker,
		metrics:     m,
		logger:      logger.With().Str("service", "closing").Logger(),
		config:      config,
	}
}

// Start schedules the sweep. It is a no-op if already running.
func (c *ClosingService) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := sched.AddFunc(c.config.Schedule, c.runOnce); err != nil {
		return fmt.Errorf("invalid closing schedule %q: %w", c.config.Schedule, err)
	}
	sched.Start()

	c.cron = sched
	c.running = true

	c.logger.Info().
		Str("schedule", c.config.Schedule).
		Int("batch_size", c.config.BatchSize).
		Msg("closing sweeper started")
	return nil
}

// Stop unschedules the sweep and waits for a run in progress to finish.
func (c *ClosingService) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	sched := c.cron
	c.cron = nil
	c.mu.Unlock()

	<-sched.Stop().Done()

	c.logger.Info().Msg("closing sweeper stopped")
}

// ClosingResult contains the result of a sweep.
type ClosingResult struct {
	// Evaluated is the number of Planned projects looked at.
	Evaluated int

	// Connected and Suspended count the projects that closed.
	Connected int
	Suspended int

	// Skipped counts projects whose lock was busy or that vanished mid-run.
	Skipped int

	// Errors is the number of failed evaluations.
	Errors int

	// LockHeld is true when another instance was already sweeping.
	LockHeld bool

	// LockLost is true when the sweep lock expired mid-run and the
	// remaining projects were left for the next run.
	LockLost bool

	// Duration is how long the run took.
	Duration time.Duration
}

// RunOnce executes a single sweep.
// This can be called manually or by the scheduler.
func (c *ClosingService) RunOnce(ctx context.Context) (ClosingResult, error) {
	return c.runWithContext(ctx)
}

// runOnce is called by the scheduler.
func (c *ClosingService) runOnce() {
	if _, err := c.runWithContext(context.Background()); err != nil {
		c.logger.Error().Err(err).Msg("closing sweep failed")
	}
}

func (c *ClosingService) runWithContext(ctx context.Context) (ClosingResult, error) {
	start := time.Now()
	result := ClosingResult{}

	sweep := lock.NewLock(c.locker, lock.Keys.ClosingSweep())
	acquired, err := sweep.Acquire(ctx, c.config.LockTTL)
	if err != nil {
		return result, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !acquired {
		c.logger.Debug().Msg("sweep lock held by another process, skipping run")
		result.LockHeld = true
		result.Duration = time.Since(start)
		return result, nil
	}
	defer func() {
		if err := sweep.Release(context.WithoutCancel(ctx)); err != nil {
			c.logger.Error().Err(err).Msg("failed to release sweep lock")
		}
	}()

	// Earliest end date first, so expired projects are always reached.
	projects, err := c.projectRepo.ListByState(ctx, domain.StatePlanned, c.config.BatchSize)
	if err != nil {
		return result, fmt.Errorf("%w: list planned projects: %v", ErrInternalError, err)
	}

	for i, p := range projects {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && !c.keepSweepLock(ctx, sweep) {
			result.LockLost = true
			break
		}
		result.Evaluated++

		out, err := c.funding.CompleteProject(ctx, p.ID())
		switch {
		case errors.Is(err, ErrResourceBusy), errors.Is(err, ErrProjectNotFound):
			result.Skipped++
			continue
		case err != nil:
			c.logger.Error().Err(err).Str("project_id", p.ID().String()).Msg("failed to complete project")
			result.Errors++
			continue
		}

		if !out.Changed() {
			continue
		}
		switch out.State {
		case domain.StateConnected:
			result.Connected++
		case domain.StateSuspended:
			result.Suspended++
		}
		if c.metrics != nil {
			c.metrics.ClosingProjectsClosed.WithLabelValues(out.State.String()).Inc()
		}
	}

	result.Duration = time.Since(start)

	if c.metrics != nil {
		c.metrics.RecordClosingRun(result.Duration, result.Evaluated)
	}

	event := c.logger.Info()
	if result.Evaluated == 0 {
		event = c.logger.Debug()
	}
	event.
		Int("evaluated", result.Evaluated).
		Int("connected", result.Connected).
		Int("suspended", result.Suspended).
		Int("skipped", result.Skipped).
		Int("errors", result.Errors).
		Bool("lock_lost", result.LockLost).
		Dur("duration", result.Duration).
		Msg("closing sweep completed")

	return result, ctx.Err()
}

// keepSweepLock renews the sweep lock before the next project. A run that can
// no longer prove it owns the lock stops, since another instance may have
// started sweeping.
func (c *ClosingService) keepSweepLock(ctx context.Context, sweep *lock.Lock) bool {
	if err := sweep.Extend(ctx, c.config.LockTTL); err != nil {
		c.logger.Warn().Err(err).Msg("failed to extend sweep lock, stopping run")
		return false
	}
	if !sweep.IsHeld() {
		c.logger.Warn().Msg("sweep lock expired, stopping run")
		return false
	}
	return true
}
