// Package bootstrap assembles the server and CLI dependencies from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/crowdfund/internal/cache/memory"
	rediscache "github.com/prn-tf/crowdfund/internal/cache/redis"
	"github.com/prn-tf/crowdfund/internal/config"
	"github.com/prn-tf/crowdfund/internal/lock"
	"github.com/prn-tf/crowdfund/internal/metrics"
	"github.com/prn-tf/crowdfund/internal/repository"
	"github.com/prn-tf/crowdfund/internal/repository/postgres"
	"github.com/prn-tf/crowdfund/internal/repository/sqlite"
	"github.com/prn-tf/crowdfund/internal/service"
)

// NewLogger builds the root logger from the logging settings.
func NewLogger(cfg config.LoggingConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log output %q", cfg.Output)
	}

	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	switch cfg.Format {
	case "", "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", cfg.Format)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// OpenDatabase connects to the configured driver and returns its repositories.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (repository.Database, *repository.Repositories, error) {
	switch cfg.Driver {
	case "sqlite":
		sc := sqlite.DefaultConfig(cfg.Path)
		if cfg.JournalMode != "" {
			sc.JournalMode = cfg.JournalMode
		}
		if cfg.BusyTimeout > 0 {
			sc.BusyTimeout = cfg.BusyTimeout
		}
		if cfg.CacheSize != 0 {
			sc.CacheSize = cfg.CacheSize
		}
		if cfg.SynchronousMode != "" {
			sc.SynchronousMode = cfg.SynchronousMode
		}

		db, err := sqlite.NewDB(ctx, sc, logger)
		if err != nil {
			return nil, nil, err
		}
		return db, &repository.Repositories{
			Project: sqlite.NewProjectRepository(db),
			User:    sqlite.NewUserRepository(db),
		}, nil

	case "postgres":
		db, err := postgres.NewDB(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return db, &repository.Repositories{
			Project: postgres.NewProjectRepository(db),
			User:    postgres.NewUserRepository(db),
		}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// App holds every long-lived dependency of a process.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	DB      repository.Database
	Repos   *repository.Repositories
	Locker  lock.Locker
	Cache   repository.Cache
	Metrics *metrics.Metrics

	Funding *service.FundingService
	Users   *service.UserService
	Closing *service.ClosingService

	closers []func() error
}

// New opens the database, applies embedded migrations on SQLite, and builds
// the locker, cache, metrics and services. Redis backs locks and cache when
// redis.enabled is set; process memory does otherwise.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	db, repos, err := OpenDatabase(ctx, cfg.Database, logger.With().Str("component", "database").Logger())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	app.DB = db
	app.Repos = repos
	app.closers = append(app.closers, db.Close)

	if cfg.Database.IsEmbedded() {
		if err := db.Migrate(ctx); err != nil {
			app.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	if cfg.Redis.Enabled {
		client := goredis.NewClient(&goredis.Options{
			Addr:        cfg.Redis.Addr(),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		app.closers = append(app.closers, client.Close)

		if err := client.Ping(ctx).Err(); err != nil {
			app.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr(), err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr()).Msg("connected to Redis")

		app.Locker = lock.NewRedisLocker(client)
		if cfg.Cache.Enabled {
			app.Cache = rediscache.NewCache(client, cfg.Cache.KeyPrefix)
		}
	} else {
		locker := lock.NewMemoryLocker()
		app.Locker = locker
		app.closers = append(app.closers, locker.Close)

		if cfg.Cache.Enabled {
			c := memory.NewCache()
			app.Cache = c
			app.closers = append(app.closers, func() error {
				c.Stop()
				return nil
			})
		}
	}

	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewMetrics()
		if err := registerDBStats(app.Metrics, db); err != nil {
			app.Close()
			return nil, fmt.Errorf("register database metrics: %w", err)
		}
	}

	ttl := cfg.Cache.ProgressTTL
	if !cfg.Cache.Enabled {
		ttl = 0
	}
	policy := cfg.Points.Policy()

	app.Funding = service.NewFundingService(repos.Project, repos.User, app.Locker, app.Cache, app.Metrics, logger, service.FundingConfig{
		Factor:             cfg.Funding.Factor,
		MinClosePercentage: cfg.Funding.MinClosePercentage,
		TargetFunds:        cfg.Funding.TargetFunds,
		PointsPolicy:       policy,
		ProgressTTL:        ttl,
		Lock:               lock.DefaultRetryPolicy,
	})
	app.Users = service.NewUserService(repos.User, app.Locker, app.Cache, app.Metrics, logger, service.UserConfig{
		PointsPolicy: policy,
		PointsTTL:    ttl,
		Lock:         lock.DefaultRetryPolicy,
	})
	app.Closing = service.NewClosingService(repos.Project, app.Funding, app.Locker, app.Metrics, logger, service.ClosingConfig{
		Enabled:   cfg.Closing.Enabled,
		Schedule:  cfg.Closing.Schedule,
		BatchSize: cfg.Closing.BatchSize,
		LockTTL:   cfg.Closing.LockTTL,
	})

	return app, nil
}

// registerDBStats exposes the connection pool of whichever driver is open.
func registerDBStats(m *metrics.Metrics, db repository.Database) error {
	switch d := db.(type) {
	case *sqlite.DB:
		return m.RegisterSQLStats(d.DB())
	case *postgres.DB:
		return m.RegisterPoolStats(func() metrics.PoolStats {
			s := d.Stats()
			return metrics.PoolStats{
				Acquired: s.AcquiredConns(),
				Idle:     s.IdleConns(),
				Total:    s.TotalConns(),
				Max:      s.MaxConns(),
			}
		})
	default:
		return nil
	}
}

// Close releases every resource opened by New, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
