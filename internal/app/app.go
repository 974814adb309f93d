// Package app wires the store, engine, change bus and zerofill scheduler
// from a configuration.
package app

import (
	"context"
	"fmt"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/lifelog/lifelog/internal/calendar"
	"github.com/lifelog/lifelog/internal/config"
	"github.com/lifelog/lifelog/internal/engine"
	"github.com/lifelog/lifelog/internal/events"
	"github.com/lifelog/lifelog/internal/formula"
	"github.com/lifelog/lifelog/internal/logging"
	"github.com/lifelog/lifelog/internal/metrics"
	"github.com/lifelog/lifelog/internal/store"
	"github.com/lifelog/lifelog/internal/store/sqlstore"
	"github.com/lifelog/lifelog/internal/zerofill"
)

// App holds the running components of one process
type App struct {
	Config   *config.Config
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
	Store    store.Store
	Engine   *engine.Engine
	Bus      *events.Bus         // nil when events are disabled
	Zerofill *zerofill.Scheduler // swept on demand, ticking only when enabled

	nats    *server.Server
	started bool
}

// OpenStore opens the configured backend. SQL backends are migrated when
// MigrateOnStart is set.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case store.BackendMemory:
		return store.NewMemory(), nil
	case store.BackendSQLite, store.BackendPostgres:
		dsn := cfg.DSN
		if cfg.Backend == store.BackendSQLite {
			dsn = cfg.Path
		}
		s, err := sqlstore.Open(ctx, cfg.Backend, dsn)
		if err != nil {
			return nil, err
		}
		if cfg.MigrateOnStart {
			if err := s.Migrate(); err != nil {
				_ = s.Close()
				return nil, fmt.Errorf("failed to migrate %s store: %w", cfg.Backend, err)
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

// NewCalendar builds the calendar of cfg
func NewCalendar(cfg config.CalendarConfig) *calendar.Calendar {
	return calendar.New(
		calendar.WithLocation(cfg.Location()),
		calendar.WithFirstDayOfWeek(cfg.Weekday()),
		calendar.WithMaxEntries(cfg.CacheMaxMonths),
	)
}

// New builds every component of cfg. Nothing runs in the background until
// Start is called.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Global()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create data directories: %w", err)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewMetrics(),
	}

	s, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.Store = s
	logger.Info("Store opened", "backend", cfg.Store.Backend)

	if err := a.openBus(); err != nil {
		_ = a.Close()
		return nil, err
	}

	opts := engine.Options{
		Calendar:        NewCalendar(cfg.Calendar),
		Aligner:         formula.AlignerByName(cfg.Engine.Aligner),
		Metrics:         a.Metrics,
		Logger:          logger,
		MaxCascadeDepth: cfg.Engine.MaxCascadeDepth,
		LockTimeout:     cfg.Engine.LockTimeout,
	}
	if a.Bus != nil {
		opts.Notifier = a.Bus
	}
	a.Engine = engine.New(s, opts)

	zcfg := zerofill.DefaultConfig()
	if cfg.Zerofill.CheckInterval > 0 {
		zcfg.CheckInterval = cfg.Zerofill.CheckInterval
	}
	if cfg.Zerofill.Workers > 0 {
		zcfg.Workers = cfg.Zerofill.Workers
	}
	if cfg.Zerofill.MaxBuckets > 0 {
		zcfg.MaxBuckets = cfg.Zerofill.MaxBuckets
	}
	a.Zerofill = zerofill.New(a.Engine, zcfg, a.Metrics, logger)
	return a, nil
}

// openBus starts the embedded NATS server if configured and connects the queue
func (a *App) openBus() error {
	cfg := a.Config.Events
	if cfg.EmbeddedNATS {
		ns, err := events.StartEmbeddedNATS(cfg.EmbeddedNATSDir)
		if err != nil {
			return err
		}
		a.nats = ns
		cfg.URL = ns.ClientURL()
		a.Logger.Info("Embedded NATS server started", "url", cfg.URL)
	}

	q, err := events.NewQueue(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect events queue: %w", err)
	}
	if q == nil {
		a.Logger.Info("Change events disabled")
		return nil
	}
	a.Bus = events.NewBus(q, cfg.SubjectPrefix, a.Logger)
	a.Logger.Info("Change events enabled", "type", cfg.Type, "prefix", cfg.SubjectPrefix)
	return nil
}

// Start runs the background services
func (a *App) Start(ctx context.Context) {
	if a.Config.Zerofill.Enabled {
		a.Zerofill.Start(ctx)
		a.started = true
	}
}

// Close stops the background services and releases every resource
func (a *App) Close() error {
	if a.started {
		a.Zerofill.Stop()
		a.started = false
	}

	var firstErr error
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil {
			firstErr = err
		}
	}
	if a.nats != nil {
		a.nats.Shutdown()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
