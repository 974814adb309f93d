// Package zerofill inserts zero datapoints into the empty buckets of series
// that opted in, so that periods without activity count as zero instead of
// being skipped by the trend.
package zerofill

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lifelog/lifelog/internal/calendar"
	"github.com/lifelog/lifelog/internal/logging"
	"github.com/lifelog/lifelog/internal/metrics"
	"github.com/lifelog/lifelog/internal/models"
)

// Engine is the part of the aggregation engine a sweep drives
type Engine interface {
	ListSeries(ctx context.Context) ([]*models.Series, error)
	Zerofill(ctx context.Context, seriesID, now int64, maxBuckets int) (int, error)
	Calendar() *calendar.Calendar
}

// Config configures a Scheduler
type Config struct {
	CheckInterval time.Duration
	Workers       int
	MaxBuckets    int
	Now           func() time.Time
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		CheckInterval: time.Minute,
		Workers:       4,
		MaxBuckets:    10000,
	}
}

// SweepResult summarizes one sweep
type SweepResult struct {
	Visited  int `json:"visited"`
	Inserted int `json:"inserted"`
	Failures int `json:"failures"`
}

// Scheduler sweeps once at start and again whenever the clock crosses an
// hour boundary of the engine calendar.
type Scheduler struct {
	engine  Engine
	config  Config
	metrics *metrics.Metrics
	logger  *logging.Logger

	mu       sync.Mutex // serializes sweeps
	lastHour int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a scheduler. m may be nil.
func New(e Engine, cfg Config, m *metrics.Metrics, logger *logging.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxBuckets <= 0 {
		cfg.MaxBuckets = def.MaxBuckets
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &Scheduler{
		engine:   e,
		config:   cfg,
		metrics:  m,
		logger:   logger.With("component", "zerofill"),
		lastHour: math.MinInt64,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the first sweep and the check loop in the background
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("Zerofill scheduler started",
		"check_interval", s.config.CheckInterval,
		"workers", s.config.Workers)
}

// Stop stops the check loop and waits for a running sweep to finish
// and is safe to call more than once or without Start.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("Zerofill scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.check(ctx)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

// check sweeps if the current hour differs from the hour of the last sweep
func (s *Scheduler) check(ctx context.Context) {
	hour := s.engine.Calendar().PeriodStart(s.config.Now().Unix(), calendar.Hour)

	s.mu.Lock()
	due := hour != s.lastHour
	s.mu.Unlock()
	if !due {
		return
	}

	res, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("Zerofill sweep failed", "error", err)
		return
	}
	s.logger.Debug("Zerofill sweep finished",
		"visited", res.Visited,
		"inserted", res.Inserted,
		"failures", res.Failures)
}

// Sweep zerofills every eligible series. Failures of single series are
// counted and logged; only a failure to list the series is returned.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	now := s.config.Now().Unix()

	all, err := s.engine.ListSeries(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	var visited, inserted, failures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)

	for _, series := range all {
		if !series.ZerofillEligible() {
			continue
		}
		id, name := series.ID, series.Name
		g.Go(func() error {
			visited.Add(1)
			n, err := s.engine.Zerofill(gctx, id, now, s.config.MaxBuckets)
			if err != nil {
				failures.Add(1)
				s.logger.Warn("Zerofill failed", "series_id", id, "name", name, "error", err)
				return nil
			}
			inserted.Add(int64(n))
			if n == s.config.MaxBuckets {
				s.logger.Warn("Zerofill hit the bucket limit, the next sweep continues",
					"series_id", id, "max_buckets", n)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.lastHour = s.engine.Calendar().PeriodStart(now, calendar.Hour)
	res := SweepResult{
		Visited:  int(visited.Load()),
		Inserted: int(inserted.Load()),
		Failures: int(failures.Load()),
	}
	s.metrics.RecordSweep(res.Inserted, res.Failures, time.Since(start))
	return res, nil
}
