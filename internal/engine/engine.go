// Package engine maintains the per-granularity aggregates of every series.
//
// Every mutation runs in one store transaction: the row change, the stats
// refresh of all granularities from the earliest affected timestamp, and the
// re-evaluation of every synthetic series downstream of the changed one. Change
// events are published only after the transaction commits.
//
// Mutations lock the changed series and all of its transitive dependents, in
// ascending id order, so writers of unrelated series never wait on each other.
// Operations that change dependency edges take the graph lock exclusively.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/lifelog/lifelog/internal/calendar"
	"github.com/lifelog/lifelog/internal/dependency"
	"github.com/lifelog/lifelog/internal/formula"
	"github.com/lifelog/lifelog/internal/logging"
	"github.com/lifelog/lifelog/internal/metrics"
	"github.com/lifelog/lifelog/internal/models"
	"github.com/lifelog/lifelog/internal/store"
)

// Defaults for Options
const (
	DefaultMaxCascadeDepth = 32
	DefaultLockTimeout     = 10 * time.Second
)

// Notifier receives the events of committed mutations
type Notifier interface {
	Notify(ctx context.Context, events []models.ChangeEvent) error
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Calendar        *calendar.Calendar
	Aligner         formula.Aligner
	Notifier        Notifier
	Metrics         *metrics.Metrics
	Logger          *logging.Logger
	MaxCascadeDepth int
	LockTimeout     time.Duration
	Now             func() time.Time
}

// Engine applies mutations and keeps aggregates consistent
type Engine struct {
	store    store.Store
	cal      *calendar.Calendar
	aligner  formula.Aligner
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *logging.Logger
	maxDepth int
	timeout  time.Duration
	now      func() time.Time

	graph sync.RWMutex
	locks *seriesLocks
}

// New creates an engine on top of s
func New(s store.Store, opts Options) *Engine {
	e := &Engine{
		store:    s,
		cal:      opts.Calendar,
		aligner:  opts.Aligner,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		maxDepth: opts.MaxCascadeDepth,
		timeout:  opts.LockTimeout,
		now:      opts.Now,
		locks:    newSeriesLocks(),
	}
	if e.cal == nil {
		e.cal = calendar.New()
	}
	if e.aligner == nil {
		e.aligner = formula.StepAligner{}
	}
	if e.logger == nil {
		e.logger = logging.Global()
	}
	e.logger = e.logger.With("component", "engine")
	if e.maxDepth == 0 {
		e.maxDepth = DefaultMaxCascadeDepth
	}
	if e.timeout == 0 {
		e.timeout = DefaultLockTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Calendar returns the calendar used for bucket boundaries
func (e *Engine) Calendar() *calendar.Calendar {
	return e.cal
}

// Store returns the underlying store
func (e *Engine) Store() store.Store {
	return e.store
}

// mutate runs fn for a mutation of seriesID under the locks of its closure
// and cascades into its dependents before committing.
func (e *Engine) mutate(ctx context.Context, op string, seriesID int64, fn func(m *mutation) error) error {
	start := time.Now()

	e.graph.RLock()
	defer e.graph.RUnlock()

	var ids []int64
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		ids, err = dependency.Closure(r, seriesID)
		return err
	})
	if err != nil {
		e.metrics.RecordMutation(op, err, time.Since(start))
		return err
	}

	lockStart := time.Now()
	release, err := e.locks.acquire(ctx, ids, e.timeout)
	e.metrics.RecordLockWait(time.Since(lockStart), err != nil)
	if err != nil {
		e.metrics.RecordMutation(op, err, time.Since(start))
		return err
	}
	defer release()

	return e.run(ctx, op, start, func(m *mutation) error {
		if err := fn(m); err != nil {
			return err
		}
		if !m.touched[seriesID] {
			return nil
		}
		return m.cascade(seriesID)
	})
}

// exclusive runs fn while no other mutation is in flight
func (e *Engine) exclusive(ctx context.Context, op string, fn func(m *mutation) error) error {
	start := time.Now()
	e.graph.Lock()
	defer e.graph.Unlock()
	return e.run(ctx, op, start, fn)
}

func (e *Engine) run(ctx context.Context, op string, start time.Time, fn func(m *mutation) error) error {
	var m *mutation
	err := e.store.Update(ctx, func(tx store.Tx) error {
		m = newMutation(e, tx)
		return fn(m)
	})
	e.metrics.RecordMutation(op, err, time.Since(start))
	if err != nil {
		e.logger.Debug("Mutation failed", "op", op, "error", err)
		return err
	}

	e.metrics.RecordRowsRewritten(m.rows)
	e.metrics.RecordCascade(m.cascaded)
	e.publish(ctx, m.events)
	return nil
}

func (e *Engine) publish(ctx context.Context, events []models.ChangeEvent) {
	if e.notifier == nil || len(events) == 0 {
		return
	}
	err := e.notifier.Notify(ctx, events)
	e.metrics.RecordPublish(len(events), err)
	if err != nil {
		e.logger.Warn("Failed to publish change events", "count", len(events), "error", err)
	}
}

func (e *Engine) timestamp() time.Time {
	return e.now().UTC()
}
