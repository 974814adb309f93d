package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lifelog/lifelog/internal/engine"
	"github.com/lifelog/lifelog/internal/logging"
	"github.com/lifelog/lifelog/internal/models"
	"github.com/lifelog/lifelog/internal/utils"
	"github.com/lifelog/lifelog/internal/zerofill"
)

// Sweeper runs one zerofill sweep on demand
type Sweeper interface {
	Sweep(ctx context.Context) (zerofill.SweepResult, error)
}

// Handler contains all HTTP handlers
type Handler struct {
	logger  *logging.Logger
	engine  *engine.Engine
	sweeper Sweeper
	version string
	backend string
	now     func() time.Time
}

// Options configures a Handler
type Options struct {
	Sweeper Sweeper
	Version string
	Backend string // store backend reported by /health
	Now     func() time.Time
}

// New creates a new handler instance
func New(logger *logging.Logger, e *engine.Engine, opts Options) *Handler {
	if logger == nil {
		logger = logging.Global()
	}
	h := &Handler{
		logger:  logger.With("component", "http"),
		engine:  e,
		sweeper: opts.Sweeper,
		version: opts.Version,
		backend: opts.Backend,
		now:     opts.Now,
	}
	if h.version == "" {
		h.version = "dev"
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// requestContext bounds a handler's work by timeout
func requestContext(c *fiber.Ctx, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), timeout)
}

func (h *Handler) context(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return requestContext(c, utils.DefaultRequestTimeout)
}

// paramID parses a positive integer path parameter
func paramID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, models.InvalidArgumentf("%s must be a positive integer", name)
	}
	return id, nil
}

// queryInt64 parses an optional integer query parameter
func queryInt64(c *fiber.Ctx, name string, def int64) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, models.InvalidArgumentf("%s must be an integer", name)
	}
	return v, nil
}

// parseBody decodes the request body into out
func parseBody(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return models.InvalidArgumentf("invalid request body: %v", err)
	}
	return nil
}

// timestampOr returns *ts or the current unix time
func (h *Handler) timestampOr(ts *int64) int64 {
	if ts != nil {
		return *ts
	}
	return h.now().Unix()
}
