package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/lifelog/lifelog/internal/logging"
	"github.com/lifelog/lifelog/internal/models"
	"github.com/lifelog/lifelog/internal/utils"
)

// Subject returns the subject the events of a series are published on
func Subject(prefix string, seriesID int64) string {
	return prefix + "." + strconv.FormatInt(seriesID, 10)
}

// Pattern returns the pattern matching the events of every series
func Pattern(prefix string) string {
	return prefix + ".>"
}

// Bus publishes change events as JSON on <prefix>.<series_id>
type Bus struct {
	queue  Queue
	prefix string
	logger *logging.Logger
}

// NewBus creates a bus on top of q
func NewBus(q Queue, prefix string, logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Global()
	}
	return &Bus{
		queue:  q,
		prefix: prefix,
		logger: logger.With("component", "events"),
	}
}

// Notify publishes events in order. Publishing is not tied to the
// cancellation of ctx since the mutation has already committed.
func (b *Bus) Notify(ctx context.Context, events []models.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]Message, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", ev.ID, err)
		}
		msgs = append(msgs, Message{Subject: Subject(b.prefix, ev.SeriesID), Data: data})
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), utils.PublishTimeout)
	defer cancel()

	n, err := b.queue.PublishBatch(ctx, msgs)
	if err != nil {
		return fmt.Errorf("published %d of %d events: %w", n, len(msgs), err)
	}
	b.logger.Debug("Published change events", "count", n)
	return nil
}

// Subscribe calls fn for every event matching pattern. An empty pattern
// selects all series.
func (b *Bus) Subscribe(pattern string, fn func(models.ChangeEvent) error) error {
	if pattern == "" {
		pattern = Pattern(b.prefix)
	}
	return b.queue.Subscribe(pattern, func(subject string, data []byte) error {
		ev, err := DecodeEvent(data)
		if err != nil {
			// Undecodable messages are acknowledged and dropped
			b.logger.Warn("Dropping malformed event", "subject", subject, "error", err)
			return nil
		}
		return fn(ev)
	})
}

// Unsubscribe stops a subscription made with Subscribe
func (b *Bus) Unsubscribe(pattern string) error {
	if pattern == "" {
		pattern = Pattern(b.prefix)
	}
	return b.queue.Unsubscribe(pattern)
}

// Close closes the underlying queue
func (b *Bus) Close() error {
	return b.queue.Close()
}

// DecodeEvent parses a published event
func DecodeEvent(data []byte) (models.ChangeEvent, error) {
	var ev models.ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
