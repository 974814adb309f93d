package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// memoryBuffer is the capacity of each in-memory subscription
const memoryBuffer = 10000

// ErrQueueClosed is returned when publishing to a closed queue
var ErrQueueClosed = errors.New("events: queue closed")

// MemoryQueue implements Queue in process. Messages published while no
// subscription matches are dropped, as with core NATS.
type MemoryQueue struct {
	subscriptions map[string]*memorySubscription
	closed        bool
	mu            sync.RWMutex
}

type memorySubscription struct {
	pattern string
	ch      chan Message
	cancel  context.CancelFunc
}

// newMemoryQueue creates a new in-memory queue instance
func newMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		subscriptions: make(map[string]*memorySubscription),
	}
}

// Publish delivers a copy of data to every matching subscription
func (q *MemoryQueue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	for _, sub := range q.subscriptions {
		if !MatchSubject(sub.pattern, subject) {
			continue
		}
		// Make a copy of data to avoid race conditions
		dataCopy := make([]byte, len(data))
		copy(dataCopy, data)

		select {
		case sub.ch <- Message{Subject: subject, Data: dataCopy}:
		default:
			return fmt.Errorf("subscription %s is full", sub.pattern)
		}
	}
	return nil
}

// PublishBatch publishes messages in order
func (q *MemoryQueue) PublishBatch(ctx context.Context, messages []Message) (int, error) {
	successCount := 0
	var lastErr error
	for _, msg := range messages {
		if err := q.Publish(ctx, msg.Subject, msg.Data); err != nil {
			lastErr = err
			continue
		}
		successCount++
	}
	return successCount, lastErr
}

// Subscribe starts delivering messages matching pattern to handler
func (q *MemoryQueue) Subscribe(pattern string, handler MessageHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, exists := q.subscriptions[pattern]; exists {
		return fmt.Errorf("already subscribed to subject: %s", pattern)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &memorySubscription{
		pattern: pattern,
		ch:      make(chan Message, memoryBuffer),
		cancel:  cancel,
	}
	q.subscriptions[pattern] = sub

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-sub.ch:
				// No redelivery in memory, a failed message is dropped
				_ = handler(msg.Subject, msg.Data)
			}
		}
	}()
	return nil
}

// Unsubscribe stops a subscription
func (q *MemoryQueue) Unsubscribe(pattern string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	sub, exists := q.subscriptions[pattern]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", pattern)
	}
	sub.cancel()
	delete(q.subscriptions, pattern)
	return nil
}

// Close stops all subscriptions
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for pattern, sub := range q.subscriptions {
		sub.cancel()
		delete(q.subscriptions, pattern)
	}
	q.closed = true
	return nil
}

// PendingCount returns the number of undelivered messages of a subscription
func (q *MemoryQueue) PendingCount(pattern string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if sub, exists := q.subscriptions[pattern]; exists {
		return len(sub.ch)
	}
	return 0
}
