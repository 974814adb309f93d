package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lifelog/lifelog/internal/utils"
)

// KafkaConfig represents Apache Kafka configuration
type KafkaConfig struct {
	Brokers       []string      // Kafka broker addresses
	Topic         string        // Topic holding every event (default: "lifelog-events")
	GroupID       string        // Consumer group prefix (default: "lifelog")
	BatchSize     int           // Batch size for producer (default: 100)
	BatchTimeout  time.Duration // Batch timeout for producer (default: 10ms)
	RequiredAcks  int           // Required acks: 0=none, 1=leader, -1=all (default: 1)
	MaxRetries    int           // Max retries on failure (default: 3)
	RetryBackoff  time.Duration // Backoff between commit retries (default: 100ms)
	CommitRetries int           // Consumer commit retries (default: 3)
}

// KafkaQueue implements Queue on a single topic. The subject is the message
// key, so all events of one series land on one partition in order.
type KafkaQueue struct {
	config        KafkaConfig
	writer        *kafka.Writer
	readers       map[string]*kafka.Reader
	subscriptions map[string]context.CancelFunc
	mu            sync.RWMutex
}

// newKafkaQueue creates a new Kafka queue instance
func newKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}

	if cfg.Topic == "" {
		cfg.Topic = "lifelog-events"
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "lifelog"
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = int(kafka.RequireOne)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = utils.DefaultMaxRetries
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = utils.DefaultRetryBackoff
	}
	if cfg.CommitRetries == 0 {
		cfg.CommitRetries = utils.DefaultMaxRetries
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:            cfg.MaxRetries,
		AllowAutoTopicCreation: true,
	}

	return &KafkaQueue{
		config:        cfg,
		writer:        writer,
		readers:       make(map[string]*kafka.Reader),
		subscriptions: make(map[string]context.CancelFunc),
	}, nil
}

func message(subject string, data []byte) kafka.Message {
	return kafka.Message{
		Key:   []byte(subject),
		Value: data,
		Time:  time.Now(),
	}
}

// Publish writes one message keyed by subject
func (q *KafkaQueue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := q.writer.WriteMessages(ctx, message(subject, data)); err != nil {
		return fmt.Errorf("failed to publish to kafka topic %s: %w", q.config.Topic, err)
	}
	return nil
}

// PublishBatch writes all messages in one call
func (q *KafkaQueue) PublishBatch(ctx context.Context, messages []Message) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	msgs := make([]kafka.Message, len(messages))
	for i, m := range messages {
		msgs[i] = message(m.Subject, m.Data)
	}

	err := q.writer.WriteMessages(ctx, msgs...)
	if err == nil {
		return len(msgs), nil
	}

	// Partial failures report per message
	if werr, ok := err.(kafka.WriteErrors); ok {
		return len(msgs) - werr.Count(), fmt.Errorf("failed to publish batch: %w", err)
	}
	return 0, fmt.Errorf("failed to publish batch: %w", err)
}

// Subscribe reads the topic with a consumer group bound to pattern
func (q *KafkaQueue) Subscribe(pattern string, handler MessageHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.subscriptions[pattern]; exists {
		return fmt.Errorf("already subscribed to topic: %s", pattern)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        q.config.Brokers,
		GroupID:        q.config.GroupID + "-" + sanitizeName(pattern),
		Topic:          q.config.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	q.readers[pattern] = reader
	q.subscriptions[pattern] = cancel

	go q.consumeMessages(ctx, reader, pattern, handler)
	return nil
}

// consumeMessages reads messages in a loop and commits handled ones
func (q *KafkaQueue) consumeMessages(ctx context.Context, reader *kafka.Reader, pattern string, handler MessageHandler) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(q.config.RetryBackoff)
			continue
		}

		subject := string(msg.Key)
		if MatchSubject(pattern, subject) {
			if err := handler(subject, msg.Value); err != nil {
				// Not committed, redelivered after a rebalance
				continue
			}
		}

		for i := 0; i < q.config.CommitRetries; i++ {
			if err := reader.CommitMessages(ctx, msg); err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			time.Sleep(q.config.RetryBackoff)
		}
	}
}

// Unsubscribe stops the consumer of pattern
func (q *KafkaQueue) Unsubscribe(pattern string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cancel, exists := q.subscriptions[pattern]
	if !exists {
		return fmt.Errorf("not subscribed to topic: %s", pattern)
	}
	cancel()
	if reader, ok := q.readers[pattern]; ok {
		_ = reader.Close()
		delete(q.readers, pattern)
	}
	delete(q.subscriptions, pattern)
	return nil
}

// Close closes all readers and the writer
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var lastErr error
	for pattern, cancel := range q.subscriptions {
		cancel()
		if reader, ok := q.readers[pattern]; ok {
			if err := reader.Close(); err != nil {
				lastErr = err
			}
		}
		delete(q.subscriptions, pattern)
		delete(q.readers, pattern)
	}
	if err := q.writer.Close(); err != nil {
		lastErr = err
	}
	return lastErr
}

// Stats returns writer stats for monitoring
func (q *KafkaQueue) Stats() kafka.WriterStats {
	return q.writer.Stats()
}
