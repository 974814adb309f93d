package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKafkaQueue_Defaults(t *testing.T) {
	q, err := newKafkaQueue(KafkaConfig{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	assert.Equal(t, "lifelog-events", q.config.Topic)
	assert.Equal(t, "lifelog", q.config.GroupID)
	assert.Equal(t, 100, q.config.BatchSize)
	assert.Equal(t, 3, q.config.CommitRetries)
	assert.Equal(t, "lifelog-events", q.writer.Topic)
}

func TestNewKafkaQueue_NoBrokers(t *testing.T) {
	_, err := newKafkaQueue(KafkaConfig{})
	assert.Error(t, err)
}

func TestKafkaQueue_UnsubscribeUnknown(t *testing.T) {
	q, err := newKafkaQueue(KafkaConfig{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	assert.Error(t, q.Unsubscribe("lifelog.>"))
}

func TestKafkaQueue_PublishSubscribe(t *testing.T) {
	topic := fmt.Sprintf("lifelog-test-%d", time.Now().UnixNano())
	q, err := newKafkaQueue(KafkaConfig{Brokers: kafkaBrokers(t), Topic: topic})
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := q.PublishBatch(ctx, []Message{
		{Subject: "lifelog.1", Data: []byte("a")},
		{Subject: "lifelog.2", Data: []byte("b")},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c := newCollector()
	require.NoError(t, q.Subscribe("lifelog.2", c.handle))
	m := c.next(t)
	assert.Equal(t, "lifelog.2", m.Subject)
	assert.Equal(t, []byte("b"), m.Data)
}
