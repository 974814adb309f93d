package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	stream := fmt.Sprintf("lifelog-test:%d", time.Now().UnixNano())
	q, err := newRedisQueue(RedisConfig{URL: redisURL(t), Stream: stream, Group: "test"})
	require.NoError(t, err)
	t.Cleanup(func() {
		q.client.Del(context.Background(), stream)
		_ = q.Close()
	})
	return q
}

func TestNewRedisQueue_Unreachable(t *testing.T) {
	_, err := newRedisQueue(RedisConfig{URL: "redis://127.0.0.1:1"})
	assert.Error(t, err)
}

func TestRedisQueue_Defaults(t *testing.T) {
	q := newTestRedisQueue(t)
	assert.Equal(t, int64(100000), q.config.MaxLen)
	assert.NotEmpty(t, q.config.Consumer)
	assert.Equal(t, "test-lifelog_all", q.groupName("lifelog.>"))
}

func TestRedisQueue_PublishSubscribe(t *testing.T) {
	q := newTestRedisQueue(t)

	c := newCollector()
	require.NoError(t, q.Subscribe("lifelog.7", c.handle))
	assert.Error(t, q.Subscribe("lifelog.7", c.handle))

	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, "lifelog.8", []byte("skip")))
	n, err := q.PublishBatch(ctx, []Message{
		{Subject: "lifelog.7", Data: []byte("a")},
		{Subject: "lifelog.7", Data: []byte("b")},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, []byte("a"), c.next(t).Data)
	assert.Equal(t, []byte("b"), c.next(t).Data)
	c.none(t, 100*time.Millisecond)

	require.NoError(t, q.Unsubscribe("lifelog.7"))
}
