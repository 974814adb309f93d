package events

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// setupTestNATS starts an embedded JetStream server for one test
func setupTestNATS(t *testing.T) (*server.Server, string) {
	t.Helper()
	ns, err := StartEmbeddedNATS(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to start NATS server: %v", err)
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns, ns.ClientURL()
}

// redisURL returns the Redis server used by broker tests, or skips
func redisURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("LIFELOG_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LIFELOG_TEST_REDIS_URL not set, skipping Redis test")
	}
	return url
}

// kafkaBrokers returns the Kafka brokers used by broker tests, or skips
func kafkaBrokers(t *testing.T) []string {
	t.Helper()
	brokers := os.Getenv("LIFELOG_TEST_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("LIFELOG_TEST_KAFKA_BROKERS not set, skipping Kafka test")
	}
	return strings.Split(brokers, ",")
}

// collector gathers delivered messages
type collector struct {
	ch chan Message
}

func newCollector() *collector {
	return &collector{ch: make(chan Message, 100)}
}

func (c *collector) handle(subject string, data []byte) error {
	c.ch <- Message{Subject: subject, Data: data}
	return nil
}

func (c *collector) next(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-c.ch:
		return m
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for message")
		return Message{}
	}
}

func (c *collector) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case m := <-c.ch:
		t.Fatalf("Unexpected message on %s", m.Subject)
	case <-time.After(wait):
	}
}
