package utils

import "time"

// =============================================================================
// Timeout Constants
// =============================================================================

// HTTP Handler Timeouts
const (
	// DefaultRequestTimeout is the default timeout for HTTP requests
	DefaultRequestTimeout = 30 * time.Second

	// AdminRequestTimeout bounds recompute and zerofill requests, which may
	// rewrite every row of a series
	AdminRequestTimeout = 5 * time.Minute

	// ShutdownTimeout is how long the server waits for in-flight requests
	ShutdownTimeout = 10 * time.Second
)

// Event Bus Timeouts
const (
	// PublishTimeout bounds publishing the events of one mutation
	PublishTimeout = 5 * time.Second

	// BrokerConnectTimeout is the timeout for the first broker round trip
	BrokerConnectTimeout = 5 * time.Second

	// EmbeddedNATSReadyTimeout is how long startup waits for the embedded server
	EmbeddedNATSReadyTimeout = 5 * time.Second
)

// =============================================================================
// Retry and Backoff Constants
// =============================================================================

const (
	// DefaultMaxRetries is the default number of retry attempts
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the default backoff duration between retries
	DefaultRetryBackoff = 100 * time.Millisecond
)

// =============================================================================
// Query Limits
// =============================================================================

const (
	// DefaultQueryCount is the number of datapoints returned when count is omitted
	DefaultQueryCount = 100

	// MaxQueryCount caps the count accepted by the recent query
	MaxQueryCount = 10000

	// MaxBatchSize caps the datapoints of one batch insert
	MaxBatchSize = 5000
)

// =============================================================================
// Event Bus Type Constants
// =============================================================================

// QueueType represents the type of message queue
type QueueType string

const (
	// QueueTypeNone disables change notifications
	QueueTypeNone QueueType = "none"

	// QueueTypeNATS represents NATS JetStream queue
	QueueTypeNATS QueueType = "nats"

	// QueueTypeRedis represents Redis Streams queue
	QueueTypeRedis QueueType = "redis"

	// QueueTypeKafka represents Apache Kafka queue
	QueueTypeKafka QueueType = "kafka"

	// QueueTypeMemory represents in-memory queue (default)
	QueueTypeMemory QueueType = "memory"
)
