package events

import (
	"fmt"
	"strings"

	"github.com/lifelog/lifelog/internal/config"
	"github.com/lifelog/lifelog/internal/utils"
)

// NewQueue creates the queue selected by cfg.Type. The type "none" returns
// a nil Queue. Memory is the default.
func NewQueue(cfg config.EventsConfig) (Queue, error) {
	queueType := utils.QueueType(strings.ToLower(cfg.Type))
	if queueType == "" {
		queueType = utils.QueueTypeMemory
	}

	switch queueType {
	case utils.QueueTypeNone:
		return nil, nil

	case utils.QueueTypeNATS:
		return newNATSQueue(NATSConfig{
			URL:      cfg.URL,
			Username: cfg.Username,
			Password: cfg.Password,
			Stream:   strings.ToUpper(sanitizeName(cfg.SubjectPrefix)),
			Subjects: []string{Pattern(cfg.SubjectPrefix)},
		})

	case utils.QueueTypeRedis:
		return newRedisQueue(RedisConfig{
			URL:      cfg.URL,
			Password: cfg.Password,
			DB:       cfg.RedisDB,
			Stream:   cfg.RedisStream,
			Group:    cfg.RedisGroup,
			Consumer: cfg.RedisConsumer,
		})

	case utils.QueueTypeKafka:
		return newKafkaQueue(KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   sanitizeName(cfg.SubjectPrefix) + "-events",
			GroupID: cfg.KafkaGroupID,
		})

	case utils.QueueTypeMemory:
		return newMemoryQueue(), nil

	default:
		return nil, fmt.Errorf("unsupported queue type: %s (supported: none, memory, nats, redis, kafka)", queueType)
	}
}
