package events

import (
	"context"
	"strings"
)

// Publisher publishes messages to a subject
type Publisher interface {
	// Publish publishes one message and waits for the broker to accept it
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishBatch publishes several messages and waits for all of them.
	// Returns the number of messages the broker accepted.
	PublishBatch(ctx context.Context, messages []Message) (int, error)

	// Close closes the connection
	Close() error
}

// Message is one published message
type Message struct {
	Subject string
	Data    []byte
}

// Subscriber delivers messages whose subject matches a pattern.
//
// Patterns use NATS syntax on dot-separated tokens: "*" matches one token
// and a trailing ">" matches one or more tokens.
type Subscriber interface {
	Subscribe(pattern string, handler MessageHandler) error
	Unsubscribe(pattern string) error
	Close() error
}

// MessageHandler handles one delivered message. Returning an error leaves
// the message unacknowledged on brokers that redeliver.
type MessageHandler func(subject string, data []byte) error

// Queue combines Publisher and Subscriber
type Queue interface {
	Publisher
	Subscriber
}

// MatchSubject reports whether subject matches pattern
func MatchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

// sanitizeName replaces characters not allowed in consumer and group names.
// Names can only contain: A-Z, a-z, 0-9, dash (-) and underscore (_)
func sanitizeName(subject string) string {
	result := make([]byte, 0, len(subject))
	for i := 0; i < len(subject); i++ {
		c := subject[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
			result = append(result, c)
		case c == '*':
			result = append(result, "star"...)
		case c == '>':
			result = append(result, "all"...)
		default:
			result = append(result, '_')
		}
	}
	return string(result)
}
