// Package memory keeps published vehicle events in process. It backs local
// runs without a Pub/Sub topic and the tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultMaxMessages is how many events New keeps before dropping the oldest.
const DefaultMaxMessages = 1000

// PublishedMessage is one recorded event. Data is the JSON body a Pub/Sub
// subscriber would have received.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
	Data    []byte
}

// Publisher records events instead of sending them.
type Publisher struct {
	logger *zap.Logger

	limit  int

	mu       sync.RWMutex
	total    int
	messages []PublishedMessage
}

// New returns a memory Publisher that keeps the last DefaultMaxMessages
// events. Each event is logged at debug level.
func New(logger *zap.Logger) *Publisher {
	return NewWithLimit(logger, DefaultMaxMessages)
}

// NewWithLimit keeps at most limit events; limit <= 0 means
// DefaultMaxMessages.
func NewWithLimit(logger *zap.Logger, limit int) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = DefaultMaxMessages
	}
	return &Publisher{logger: logger, limit: limit}
}

// Publish encodes payload the way the Pub/Sub publisher does and records it.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	p.total++
	id := fmt.Sprintf("memory-%d", p.total)
	if len(p.messages) == p.limit {
		n := copy(p.messages, p.messages[1:])
		p.messages = p.messages[:n]
	}
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload, Data: data})
	p.mu.Unlock()

	p.logger.Debug("event recorded",
		zap.String("topic", topic),
		zap.String("message_id", id),
		zap.ByteString("data", data),
	)
	return id, nil
}

// Messages returns the retained events, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// ForTopic returns the payloads published to topic, oldest first.
func (p *Publisher) ForTopic(topic string) []any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []any
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}
