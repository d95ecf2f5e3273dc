package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels or NATS.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "none", "channel" or "nats"
	Type string `env:"TYPE" envDefault:"channel"`

	// Channel settings
	ChannelBufferSize int `env:"CHANNEL_BUFFER_SIZE" envDefault:"1000"`

	// NATS settings
	NATSUrl           string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSToken         string `env:"NATS_TOKEN"`
	NATSMaxReconnects int    `env:"NATS_MAX_RECONNECTS" envDefault:"10"`
	NATSReconnectWait int    `env:"NATS_RECONNECT_WAIT" envDefault:"2"` // seconds
}

// Topic names used by the ingest pipeline.
const (
	// TopicEventIngested carries raw records accepted by the async endpoint.
	TopicEventIngested = "shaayud.event.ingested"

	// TopicEventScored carries a ScoredEvent after a successful commit.
	TopicEventScored = "shaayud.event.scored"
)

// ScoredEvent is published once an event is durably in the graph.
type ScoredEvent struct {
	EventID        string   `json:"eventId"`
	IdentityID     string   `json:"identityId"`
	DeviceID       string   `json:"deviceId"`
	SessionID      string   `json:"sessionId"`
	Total          int64    `json:"total"`
	Verdict        Verdict  `json:"verdict"`
	MatchedRules   []string `json:"matchedRules"`
	RuleSetVersion int64    `json:"ruleSetVersion"`
	Timestamp      int64    `json:"timestamp"`
}
