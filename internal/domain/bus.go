package domain

import (
	"context"
	"time"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope carried on the bus.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type" yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `json:"channelBufferSize" yaml:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string        `json:"natsUrl" yaml:"natsUrl"`
	NATSToken         string        `json:"-" yaml:"natsToken"`
	NATSMaxReconnects int           `json:"natsMaxReconnects" yaml:"natsMaxReconnects"`
	NATSReconnectWait time.Duration `json:"natsReconnectWait" yaml:"natsReconnectWait"`
}

// AllTenants subscribes to a topic for every tenant. Handlers read the
// tenant from Message.TenantID.
const AllTenants = "*"

// Topics used by the scoring pipeline.
const (
	TopicScoreRequested = "kestrel.score.requested"
	TopicScoreCompleted = "kestrel.score.completed"
)

// ScoreRequest is the payload of TopicScoreRequested.
type ScoreRequest struct {
	RunID    string     `json:"runId"`
	TenantID string     `json:"tenantId"`
	BranchID *string    `json:"branchId,omitempty"`
	AsOf     *time.Time `json:"asOf,omitempty"`
	TraceID  string     `json:"traceId,omitempty"`
}
