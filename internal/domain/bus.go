package domain

import (
	"context"
)

// EventBus carries assessment requests and results between tenants'
// producers and consumers. Every call is scoped to one tenant; a consumer
// never sees another tenant's messages.
type EventBus interface {
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes and blocks until a consumer answers with bus.Reply
	// or ctx ends.
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler consumes one message. A returned error is logged by the
// bus; the message is not redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope every bus implementation transports. Payload is
// usually a JSON document such as an assessment request or a completed
// RiskAssessment.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"` // unix nanoseconds
}

// Meta returns a metadata entry, or "" when absent.
func (m *Message) Meta(key string) string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// SetMeta stores a metadata entry.
func (m *Message) SetMeta(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}

// Subscription is an active handler registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus. Type is "channel" (in process)
// or "nats".
type EventBusConfig struct {
	Type string `json:"type" yaml:"type"`

	ChannelBufferSize int `json:"channelBufferSize" yaml:"channelBufferSize"`

	NATSUrl           string `json:"natsUrl" yaml:"natsUrl"`
	NATSToken         string `json:"-" yaml:"natsToken"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"natsReconnectWait"` // seconds
}

// Topics of the assessment pipeline.
const (
	TopicAssessmentRequested = "assessment.requested"
	TopicAssessmentCompleted = "assessment.completed"
	TopicAssessmentFailed    = "assessment.failed"
	TopicHighRisk            = "assessment.high_risk"
	TopicModelUpdated        = "model.updated"
)
