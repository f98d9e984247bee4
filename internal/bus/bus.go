// Package bus provides the event buses that carry assessment requests and
// results between the API, the async worker and downstream consumers.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// MetaReplyTo is the metadata key holding the topic a request expects its
// reply on.
const MetaReplyTo = "reply_to"

// DefaultRequestTimeout bounds Request when the context has no deadline.
const DefaultRequestTimeout = 30 * time.Second

var (
	// ErrTenantRequired is returned when a call omits the tenant ID.
	ErrTenantRequired = errors.New("tenantID is required")

	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("bus is closed")
)

// New creates an event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// Reply answers a request message. Messages without a reply topic are
// ignored.
func Reply(ctx context.Context, b domain.EventBus, msg *domain.Message, payload []byte) error {
	replyTo := msg.Meta(MetaReplyTo)
	if replyTo == "" {
		return nil
	}
	return b.Publish(ctx, msg.TenantID, replyTo, payload)
}

// checkTenant rejects ids that are empty or unusable as a subject token.
func checkTenant(tenantID string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	return domain.ValidateTenantID(tenantID)
}

func newMessage(tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}

func requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultRequestTimeout)
}
