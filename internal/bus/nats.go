package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// SubjectPrefix is the first token of every kestrel subject.
const SubjectPrefix = "kestrel"

// NATSBus carries messages over NATS core subjects named
// kestrel.<tenant>.<topic>, wrapped in a JSON domain.Message envelope.
// Delivery is at most once; the worker publishes failures instead of
// relying on redelivery.
type NATSBus struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs map[*nats.Subscription]struct{}
}

type natsSubscription struct {
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus connects to cfg.NATSUrl. The first connection is attempted up
// to NATSMaxReconnects times, NATSReconnectWait seconds apart; later
// disconnects are handled by the client's own reconnect loop.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	attempts := cfg.NATSMaxReconnects
	if attempts <= 0 {
		attempts = 10
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	if wait <= 0 {
		wait = 5 * time.Second
	}

	conn, err := dialNATS(url, natsOptions(cfg.NATSToken, attempts, wait), attempts, wait)
	if err != nil {
		return nil, err
	}

	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
	)
	return &NATSBus{conn: conn, subs: make(map[*nats.Subscription]struct{})}, nil
}

func natsOptions(token string, maxReconnects int, wait time.Duration) []nats.Option {
	opts := []nats.Option{
		nats.Name("kestrel"),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			var subject string
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS async error", "subject", subject, "error", err)
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	return opts
}

func dialNATS(url string, opts []nats.Option, attempts int, wait time.Duration) (*nats.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := nats.Connect(url, opts...)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Warn("NATS connection attempt failed",
			"url", url,
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err,
		)
		if attempt < attempts {
			time.Sleep(wait)
		}
	}
	return nil, fmt.Errorf("failed to connect to NATS at %s after %d attempts: %w", url, attempts, lastErr)
}

func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	data, err := json.Marshal(newMessage(tenantID, topic, payload))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return b.conn.Publish(natsSubject(tenantID, topic), data)
}

// Subscribe exposes a request's reply inbox to the handler as the reply_to
// metadata entry, so bus.Reply works the same as on the channel bus.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}

	sub, err := b.conn.Subscribe(natsSubject(tenantID, topic), b.dispatch(ctx, handler))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return &natsSubscription{topic: topic, sub: sub, bus: b}, nil
}

func (b *NATSBus) dispatch(ctx context.Context, handler domain.MessageHandler) nats.MsgHandler {
	return func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("dropping malformed NATS message", "subject", m.Subject, "error", err)
			return
		}
		if m.Reply != "" {
			msg.SetMeta(MetaReplyTo, m.Reply)
		}
		if err := handler(ctx, &msg); err != nil {
			slog.Error("handler error",
				"subject", m.Subject,
				"message_id", msg.ID,
				"error", err,
			)
		}
	}
}

// Request uses a NATS inbox for the reply and returns its payload.
func (b *NATSBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	data, err := json.Marshal(newMessage(tenantID, topic, payload))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := requestContext(ctx)
	defer cancel()

	reply, err := b.conn.RequestWithContext(ctx, natsSubject(tenantID, topic), data)
	if err != nil {
		return nil, fmt.Errorf("request on %s failed: %w", topic, err)
	}

	var msg domain.Message
	if err := json.Unmarshal(reply.Data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply: %w", err)
	}
	return msg.Payload, nil
}

func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return errors.New("NATS not connected: " + b.conn.Status().String())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close unsubscribes everything and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	clear(b.subs)
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

// Stats returns the connection's traffic counters.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

// natsSubject maps a tenant topic onto its subject. Reply inboxes are
// already full subjects.
func natsSubject(tenantID, topic string) string {
	if strings.HasPrefix(topic, nats.InboxPrefix) {
		return topic
	}
	return SubjectPrefix + "." + tenantID + "." + topic
}

func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.sub)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string {
	return s.topic
}
