package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/casalink/support-chat/internal/model"
	"github.com/casalink/support-chat/pkg/logger"
	"github.com/casalink/support-chat/pkg/metrics"
)

const (
	subjectPrefix = "rt"
	subjectAdmins = subjectPrefix + ".admins"
	subjectAll    = subjectPrefix + ".all"
)

func userSubject(userID string) string {
	return fmt.Sprintf("%s.user.%s", subjectPrefix, userID)
}

// Deliverer hands bus events to local connections; implemented by ws.Hub.
type Deliverer interface {
	DeliverUser(userID string, event model.Event)
	DeliverAdmins(event model.Event)
	DeliverAll(event model.Event)
}

// Bus implements the Notifier interfaces of the chat coordinator and the
// call relay, and the presence watcher. Publishing loops back through NATS
// to this node's own subscription, so local and remote connections share
// one delivery path and one ordering: per-subject FIFO.
type Bus struct {
	conn   *nats.Conn
	logger *logger.Logger
	subs   []*nats.Subscription
}

// New wraps an established NATS connection.
func New(conn *nats.Conn, log *logger.Logger) *Bus {
	return &Bus{conn: conn, logger: log}
}

// Start subscribes this node and routes incoming bus events to deliver.
func (b *Bus) Start(deliver Deliverer) error {
	userSub, err := b.conn.Subscribe(subjectPrefix+".user.*", func(m *nats.Msg) {
		event, ok := b.decode(m.Data)
		if !ok {
			return
		}
		// Subject is rt.user.<id>; the ID is the last token.
		deliver.DeliverUser(m.Subject[len(subjectPrefix)+len(".user."):], event)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe user subject: %w", err)
	}

	adminSub, err := b.conn.Subscribe(subjectAdmins, func(m *nats.Msg) {
		if event, ok := b.decode(m.Data); ok {
			deliver.DeliverAdmins(event)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe admin subject: %w", err)
	}

	allSub, err := b.conn.Subscribe(subjectAll, func(m *nats.Msg) {
		if event, ok := b.decode(m.Data); ok {
			deliver.DeliverAll(event)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe broadcast subject: %w", err)
	}

	b.subs = []*nats.Subscription{userSub, adminSub, allSub}
	return nil
}

func (b *Bus) decode(data []byte) (model.Event, bool) {
	var event model.Event
	if err := json.Unmarshal(data, &event); err != nil {
		b.logger.Warn("dropping malformed bus event", zap.Error(err))
		return model.Event{}, false
	}
	metrics.BusEventsTotal.WithLabelValues("in").Inc()
	return event, true
}

func (b *Bus) publish(subject string, event model.Event) {
	raw, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := b.conn.Publish(subject, raw); err != nil {
		b.logger.Error("bus publish failed",
			zap.String("subject", subject), zap.Error(err))
		return
	}
	metrics.BusEventsTotal.WithLabelValues("out").Inc()
}

// NotifyUsers publishes the event to each user's subject.
func (b *Bus) NotifyUsers(ctx context.Context, userIDs []string, event model.Event) {
	for _, id := range userIDs {
		b.publish(userSubject(id), event)
	}
}

// NotifyAdmins publishes the event to every admin console.
func (b *Bus) NotifyAdmins(ctx context.Context, event model.Event) {
	b.publish(subjectAdmins, event)
}

// NotifyAll publishes the event to every authenticated connection.
func (b *Bus) NotifyAll(ctx context.Context, event model.Event) {
	b.publish(subjectAll, event)
}

// UserOnline implements presence.Watcher: conversation counterparts learn
// about the transition edge, enabling call buttons and the online dot.
func (b *Bus) UserOnline(userID string) {
	b.NotifyAll(context.Background(), model.NewEvent(model.EventUserOnline,
		model.UserRefPayload{UserID: userID}))
}

// UserOffline implements presence.Watcher.
func (b *Bus) UserOffline(userID string) {
	b.NotifyAll(context.Background(), model.NewEvent(model.EventUserOffline,
		model.UserRefPayload{UserID: userID}))
}

// IsConnected reports NATS connectivity, for the readiness probe.
func (b *Bus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// Close drains the subscriptions and closes the connection.
func (b *Bus) Close() {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	if b.conn != nil {
		b.conn.Close()
	}
}
