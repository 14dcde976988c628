// Package notify delivers user-facing messages produced by financial
// operations. Producers enqueue on the Outbox once their transaction has
// committed; a Worker consumes the queue and talks to the messaging platform.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models/events"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 5 * time.Second

// Outbox publishes notifications to an event transport.
type Outbox struct {
	publisher interfaces.EventPublisher
	topic     string
	logger    logrus.FieldLogger
}

func NewOutbox(publisher interfaces.EventPublisher, topic string, logger logrus.FieldLogger) *Outbox {
	if topic == "" {
		topic = events.TopicNotifications
	}
	return &Outbox{publisher: publisher, topic: topic, logger: logger}
}

// Enqueue publishes n. It outlives the caller's request context and never
// fails the caller: the financial change it describes is already committed.
func (o *Outbox) Enqueue(ctx context.Context, n events.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := o.publisher.Publish(ctx, o.topic, n); err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"notification_id": n.ID,
			"kind":            n.Kind,
			"chat_id":         n.ChatID,
		}).Error("notification not enqueued")
	}
}

var _ interfaces.Notifier = (*Outbox)(nil)
