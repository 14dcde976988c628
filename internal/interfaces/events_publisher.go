package interfaces

import (
	"context"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models/events"
)

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

// Notifier queues a user-facing message for delivery after a financial commit.
// Implementations never fail the caller; delivery problems are logged.
type Notifier interface {
	Enqueue(ctx context.Context, n events.Notification)
}

// EventHandler processes one raw event payload.
type EventHandler func(ctx context.Context, payload []byte) error

// EventConsumer feeds published events to a handler until ctx is cancelled.
type EventConsumer interface {
	Consume(ctx context.Context, handler EventHandler) error
}
