// Package local is an in-process event queue used when no broker is
// configured. Events are lost on restart.
package local

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
	"github.com/sirupsen/logrus"
)

// Queue is a bounded single-topic channel.
type Queue struct {
	topic  string
	ch     chan []byte
	logger logrus.FieldLogger
}

func NewQueue(topic string, size int, logger logrus.FieldLogger) *Queue {
	return &Queue{topic: topic, ch: make(chan []byte, size), logger: logger}
}

// Publish enqueues event, blocking while the queue is full.
func (q *Queue) Publish(ctx context.Context, topic string, event any) error {
	if topic != q.topic {
		return fmt.Errorf("local queue: unknown topic %q", topic)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case q.ch <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume runs handler for each event until ctx is cancelled.
func (q *Queue) Consume(ctx context.Context, handler interfaces.EventHandler) error {
	for {
		select {
		case <-ctx.Done():
			if n := len(q.ch); n > 0 {
				q.logger.WithField("pending", n).Warn("local queue stopped with undelivered events")
			}
			return nil
		case payload := <-q.ch:
			if err := handler(ctx, payload); err != nil {
				q.logger.WithError(err).WithField("topic", q.topic).Error("event handling failed, skipping")
			}
		}
	}
}

var (
	_ interfaces.EventPublisher = (*Queue)(nil)
	_ interfaces.EventConsumer  = (*Queue)(nil)
)
