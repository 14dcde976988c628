package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
	"github.com/sirupsen/logrus"
)

// MessageReader is the subset of kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig captures runtime settings for the consumer.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads one topic as part of a consumer group.
type Consumer struct {
	reader MessageReader
	logger logrus.FieldLogger
}

// NewConsumer creates a group consumer.
func NewConsumer(cfg ConsumerConfig, logger logrus.FieldLogger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers required")
	}
	if cfg.Topic == "" || cfg.GroupID == "" {
		return nil, fmt.Errorf("topic and group id required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10 << 20,
	})
	return NewConsumerWithReader(reader, logger), nil
}

func NewConsumerWithReader(r MessageReader, logger logrus.FieldLogger) *Consumer {
	return &Consumer{reader: r, logger: logger}
}

// Consume hands every message to handler until ctx is cancelled. A message is
// committed once handled; a handler error is logged and the message skipped,
// as the handler has already retried what it could.
func (c *Consumer) Consume(ctx context.Context, handler interfaces.EventHandler) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := handler(ctx, m.Value); err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"topic":     m.Topic,
				"partition": m.Partition,
				"offset":    m.Offset,
			}).Error("event handling failed, skipping")
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

// Close releases reader resources.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

var _ interfaces.EventConsumer = (*Consumer)(nil)
