package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/autoservice/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Consumer struct {
	reader *kafka.Reader
	log    *zap.Logger
}

type ConsumerOption func(*kafka.ReaderConfig)

// FromLatest makes a group without committed offsets start at the end of the
// topic instead of replaying its retained history.
func FromLatest() ConsumerOption {
	return func(cfg *kafka.ReaderConfig) {
		cfg.StartOffset = kafka.LastOffset
	}
}

func NewConsumer(brokers []string, groupID, topic string, log *zap.Logger, opts ...ConsumerOption) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		reader: kafka.NewReader(readerConfig(brokers, groupID, topic, opts...)),
		log:    log,
	}
}

func readerConfig(brokers []string, groupID, topic string, opts ...ConsumerOption) kafka.ReaderConfig {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		Topic:             topic,
		StartOffset:       kafka.FirstOffset,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// EventHandler receives one decoded notification and its logical destination.
type EventHandler func(ctx context.Context, destination string, event domain.NotificationEvent) error

// Consume reads until ctx is done. Undecodable messages are logged and skipped;
// a handler error stops the loop.
func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		destination, event, err := DecodeMessage(msg)
		if err != nil {
			c.log.Warn("skipping malformed notification message", zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}
		if err := handler(ctx, destination, event); err != nil {
			return err
		}
	}
}
