package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Domenick1991/autoservice/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DestinationHeader carries the logical notification topic, which is not a
// valid Kafka topic name.
const DestinationHeader = "destination"

type Producer struct {
	brokers []string
	topic   string
	writer  *kafka.Writer
	log     *zap.Logger
}

func NewProducer(brokers []string, topic string, log *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{brokers: brokers, topic: topic, writer: writer, log: log}
}

// Publish writes one event for one destination. The event id is the message
// key, so every alias of an event lands on the same partition.
func (p *Producer) Publish(ctx context.Context, destination string, event domain.NotificationEvent) error {
	msg, err := EncodeMessage(destination, event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	p.log.Debug("published to kafka", zap.String("topic", p.topic), zap.String("destination", destination), zap.String("event_id", event.ID))
	return nil
}

func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

// CheckConnection dials the first broker and reads its partitions.
func (p *Producer) CheckConnection(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to Kafka: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(); err != nil {
		return fmt.Errorf("failed to read partitions: %w", err)
	}
	return nil
}

func EncodeMessage(destination string, event domain.NotificationEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return kafka.Message{
		Key:     []byte(event.ID),
		Value:   data,
		Headers: []kafka.Header{{Key: DestinationHeader, Value: []byte(destination)}},
		Time:    time.Now(),
	}, nil
}

// DecodeMessage is the inverse of EncodeMessage.
func DecodeMessage(msg kafka.Message) (string, domain.NotificationEvent, error) {
	var event domain.NotificationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return "", event, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	for _, h := range msg.Headers {
		if h.Key == DestinationHeader {
			return string(h.Value), event, nil
		}
	}
	return "", event, fmt.Errorf("message %s has no %s header", msg.Key, DestinationHeader)
}
