package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/example/market-settlement/internal/events"
	"github.com/segmentio/kafka-go"
)

// EventHandler processes one decoded settlement event. A returned error is
// logged; the message is still consumed, since the settlement topic carries
// notifications and redelivering them cannot repair a handler failure.
type EventHandler func(ctx context.Context, env events.Envelope) error

type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader}
}

// Consume reads settlement envelopes until the context is cancelled.
// Undecodable messages are logged and skipped so a poison message can never
// wedge the consumer group.
func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("[Kafka] Error reading message: %v", err)
				continue
			}

			env, err := decodeEnvelope(msg.Value)
			if err != nil {
				log.Printf("[Kafka] Dropping undecodable message at offset %d: %v", msg.Offset, err)
				continue
			}

			if err := handler(ctx, env); err != nil {
				log.Printf("[Kafka] Error handling %s for order %s: %v", env.Type, env.OrderID, err)
			}
		}
	}
}

func decodeEnvelope(value []byte) (events.Envelope, error) {
	var env events.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return events.Envelope{}, err
	}
	if env.Type == "" {
		return events.Envelope{}, fmt.Errorf("envelope missing event type")
	}
	return env, nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
