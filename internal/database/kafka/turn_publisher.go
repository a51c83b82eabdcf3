package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/madcadaver/dbot/internal/models"

	"github.com/segmentio/kafka-go"
)

const TurnEventTopic = "turn_events"

// TurnPublisher publishes decision-loop state transitions as audit events.
// It is optional wiring: a nil *TurnPublisher is safe to call and does
// nothing, so the loop never has to branch on whether Kafka is configured.
type TurnPublisher struct {
	writer *kafka.Writer
}

// NewTurnPublisher creates a publisher bound to the turn event topic.
func NewTurnPublisher(client *KafkaClient) *TurnPublisher {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      client.Config.Brokers,
		Topic:        TurnEventTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	})
	return &TurnPublisher{writer: writer}
}

// Publish serializes the event as JSON and sends it, keyed by thread so
// events for one conversation stay ordered within a partition.
func (p *TurnPublisher) Publish(ctx context.Context, event *models.TurnEvent) error {
	if p == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal turn event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ThreadID),
		Value: jsonData,
	})
	if err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	return nil
}

// Close closes the underlying writer connection.
func (p *TurnPublisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
