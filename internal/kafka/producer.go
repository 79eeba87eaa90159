package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/finchlabs/portfolio-ledger/internal/models"
)

// Producer publishes position events to Kafka. Publishing is best-effort;
// callers log failures and carry on with the primary mutation.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{
		writer: writer,
		topic:  topic,
	}
}

// PublishPositionCreated publishes a position created event
func (p *Producer) PublishPositionCreated(ctx context.Context, position *models.Position) error {
	event := models.PositionEvent{
		EventType:  "POSITION_CREATED",
		OwnerID:    position.OwnerID,
		PositionID: position.ID,
		Position:   position,
		Timestamp:  time.Now(),
	}
	return p.publish(ctx, position.ID, event)
}

// PublishPositionUpdated publishes a position updated event
func (p *Producer) PublishPositionUpdated(ctx context.Context, position *models.Position) error {
	event := models.PositionEvent{
		EventType:  "POSITION_UPDATED",
		OwnerID:    position.OwnerID,
		PositionID: position.ID,
		Position:   position,
		Timestamp:  time.Now(),
	}
	return p.publish(ctx, position.ID, event)
}

// PublishPositionDeleted publishes a position deleted event
func (p *Producer) PublishPositionDeleted(ctx context.Context, ownerID, positionID int64) error {
	event := models.PositionEvent{
		EventType:  "POSITION_DELETED",
		OwnerID:    ownerID,
		PositionID: positionID,
		Timestamp:  time.Now(),
	}
	return p.publish(ctx, positionID, event)
}

func (p *Producer) publish(ctx context.Context, positionID int64, event models.PositionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("position-%d", positionID)),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	return p.writer.Close()
}
