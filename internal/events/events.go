// Package events publishes board activity to an external feed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event types.
const (
	TypeSnapshotSaved = "board.snapshot.saved"
	TypeBoardCleared  = "board.cleared"
	TypeBoardDeleted  = "board.deleted"
)

// BoardEvent is the payload published for board activity. Snapshots are not
// included; consumers fetch them through the REST API.
type BoardEvent struct {
	Type      string    `json:"type"`
	BoardID   string    `json:"boardId"`
	Bytes     int       `json:"bytes,omitempty"`
	Preview   bool      `json:"previewUpdated,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher sends board events.
type Publisher interface {
	Publish(ctx context.Context, e BoardEvent) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, BoardEvent) error { return nil }
func (Nop) Close() error                              { return nil }

// KafkaPublisher writes events to a Kafka topic, keyed by board id so that
// events for one board stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			WriteTimeout:           5 * time.Second,
		},
	}
}

// Publish writes a single event.
func (p *KafkaPublisher) Publish(ctx context.Context, e BoardEvent) error {
	msg, err := Message(e)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event to Kafka: %w", err)
	}
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Message encodes an event as a Kafka message.
func Message(e BoardEvent) (kafka.Message, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.BoardID),
		Value: value,
		Time:  e.Timestamp,
	}, nil
}
