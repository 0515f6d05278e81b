// Package events publishes load notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// LoadCompleted announces the end of one dataset load.
type LoadCompleted struct {
	LoadID          string    `json:"load_id"`
	Status          string    `json:"status"`
	DatasetURL      string    `json:"dataset_url"`
	Activity        string    `json:"activity"`
	ActivityID      int64     `json:"activity_id,omitempty"`
	Platform        string    `json:"platform"`
	Campaign        string    `json:"campaign"`
	ValuesLoaded    int64     `json:"values_loaded"`
	VariablesLoaded []string  `json:"variables_loaded"`
	Error           string    `json:"error,omitempty"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Publisher delivers load events.
type Publisher interface {
	PublishLoadCompleted(ctx context.Context, ev LoadCompleted) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) PublishLoadCompleted(context.Context, LoadCompleted) error { return nil }
func (Nop) Close() error                                              { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by activity name.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a synchronous producer for topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

func (p *KafkaPublisher) PublishLoadCompleted(ctx context.Context, ev LoadCompleted) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Activity),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte("load_completed")},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
