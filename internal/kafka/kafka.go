// Package kafka builds the kafka-go readers and writers used by the
// occurrence stream and publishes persisted occurrences onto it.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"tiny-errors/internal/model"
)

// NewWriter returns a writer keyed by project so a project's occurrences
// land on one partition in order.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 50 * time.Millisecond,
		BatchSize:    1,
	}
}

// NewReader constructs a reader bound to a consumer group.
func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         brokers,
		Topic:           topic,
		GroupID:         group,
		MinBytes:        1,
		MaxBytes:        10e6,
		StartOffset:     kafka.FirstOffset,
		CommitInterval:  time.Second,
		ReadLagInterval: 5 * time.Second,
		MaxWait:         time.Second,
	})
}

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OccurrencePublisher writes persisted occurrences to the occurrence topic.
type OccurrencePublisher struct {
	writer  MessageWriter
	timeout time.Duration
}

// NewOccurrencePublisher wraps w. Each publish is bounded by timeout.
func NewOccurrencePublisher(w MessageWriter, timeout time.Duration) *OccurrencePublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OccurrencePublisher{writer: w, timeout: timeout}
}

// PublishOccurrence encodes msg and writes it keyed by project id.
func (p *OccurrencePublisher) PublishOccurrence(ctx context.Context, msg model.OccurrenceMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode occurrence: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.ProjectID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("write occurrence %s: %w", msg.ID, err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *OccurrencePublisher) Close() error {
	return p.writer.Close()
}
