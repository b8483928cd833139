package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// RequestPublisher submits session requests to Kafka.
type RequestPublisher struct {
	writer *kafka.Writer
}

// NewRequestPublisher constructs a publisher for the given topic.
func NewRequestPublisher(k *Kafka, topic string) *RequestPublisher {
	return &RequestPublisher{
		writer: k.NewWriter(topic),
	}
}

// SubmitRequest writes the request keyed by the provider/client pair.
func (p *RequestPublisher) SubmitRequest(ctx context.Context, msg SessionRequestMessage) error {
	if msg.SubmittedAt.IsZero() {
		msg.SubmittedAt = time.Now().UTC()
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("request publisher: marshal message: %w", err)
	}

	record := kafka.Message{
		Key:   []byte(msg.ProviderID + ":" + msg.ClientID),
		Value: value,
		Time:  msg.SubmittedAt,
	}

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("request publisher: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *RequestPublisher) Close() error {
	return p.writer.Close()
}
