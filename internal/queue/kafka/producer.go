package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/schemaflow/schemaflow/internal/queue"
)

// Producer implements queue.Producer using Kafka
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
		RequiredAcks: kafka.RequireAll,
	}

	return &Producer{
		writer: writer,
		topic:  topic,
	}
}

// PublishJob publishes a migration job to Kafka
func (p *Producer) PublishJob(ctx context.Context, job *queue.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	msg := kafka.Message{
		Key:   []byte(job.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "job-id", Value: []byte(job.ID)},
			{Key: "direction", Value: []byte(job.Direction)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish job %s to Kafka: %w", job.ID, err)
	}
	return nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	return p.writer.Close()
}
