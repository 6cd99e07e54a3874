package pulsar

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/apache/pulsar-client-go/pulsar"

	"github.com/schemaflow/schemaflow/internal/queue"
)

// Producer implements queue.Producer using Pulsar
type Producer struct {
	client   pulsar.Client
	producer pulsar.Producer
	topic    string
}

// NewProducer creates a new Pulsar producer
func NewProducer(url, topic string) (*Producer, error) {
	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL: url,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pulsar client: %w", err)
	}

	producer, err := client.CreateProducer(pulsar.ProducerOptions{
		Topic: topic,
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create Pulsar producer: %w", err)
	}

	return &Producer{
		client:   client,
		producer: producer,
		topic:    topic,
	}, nil
}

// PublishJob publishes a migration job to Pulsar
func (p *Producer) PublishJob(ctx context.Context, job *queue.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	_, err = p.producer.Send(ctx, &pulsar.ProducerMessage{
		Key:     job.ID,
		Payload: payload,
		Properties: map[string]string{
			"job-id":    job.ID,
			"direction": job.Direction,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish job %s to Pulsar: %w", job.ID, err)
	}
	return nil
}

// Close closes the Pulsar producer
func (p *Producer) Close() error {
	p.producer.Close()
	p.client.Close()
	return nil
}
