package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// IngestJob is the body of an ingestion queue message.
type IngestJob struct {
	DocumentID string    `json:"document_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DecodeIngestJob parses a delivery body and rejects jobs without a
// document id.
func DecodeIngestJob(body []byte) (IngestJob, error) {
	var job IngestJob
	if err := json.Unmarshal(body, &job); err != nil {
		return IngestJob{}, fmt.Errorf("decode ingest job failed: %w", err)
	}
	job.DocumentID = strings.TrimSpace(job.DocumentID)
	if job.DocumentID == "" {
		return IngestJob{}, errors.New("ingest job has no document_id")
	}
	return job, nil
}

// DeclareQueue declares the durable queue both producers and consumers use.
func DeclareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s failed: %w", name, err)
	}
	return nil
}

type IngestPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewIngestPublisher(conn *amqp.Connection, queueName string) *IngestPublisher {
	return &IngestPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

// Enqueue publishes a persistent ingestion job for documentID.
func (p *IngestPublisher) Enqueue(ctx context.Context, documentID string) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := DeclareQueue(ch, p.queueName); err != nil {
		return err
	}

	payload, err := json.Marshal(IngestJob{DocumentID: documentID, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal ingest job failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
			MessageId:    documentID,
		},
	); err != nil {
		return fmt.Errorf("publish ingest job failed: %w", err)
	}
	return nil
}
