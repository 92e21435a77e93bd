package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces assessment records to a Kafka topic.
// It implements pipeline.AssessmentPublisher.
type Publisher struct {
	writer  messageWriter
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPublisher creates an asynchronous Kafka producer for the configured
// assessment topic. Delivery results are logged and counted, never returned.
func NewPublisher(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	p := &Publisher{logger: logger, metrics: metrics}
	p.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaAssessmentTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion:   p.complete,
	}
	return p
}

// Publish enqueues one record keyed by request ID.
func (p *Publisher) Publish(ctx context.Context, record domain.AssessmentRecord) error {
	msg, err := serializeToMessage(record)
	if err != nil {
		p.metrics.AssessmentsPublished.WithLabelValues("error").Inc()
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.AssessmentsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("enqueue assessment: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// complete is the writer's delivery callback.
func (p *Publisher) complete(msgs []kafkago.Message, err error) {
	if err != nil {
		p.metrics.AssessmentsPublished.WithLabelValues("error").Add(float64(len(msgs)))
		p.logger.Error("assessment delivery failed", "messages", len(msgs), "error", err)
		return
	}
	p.metrics.AssessmentsPublished.WithLabelValues("success").Add(float64(len(msgs)))
}

// serializeToMessage marshals an AssessmentRecord into a Kafka message.
func serializeToMessage(record domain.AssessmentRecord) (kafkago.Message, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize assessment: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(record.RequestID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "input", Value: []byte(record.Input)},
			{Key: "risk_level", Value: []byte(record.Assessment.RiskLevel)},
			{Key: "generated_at", Value: []byte(record.Assessment.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}
