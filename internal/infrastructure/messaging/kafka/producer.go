package kafka

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/urbanpulse/demandmap/internal/config"
	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/logging"
	"github.com/urbanpulse/demandmap/pkg/errors"
)

// ErrProducerClosed is returned by Publish after Close.
var ErrProducerClosed = errors.New(errors.ErrCodeMessageQueueError, "producer closed")

// WriterInterface abstracts kafka.Writer for testing.
type WriterInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes demand events. Messages are keyed so events for the
// same run land on the same partition.
type Producer struct {
	writer WriterInterface
	source string
	logger logging.Logger
	closed atomic.Bool

	sent   atomic.Int64
	failed atomic.Int64
}

// NewProducer builds a Producer from the broker configuration.
func NewProducer(cfg config.KafkaConfig, source string, log logging.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New(errors.ErrCodeBadRequest, "kafka brokers required")
	}

	retries := cfg.ProducerRetries
	if retries <= 0 {
		retries = 3
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  retries + 1,
		BatchSize:    batchSize,
		BatchTimeout: time.Second,
		WriteTimeout: timeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &Producer{writer: writer, source: source, logger: log}, nil
}

// NewProducerWithWriter wraps an existing writer, used by tests.
func NewProducerWithWriter(writer WriterInterface, source string, log logging.Logger) *Producer {
	return &Producer{writer: writer, source: source, logger: log}
}

// Publish sends one envelope to topic, keyed by key.
func (p *Producer) Publish(ctx context.Context, topic, key string, env *EventEnvelope) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if topic == "" {
		return errors.New(errors.ErrCodeBadRequest, "topic required")
	}

	value, err := env.Encode()
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  env.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
			{Key: "schema_version", Value: []byte(env.SchemaVersion)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.failed.Add(1)
		return errors.Wrap(err, errors.ErrCodeMessageQueueError, "failed to publish event").
			WithDetailf("topic=%s event_type=%s", topic, env.EventType)
	}

	p.sent.Add(1)
	p.logger.Debug("event published",
		logging.String("topic", topic),
		logging.String("event_type", env.EventType),
		logging.String("event_id", env.EventID))
	return nil
}

// PublishObservationsIngested announces a replaced observation set.
func (p *Producer) PublishObservationsIngested(ctx context.Context, payload ObservationsIngestedPayload) error {
	env, err := NewEventEnvelope(TopicObservationsIngested, p.source, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, TopicObservationsIngested, payload.Source, env)
}

// PublishFitCompleted announces a finished fit run.
func (p *Producer) PublishFitCompleted(ctx context.Context, payload FitCompletedPayload) error {
	env, err := NewEventEnvelope(TopicFitCompleted, p.source, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, TopicFitCompleted, payload.RunID, env)
}

// PublishUnderservedAlert raises an alert for one underserved unit.
func (p *Producer) PublishUnderservedAlert(ctx context.Context, payload UnderservedAlertPayload) error {
	env, err := NewEventEnvelope(TopicAlertUnderserved, p.source, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, TopicAlertUnderserved, payload.RunID, env)
}

// Sent reports the number of successfully published events.
func (p *Producer) Sent() int64 { return p.sent.Load() }

// Failed reports the number of failed publish attempts.
func (p *Producer) Failed() int64 { return p.failed.Load() }

// Close flushes and shuts the writer down; safe to call more than once.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := p.writer.Close()
	p.logger.Info("kafka producer closed", logging.Any("sent", p.sent.Load()))
	return err
}
