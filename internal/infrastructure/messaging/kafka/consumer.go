package kafka

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/urbanpulse/demandmap/internal/config"
	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/logging"
	"github.com/urbanpulse/demandmap/pkg/errors"
)

// ErrAlreadyRunning is returned by Start when the consumer loop is active.
var ErrAlreadyRunning = errors.New(errors.ErrCodeConflict, "consumer already running")

// Handler processes one decoded event. Returning an error after all retries
// logs the event and moves on; offsets are committed either way so a poison
// message cannot wedge the group.
type Handler func(ctx context.Context, env *EventEnvelope) error

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads demand events from a consumer group and dispatches them to
// per-topic handlers.
type Consumer struct {
	reader ReaderInterface
	logger logging.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	maxRetries int
	backoff    time.Duration

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
}

// NewConsumer builds a group consumer subscribed to topics.
func NewConsumer(cfg config.KafkaConfig, topics []string, log logging.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New(errors.ErrCodeBadRequest, "kafka brokers required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New(errors.ErrCodeBadRequest, "kafka group_id required")
	}
	if len(topics) == 0 {
		return nil, errors.New(errors.ErrCodeBadRequest, "topics required")
	}

	startOffset := kafka.FirstOffset
	if cfg.AutoOffsetReset == "latest" {
		startOffset = kafka.LastOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: topics,
		StartOffset: startOffset,
		MinBytes:    1,
		MaxBytes:    10 * 1024 * 1024,
	})

	return &Consumer{
		reader:     reader,
		logger:     log,
		handlers:   make(map[string]Handler),
		maxRetries: 3,
		backoff:    200 * time.Millisecond,
	}, nil
}

// NewConsumerWithReader wraps an existing reader, used by tests.
func NewConsumerWithReader(reader ReaderInterface, log logging.Logger) *Consumer {
	return &Consumer{
		reader:     reader,
		logger:     log,
		handlers:   make(map[string]Handler),
		maxRetries: 3,
		backoff:    time.Millisecond,
	}
}

// RegisterHandler binds a handler to a topic. Later registrations replace
// earlier ones.
func (c *Consumer) RegisterHandler(topic string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
}

// Start launches the consume loop. It returns immediately; the loop stops
// when ctx is cancelled or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeLoop(loopCtx)
	}()
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("failed to fetch message", logging.Err(err))
			continue
		}

		c.handleMessage(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit offset",
				logging.String("topic", msg.Topic), logging.Err(err))
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg kafka.Message) {
	c.mu.RLock()
	handler, ok := c.handlers[msg.Topic]
	c.mu.RUnlock()
	if !ok {
		c.logger.Warn("no handler for topic", logging.String("topic", msg.Topic))
		return
	}

	env, err := DecodeEnvelope(msg.Value)
	if err != nil {
		c.failed.Add(1)
		c.logger.Error("dropping undecodable message",
			logging.String("topic", msg.Topic), logging.Err(err))
		return
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}
		if lastErr = handler(ctx, env); lastErr == nil {
			c.processed.Add(1)
			return
		}
		if !errors.IsRetryable(lastErr) {
			break
		}
	}

	c.failed.Add(1)
	c.logger.Error("handler failed, skipping event",
		logging.String("topic", msg.Topic),
		logging.String("event_id", env.EventID),
		logging.Err(lastErr))
}

// Processed reports the number of successfully handled events.
func (c *Consumer) Processed() int64 { return c.processed.Load() }

// Failed reports the number of dropped or failed events.
func (c *Consumer) Failed() int64 { return c.failed.Load() }

// Stop halts the consume loop and closes the reader.
func (c *Consumer) Stop() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	err := c.reader.Close()
	c.logger.Info("kafka consumer stopped",
		logging.Any("processed", c.processed.Load()),
		logging.Any("failed", c.failed.Load()))
	return err
}
