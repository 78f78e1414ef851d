package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urbanpulse/demandmap/internal/config"
	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/logging"
	apperrors "github.com/urbanpulse/demandmap/pkg/errors"
)

type mockReader struct {
	messages chan kafkago.Message

	mu        sync.Mutex
	committed []kafkago.Message
	closed    bool
}

func newMockReader(msgs ...kafkago.Message) *mockReader {
	ch := make(chan kafkago.Message, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	return &mockReader{messages: ch}
}

func (r *mockReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	select {
	case msg := <-r.messages:
		return msg, nil
	case <-ctx.Done():
		return kafkago.Message{}, ctx.Err()
	}
}

func (r *mockReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *mockReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *mockReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func envelopeMessage(t *testing.T, topic string, payload interface{}) kafkago.Message {
	t.Helper()
	env, err := NewEventEnvelope(topic, "test", payload)
	require.NoError(t, err)
	value, err := env.Encode()
	require.NoError(t, err)
	return kafkago.Message{Topic: topic, Value: value}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestConsumerConfigValidation(t *testing.T) {
	log := logging.NewNopLogger()

	_, err := NewConsumer(config.KafkaConfig{}, []string{TopicFitCompleted}, log)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBadRequest))

	_, err = NewConsumer(config.KafkaConfig{Brokers: []string{"b:9092"}}, []string{TopicFitCompleted}, log)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBadRequest))

	_, err = NewConsumer(config.KafkaConfig{Brokers: []string{"b:9092"}, GroupID: "g"}, nil, log)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBadRequest))
}

func TestConsumerDispatchesToHandler(t *testing.T) {
	reader := newMockReader(
		envelopeMessage(t, TopicFitCompleted, FitCompletedPayload{RunID: "r1"}),
		envelopeMessage(t, TopicFitCompleted, FitCompletedPayload{RunID: "r2"}),
	)
	consumer := NewConsumerWithReader(reader, logging.NewNopLogger())

	var mu sync.Mutex
	var runs []string
	consumer.RegisterHandler(TopicFitCompleted, func(_ context.Context, env *EventEnvelope) error {
		var payload FitCompletedPayload
		if err := env.DecodePayload(&payload); err != nil {
			return err
		}
		mu.Lock()
		runs = append(runs, payload.RunID)
		mu.Unlock()
		return nil
	})

	require.NoError(t, consumer.Start(context.Background()))
	waitFor(t, func() bool { return consumer.Processed() == 2 })
	require.NoError(t, consumer.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"r1", "r2"}, runs)
	assert.Equal(t, 2, reader.committedCount())
	assert.True(t, reader.closed)
}

func TestConsumerStartTwice(t *testing.T) {
	consumer := NewConsumerWithReader(newMockReader(), logging.NewNopLogger())

	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop()

	assert.ErrorIs(t, consumer.Start(context.Background()), ErrAlreadyRunning)
}

func TestConsumerCommitsUndecodableMessage(t *testing.T) {
	reader := newMockReader(kafkago.Message{Topic: TopicFitCompleted, Value: []byte("{bad")})
	consumer := NewConsumerWithReader(reader, logging.NewNopLogger())
	consumer.RegisterHandler(TopicFitCompleted, func(context.Context, *EventEnvelope) error {
		t.Fatal("handler must not run for undecodable message")
		return nil
	})

	require.NoError(t, consumer.Start(context.Background()))
	waitFor(t, func() bool { return consumer.Failed() == 1 })
	require.NoError(t, consumer.Stop())

	assert.Equal(t, 1, reader.committedCount())
}

func TestConsumerRetriesRetryableErrors(t *testing.T) {
	reader := newMockReader(envelopeMessage(t, TopicFitCompleted, FitCompletedPayload{RunID: "r1"}))
	consumer := NewConsumerWithReader(reader, logging.NewNopLogger())

	var calls int64
	var mu sync.Mutex
	consumer.RegisterHandler(TopicFitCompleted, func(context.Context, *EventEnvelope) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return apperrors.New(apperrors.ErrCodeDatabaseError, "transient")
		}
		return nil
	})

	require.NoError(t, consumer.Start(context.Background()))
	waitFor(t, func() bool { return consumer.Processed() == 1 })
	require.NoError(t, consumer.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(3), calls)
}

func TestConsumerSkipsNonRetryableError(t *testing.T) {
	reader := newMockReader(envelopeMessage(t, TopicFitCompleted, FitCompletedPayload{RunID: "r1"}))
	consumer := NewConsumerWithReader(reader, logging.NewNopLogger())

	var calls int64
	var mu sync.Mutex
	consumer.RegisterHandler(TopicFitCompleted, func(context.Context, *EventEnvelope) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return apperrors.New(apperrors.ErrCodeInvalidData, "bad payload")
	})

	require.NoError(t, consumer.Start(context.Background()))
	waitFor(t, func() bool { return consumer.Failed() == 1 })
	require.NoError(t, consumer.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(1), calls)
	assert.Equal(t, 1, reader.committedCount())
}

func TestConsumerIgnoresUnhandledTopic(t *testing.T) {
	reader := newMockReader(envelopeMessage(t, "demand.unknown", FitCompletedPayload{}))
	consumer := NewConsumerWithReader(reader, logging.NewNopLogger())

	require.NoError(t, consumer.Start(context.Background()))
	waitFor(t, func() bool { return reader.committedCount() == 1 })
	require.NoError(t, consumer.Stop())

	assert.Equal(t, int64(0), consumer.Processed())
}
