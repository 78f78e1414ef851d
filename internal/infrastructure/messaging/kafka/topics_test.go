package kafka

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/urbanpulse/demandmap/pkg/errors"
)

func TestNewEventEnvelope(t *testing.T) {
	payload := FitCompletedPayload{RunID: "r1", Converged: true, Iterations: 12}
	env, err := NewEventEnvelope(TopicFitCompleted, "apiserver", payload)
	require.NoError(t, err)

	_, err = uuid.Parse(env.EventID)
	assert.NoError(t, err)
	assert.Equal(t, TopicFitCompleted, env.EventType)
	assert.Equal(t, "apiserver", env.Source)
	assert.Equal(t, "v1", env.SchemaVersion)
	assert.WithinDuration(t, time.Now().UTC(), env.Timestamp, 5*time.Second)
}

func TestEnvelopePayloadRoundTrip(t *testing.T) {
	want := UnderservedAlertPayload{
		RunID:                "r1",
		UnitID:               "N-0042",
		ObservedCount:        2,
		ExpectedCount:        11.4,
		StandardizedResidual: -2.78,
		DetectedAt:           time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	env, err := NewEventEnvelope(TopicAlertUnderserved, "worker", want)
	require.NoError(t, err)

	var got UnderservedAlertPayload
	require.NoError(t, env.DecodePayload(&got))
	assert.Equal(t, want, got)
}

func TestEnvelopeEncodeDecode(t *testing.T) {
	env, err := NewEventEnvelope(TopicObservationsIngested, "cli",
		ObservationsIngestedPayload{DatasetSize: 200, Source: "csv"})
	require.NoError(t, err)

	data, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, decoded.EventID)
	assert.Equal(t, env.EventType, decoded.EventType)

	var payload ObservationsIngestedPayload
	require.NoError(t, decoded.DecodePayload(&payload))
	assert.Equal(t, 200, payload.DatasetSize)
}

func TestDecodeEnvelopeEmpty(t *testing.T) {
	_, err := DecodeEnvelope(nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBadRequest))
}

func TestDecodeEnvelopeGarbage(t *testing.T) {
	_, err := DecodeEnvelope([]byte("{not json"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSerialization))
}

func TestDecodePayloadMissing(t *testing.T) {
	env := &EventEnvelope{EventID: "x", EventType: TopicFitCompleted}
	var payload FitCompletedPayload
	err := env.DecodePayload(&payload)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBadRequest))
}
