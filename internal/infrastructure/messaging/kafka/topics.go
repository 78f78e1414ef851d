// Package kafka publishes and consumes demand-analysis events. Fit runs are
// announced on demand.fit.completed and underserved units raise alerts so
// downstream planning tools can react without polling the API.
package kafka

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/urbanpulse/demandmap/pkg/errors"
)

const (
	TopicObservationsIngested = "demand.observations.ingested"
	TopicFitCompleted         = "demand.fit.completed"
	TopicAlertUnderserved     = "demand.alert.underserved"
)

// EventEnvelope is the wire format shared by all demand events.
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	SchemaVersion string          `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// ObservationsIngestedPayload announces a replaced observation set.
type ObservationsIngestedPayload struct {
	DatasetSize int       `json:"dataset_size"`
	Source      string    `json:"source"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// FitCompletedPayload announces a finished model fit.
type FitCompletedPayload struct {
	RunID            string    `json:"run_id"`
	Converged        bool      `json:"converged"`
	Iterations       int       `json:"iterations"`
	Intercept        float64   `json:"intercept"`
	InfraCoefficient float64   `json:"infra_coefficient"`
	EffectScale      float64   `json:"effect_scale"`
	DatasetSize      int       `json:"dataset_size"`
	FittedAt         time.Time `json:"fitted_at"`
}

// UnderservedAlertPayload flags a unit whose observed demand sits well below
// what the model expects.
type UnderservedAlertPayload struct {
	RunID                string    `json:"run_id"`
	UnitID               string    `json:"unit_id"`
	ObservedCount        int       `json:"observed_count"`
	ExpectedCount        float64   `json:"expected_count"`
	StandardizedResidual float64   `json:"standardized_residual"`
	DetectedAt           time.Time `json:"detected_at"`
}

// NewEventEnvelope wraps a payload in a versioned envelope with a fresh
// event ID.
func NewEventEnvelope(eventType, source string, payload interface{}) (*EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal event payload")
	}
	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: "v1",
		Payload:       data,
	}, nil
}

// DecodePayload unmarshals the payload into target.
func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return errors.New(errors.ErrCodeBadRequest, "event has no payload")
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal event payload")
	}
	return nil
}

// Encode serializes the envelope for transport.
func (e *EventEnvelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal event envelope")
	}
	return data, nil
}

// DecodeEnvelope parses an envelope from raw message bytes.
func DecodeEnvelope(value []byte) (*EventEnvelope, error) {
	if len(value) == 0 {
		return nil, errors.New(errors.ErrCodeBadRequest, "empty message value")
	}
	var env EventEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal event envelope")
	}
	return &env, nil
}
