package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

const (
	// DefaultSolveTopic carries solve.completed events.
	DefaultSolveTopic = "optiflow.solve.completed"

	// EventSolveCompleted is the event type of a finished solve.
	EventSolveCompleted = "solve.completed"

	schemaVersion = "1"
	eventSource   = "optiflow"
)

// EventEnvelope wraps every event payload.
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	SchemaVersion string          `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEventEnvelope marshals payload into a fresh envelope.
func NewEventEnvelope(eventType string, payload any) (*EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "marshal event payload")
	}
	return &EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		Source:        eventSource,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: schemaVersion,
		Payload:       data,
	}, nil
}

// DecodePayload unmarshals the payload into target.
func (e *EventEnvelope) DecodePayload(target any) error {
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "decode event payload")
	}
	return nil
}

// ToMessage encodes e for topic, keyed by key.
func (e *EventEnvelope) ToMessage(topic, key string) (*Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "marshal event envelope")
	}
	return &Message{
		Topic:     topic,
		Key:       []byte(key),
		Value:     data,
		Timestamp: e.Timestamp,
		Headers: map[string]string{
			"event_type":     e.EventType,
			"event_id":       e.EventID,
			"schema_version": e.SchemaVersion,
		},
	}, nil
}

// EnvelopeFromMessage decodes a consumed record.
func EnvelopeFromMessage(m kafka.Message) (*EventEnvelope, error) {
	var e EventEnvelope
	if err := json.Unmarshal(m.Value, &e); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "decode event envelope")
	}
	return &e, nil
}

// publisher is the part of Producer the EventPublisher needs.
type publisher interface {
	Publish(ctx context.Context, msg *Message) error
	Close() error
}

// EventPublisher emits solve.completed events.
type EventPublisher struct {
	producer publisher
	topic    string
	logger   logging.Logger
}

// NewEventPublisher publishes to topic, DefaultSolveTopic when empty.
func NewEventPublisher(p *Producer, topic string, logger logging.Logger) *EventPublisher {
	return newEventPublisher(p, topic, logger)
}

func newEventPublisher(p publisher, topic string, logger logging.Logger) *EventPublisher {
	if topic == "" {
		topic = DefaultSolveTopic
	}
	return &EventPublisher{producer: p, topic: topic, logger: logging.OrNop(logger).Named("events")}
}

// Topic returns the destination topic.
func (p *EventPublisher) Topic() string { return p.topic }

// PublishSolveCompleted sends ev keyed by its problem type so that events of
// one type stay ordered within a partition.
func (p *EventPublisher) PublishSolveCompleted(ctx context.Context, ev common.SolveEvent) error {
	if ev.RequestID == "" {
		ev.RequestID = uuid.NewString()
	}
	env, err := NewEventEnvelope(EventSolveCompleted, ev)
	if err != nil {
		return err
	}
	msg, err := env.ToMessage(p.topic, ev.ProblemType)
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, msg)
}

// Close closes the producer.
func (p *EventPublisher) Close() error { return p.producer.Close() }
