package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
)

// EventType names an alert lifecycle event
type EventType string

const (
	EventAlertCreated      EventType = "alert.created"
	EventAlertAcknowledged EventType = "alert.acknowledged"
	EventAlertResolved     EventType = "alert.resolved"
	EventAlertSuppressed   EventType = "alert.suppressed"
	EventActionFailed      EventType = "alert.action_failed"
)

// AlertStreamName is the JetStream stream holding alert events
const AlertStreamName = "ALERTS"

// EventForStatus maps a lifecycle status to the event it emits
func EventForStatus(status model.AlertStatus) EventType {
	switch status {
	case model.AlertStatusAcknowledged:
		return EventAlertAcknowledged
	case model.AlertStatusResolved:
		return EventAlertResolved
	case model.AlertStatusSuppressed:
		return EventAlertSuppressed
	default:
		return EventAlertCreated
	}
}

// Event is published on every alert lifecycle transition
type Event struct {
	ID         string               `json:"id"`
	Type       EventType            `json:"type"`
	TenantID   string               `json:"tenant_id"`
	RuleID     string               `json:"rule_id"`
	InstanceID string               `json:"instance_id"`
	Status     model.AlertStatus    `json:"status"`
	Actor      string               `json:"actor,omitempty"`
	Note       string               `json:"note,omitempty"`
	Action     *model.ActionResult  `json:"action,omitempty"`
	Instance   *model.AlertInstance `json:"instance,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// NewEvent builds an event for instance
func NewEvent(typ EventType, instance *model.AlertInstance) *Event {
	return &Event{
		ID:         uuid.New().String(),
		Type:       typ,
		TenantID:   instance.TenantID,
		RuleID:     instance.RuleID,
		InstanceID: instance.ID,
		Status:     instance.Status,
		Instance:   instance,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers alert events to a broker
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// Events publishes through a Publisher and only logs failures, so a broker
// outage never blocks an alert transition
type Events struct {
	logger    *zap.Logger
	publisher Publisher
	metrics   *Metrics
}

// NewEvents wraps publisher. metrics may be nil.
func NewEvents(publisher Publisher, metrics *Metrics, logger *zap.Logger) *Events {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Events{
		logger:    logger.Named("events"),
		publisher: publisher,
		metrics:   metrics,
	}
}

// Emit publishes event
func (e *Events) Emit(ctx context.Context, event *Event) {
	result := "ok"
	if err := e.publisher.Publish(ctx, event); err != nil {
		result = "error"
		e.logger.Error("Failed to publish event",
			zap.String("type", string(event.Type)),
			zap.String("instance_id", event.InstanceID),
			zap.Error(err))
	}
	if e.metrics != nil {
		e.metrics.EventsPublished.WithLabelValues(string(event.Type), result).Inc()
	}
}

// Close closes the underlying publisher
func (e *Events) Close() error {
	return e.publisher.Close()
}

// NopPublisher drops every event
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(context.Context, *Event) error { return nil }

// Close implements Publisher
func (NopPublisher) Close() error { return nil }

// NATSPublisher publishes events to the ALERTS JetStream stream under
// "<event type>.<tenant>"
type NATSPublisher struct {
	js nats.JetStreamContext
}

// NewNATSPublisher creates the ALERTS stream if needed
func NewNATSPublisher(js nats.JetStreamContext) (*NATSPublisher, error) {
	stream, err := js.StreamInfo(AlertStreamName)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}

	if stream == nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     AlertStreamName,
			Subjects: []string{"alert.>"},
			Storage:  nats.FileStorage,
			MaxAge:   7 * 24 * time.Hour,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}

	return &NATSPublisher{js: js}, nil
}

// Publish implements Publisher
func (p *NATSPublisher) Publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", event.Type, event.TenantID)
	if _, err := p.js.Publish(subject, data, nats.MsgId(event.ID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close implements Publisher. The connection is owned by the caller.
func (p *NATSPublisher) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes events to a Kafka topic keyed by tenant, so
// events of one tenant stay ordered within a partition
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a Kafka publisher
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

// Publish implements Publisher
func (p *KafkaPublisher) Publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.TenantID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
		Time: event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Close implements Publisher
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
