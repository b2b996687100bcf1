// Package events defines the envelope for payment lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event types emitted by the payment flow.
const (
	TypeSaleCreated     = "sale.created.v1"
	TypePaymentApproved = "payment.approved.v1"
	TypePaymentRejected = "payment.rejected.v1"
)

// NATS subjects, one per event type.
const (
	SubjectSaleCreated     = "ratixpay.sale.created"
	SubjectPaymentApproved = "ratixpay.payment.approved"
	SubjectPaymentRejected = "ratixpay.payment.rejected"
)

// Event is the envelope published to the broker.
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// New creates an event envelope around a payload.
func New(eventType, aggregateID string, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:          ulid.Make().String(),
		Type:        eventType,
		OccurredAt:  time.Now().UTC(),
		AggregateID: aggregateID,
		Data:        raw,
	}, nil
}

// WithCorrelation attaches a correlation id.
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the payload into v.
func (e *Event) DecodeData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Publisher pushes events to the broker. Publishing is best-effort
// everywhere in this service; callers log failures and move on.
type Publisher interface {
	Publish(ctx context.Context, subject string, event *Event) error
}

// NoopPublisher drops events. Used when NATS is not configured and in tests.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, *Event) error { return nil }
