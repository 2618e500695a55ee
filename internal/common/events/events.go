// Package events carries the event envelope published on NATS when a payment
// status update is recorded.
package events

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// NATS subjects
const (
	SubjectStatusRecorded  = "payments.status.recorded"
	SubjectWebhookRejected = "payments.webhook.rejected"
)

// Envelope wraps all events with common metadata.
type Envelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

// NewEnvelope creates a new event envelope.
func NewEnvelope(eventType, correlationID string, data any) (*Envelope, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:            ulid.Make().String(),
		Type:          eventType,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Data:          jsonData,
	}, nil
}

// StatusRecorded is published after a webhook callback produced a status event.
type StatusRecorded struct {
	OrderID       string     `json:"order_id"`
	StatusEventID string     `json:"status_event_id"`
	Status        string     `json:"status"`
	SchoolID      string     `json:"school_id"`
	PaymentTime   *time.Time `json:"payment_time,omitempty"`
}

// WebhookRejected is published when a callback could not be matched to an order.
type WebhookRejected struct {
	WebhookLogID string `json:"webhook_log_id"`
	Reason       string `json:"reason"`
}
