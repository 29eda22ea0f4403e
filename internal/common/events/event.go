// Package events defines the envelope published on the message bus whenever a
// reconciliation operation changes host payment state.
package events

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Envelope wraps a payment lifecycle event.
type Envelope struct {
	ID              string          `json:"event_id"`
	Type            string          `json:"type"`
	OccurredAt      time.Time       `json:"occurred_at"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	OrderID         int64           `json:"order_id,omitempty"`
	ExternalOrderID string          `json:"external_order_id,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// Event types emitted by the gateway.
const (
	TypePaymentCharged   = "payment.charged"
	TypePaymentCanceled  = "payment.canceled"
	TypePaymentShipped   = "payment.shipped"
	TypePaymentUpdated   = "payment.updated"
	TypeWebhookProcessed = "webhook.processed"
)

// Subjects the gateway publishes to.
const (
	SubjectPayment = "paymentgw.payment"
	SubjectWebhook = "paymentgw.webhook"
)

// NewEnvelope creates an envelope with a fresh ULID and UTC timestamp.
func NewEnvelope(eventType string, orderID int64, externalOrderID string, data interface{}) (*Envelope, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	return &Envelope{
		ID:              ulid.Make().String(),
		Type:            eventType,
		OccurredAt:      time.Now().UTC(),
		OrderID:         orderID,
		ExternalOrderID: externalOrderID,
		Data:            raw,
	}, nil
}

// WithCorrelation attaches the request correlation id.
func (e *Envelope) WithCorrelation(correlationID string) *Envelope {
	e.CorrelationID = correlationID
	return e
}
