// Package paymentinfo persists the durable link between a host order and
// the provider payment it was charged with. At most one row exists per
// order; writing again for the same order replaces the stored transaction.
package paymentinfo

import (
	"context"
	"time"
)

// PaymentInformation is the durable order/payment correlation row.
type PaymentInformation struct {
	OrderID         int64          `json:"orderId"`
	ExternalOrderID string         `json:"externalOrderId"`
	PaymentMethod   string         `json:"paymentMethod"`
	Transaction     map[string]any `json:"transaction,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// PaymentID returns the provider payment id stored in the transaction
// payload, or "" when the charge never recorded one.
func (p *PaymentInformation) PaymentID() string {
	return p.TransactionValue("paymentId")
}

// ChargeID returns the provider charge id of the initial charge, or "".
func (p *PaymentInformation) ChargeID() string {
	return p.TransactionValue("chargeId")
}

// ShortID returns the provider short id (the customer-facing payment
// reference), or "".
func (p *PaymentInformation) ShortID() string {
	return p.TransactionValue("shortId")
}

// Currency returns the currency the charge was made in, or "".
func (p *PaymentInformation) Currency() string {
	return p.TransactionValue("currency")
}

// TransactionValue returns the string stored under key in the transaction
// payload, or "" when absent or not a string.
func (p *PaymentInformation) TransactionValue(key string) string {
	if p.Transaction == nil {
		return ""
	}
	if s, ok := p.Transaction[key].(string); ok {
		return s
	}
	return ""
}

// Store is the payment information repository contract.
type Store interface {
	// Upsert writes the row for the order, replacing any existing one.
	Upsert(ctx context.Context, info *PaymentInformation) error
	// GetByOrder returns the row for the host order id.
	GetByOrder(ctx context.Context, orderID int64) (*PaymentInformation, error)
	// GetByExternalOrderID returns the row by its external order id.
	GetByExternalOrderID(ctx context.Context, externalOrderID string) (*PaymentInformation, error)
}
