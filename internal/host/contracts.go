package host

import (
	"context"
	"errors"
)

// ErrNotFound marks a host record that does not exist.
var ErrNotFound = errors.New("not found")

// Orders is the host order repository contract.
type Orders interface {
	// Get returns the order by host order id.
	Get(ctx context.Context, orderID int64) (*Order, error)
	// GetByExternalOrderID resolves an order through the external-order-id
	// property written at charge time.
	GetByExternalOrderID(ctx context.Context, externalOrderID string) (*Order, error)
	// OriginalOrder walks parent links until it reaches the order the
	// payment was originally charged against. An order without a parent is
	// its own original.
	OriginalOrder(ctx context.Context, order *Order) (*Order, error)
	// AddExternalOrderID attaches the external order id property.
	AddExternalOrderID(ctx context.Context, orderID int64, externalOrderID string) error
}

// Payments is the host payment repository contract.
type Payments interface {
	Create(ctx context.Context, payment *Payment) (*Payment, error)
	Update(ctx context.Context, payment *Payment) error
	ListByOrder(ctx context.Context, orderID int64) ([]*Payment, error)

	// Order relation is delete-then-create so a relink never duplicates.
	DeleteOrderRelation(ctx context.Context, paymentID int64) error
	CreateOrderRelation(ctx context.Context, paymentID, orderID int64) error
	CreateContactRelation(ctx context.Context, paymentID, contactID int64) error
}

// Contacts is the host contact repository contract.
type Contacts interface {
	GetContact(ctx context.Context, contactID int64) (*Contact, error)
}

// Comments creates order comments visible to the contact.
type Comments interface {
	CreateOrderComment(ctx context.Context, orderID int64, text string, visibleForContact bool) error
}

// Checkouts reads the checkout state (basket, addresses, locale data) for a
// storefront session.
type Checkouts interface {
	Basket(ctx context.Context, sessionID string) (*Basket, error)
	Addresses(ctx context.Context, sessionID string) (billing, shipping *Address, err error)
	CountryCode(ctx context.Context, countryID int) (string, error)
	CountryState(ctx context.Context, countryID, stateID int) (string, error)
}

// Variations resolves display names for basket items whose name is empty.
type Variations interface {
	Name(ctx context.Context, variationID int64, lang string) (string, error)
}

// Webstore exposes shop-level configuration.
type Webstore interface {
	BaseURL(ctx context.Context) (string, error)
}
