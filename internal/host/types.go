// Package host models the order-management platform the gateway integrates
// with. The platform owns orders, payments, contacts and comments; the
// gateway reads and conditionally writes them through the contracts defined
// here and never manages their internal consistency.
package host

import "time"

// PaymentStatus is the host's payment ledger status.
type PaymentStatus string

const (
	StatusAwaitingApproval  PaymentStatus = "awaiting_approval"
	StatusCaptured          PaymentStatus = "captured"
	StatusPartiallyCaptured PaymentStatus = "partially_captured"
	StatusCanceled          PaymentStatus = "canceled"
)

// TransactionTypeBookedPosting marks a payment as a booked posting.
const TransactionTypeBookedPosting = "booked_posting"

// PropertyType identifies a payment property.
type PropertyType string

const (
	PropertyBookingText PropertyType = "booking_text"
	PropertyOrigin      PropertyType = "origin"
)

// OriginPlugin is the origin marker identifying this gateway as the author
// of a payment record.
const OriginPlugin = "plugin"

// DocumentTypeInvoice is the order document type carrying the invoice number.
const DocumentTypeInvoice = "invoice"

// OrderPropertyExternalOrderID stores the gateway's external order id on the
// host order; it is the correlation key for webhook resolution.
const OrderPropertyExternalOrderID = "external_order_id"

// OrderItemPropertyReturnsReason marks the return reason on a return order
// item.
const OrderItemPropertyReturnsReason = "returns_reason"

// RelationTypeContact links an order to its primary contact.
const RelationTypeContact = "contact"

// Payment is a host payment ledger entry.
type Payment struct {
	ID              int64             `json:"id,omitempty"`
	MopID           int               `json:"mopId"`
	TransactionType string            `json:"transactionType"`
	Status          PaymentStatus     `json:"status"`
	Amount          float64           `json:"amount"`
	Currency        string            `json:"currency"`
	ReceivedAt      time.Time         `json:"receivedAt"`
	Hash            string            `json:"hash"`
	Properties      []PaymentProperty `json:"properties,omitempty"`

	// UpdateOrderPaymentStatus asks the host to re-derive the order's own
	// payment status after this mutation.
	UpdateOrderPaymentStatus bool `json:"updateOrderPaymentStatus,omitempty"`
}

// PaymentProperty is a typed key/value attached to a payment.
type PaymentProperty struct {
	Type  PropertyType `json:"type"`
	Value string       `json:"value"`
}

// Property returns the value of the first property of the given type.
func (p *Payment) Property(t PropertyType) string {
	for _, prop := range p.Properties {
		if prop.Type == t {
			return prop.Value
		}
	}
	return ""
}

// Order is the host order as the gateway sees it.
type Order struct {
	ID                int64           `json:"id"`
	ParentOrderID     int64           `json:"parentOrderId,omitempty"`
	MethodOfPaymentID int             `json:"methodOfPaymentId"`
	Amounts           []OrderAmount   `json:"amounts"`
	Documents         []Document      `json:"documents,omitempty"`
	Items             []OrderItem     `json:"items,omitempty"`
	Relations         []OrderRelation `json:"relations,omitempty"`
	Properties        []OrderProperty `json:"properties,omitempty"`
}

// AmountFor returns the amount record matching the given currency.
func (o *Order) AmountFor(currency string) (OrderAmount, bool) {
	for _, a := range o.Amounts {
		if a.Currency == currency {
			return a, true
		}
	}
	return OrderAmount{}, false
}

// InvoiceNumber returns the number of the first invoice document, or "".
func (o *Order) InvoiceNumber() string {
	for _, d := range o.Documents {
		if d.Type == DocumentTypeInvoice {
			return d.NumberWithPrefix
		}
	}
	return ""
}

// ContactID returns the order's primary contact id, or 0 when the order has
// no contact relation.
func (o *Order) ContactID() int64 {
	for _, r := range o.Relations {
		if r.ReferenceType == RelationTypeContact {
			return r.ReferenceID
		}
	}
	return 0
}

// OrderAmount is a per-currency amount record on an order.
type OrderAmount struct {
	Currency     string  `json:"currency"`
	InvoiceTotal float64 `json:"invoiceTotal"`
	PaidAmount   float64 `json:"paidAmount"`
}

// Document is an order document (invoice, delivery note, ...).
type Document struct {
	Type             string `json:"type"`
	NumberWithPrefix string `json:"numberWithPrefix"`
}

// OrderItem is a line of the order, with its typed properties.
type OrderItem struct {
	ID         int64               `json:"id"`
	Properties []OrderItemProperty `json:"properties,omitempty"`
}

// OrderItemProperty is a typed key/value on an order item.
type OrderItemProperty struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// OrderRelation links an order to another record (contact, warehouse, ...).
type OrderRelation struct {
	ReferenceType string `json:"referenceType"`
	ReferenceID   int64  `json:"referenceId"`
}

// OrderProperty is a typed key/value on an order.
type OrderProperty struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Contact is a host customer record.
type Contact struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Address is a billing or delivery address.
type Address struct {
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Email          string `json:"email"`
	Birthday       string `json:"birthday,omitempty"`
	Phone          string `json:"phone,omitempty"`
	PersonalNumber string `json:"personalNumber,omitempty"`
	Gender         string `json:"gender,omitempty"`
	CompanyName    string `json:"companyName,omitempty"`
	Street         string `json:"street,omitempty"`
	HouseNumber    string `json:"houseNumber,omitempty"`
	PostalCode     string `json:"postalCode,omitempty"`
	Town           string `json:"town,omitempty"`
	CountryID      int    `json:"countryId"`
	StateID        int    `json:"stateId,omitempty"`
}

// Basket is the checkout basket snapshot.
type Basket struct {
	ID                int64        `json:"id"`
	Currency          string       `json:"currency"`
	BasketAmount      float64      `json:"basketAmount"`
	CouponDiscount    float64      `json:"couponDiscount"`
	ShippingAmount    float64      `json:"shippingAmount"`
	ShippingAmountNet float64      `json:"shippingAmountNet"`
	Items             []BasketItem `json:"items"`
}

// BasketItem is one basket line. Price is the gross line total.
type BasketItem struct {
	VariationID int64   `json:"variationId"`
	Name        string  `json:"name,omitempty"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`
	VAT         float64 `json:"vat"`
}
