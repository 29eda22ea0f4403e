// Package checkout builds the canonical payment-request envelope from the
// host's basket, address and contact data, and keeps the short-lived
// correlation record that maps an external order id back to the checkout
// attempt across the redirect round-trip.
package checkout

import (
	"fmt"
	"time"

	"paymentgw/internal/host"
)

// Gateway metadata sent with every charge envelope.
const (
	shopType       = "webshop"
	gatewayType    = "plugin-paymentgw"
	gatewayVersion = "1.2.0"
)

// ValidationError names a required input that was absent. It blocks the
// operation before any provider call is made.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required checkout data: %s", e.Field)
}

// NewValidationError creates a ValidationError for the named field.
func NewValidationError(field string) *ValidationError {
	return &ValidationError{Field: field}
}

// CanonicalPaymentRequest is the transient envelope built once per charge
// attempt. OrderID is the freshly generated external order id, unique per
// attempt; it is the correlation key used to resolve webhooks back to the
// host order.
type CanonicalPaymentRequest struct {
	PrivateKey      string         `json:"privateKey"`
	CheckoutURL     string         `json:"checkoutUrl"`
	Basket          BasketSnapshot `json:"basket"`
	InvoiceAddress  AddressData    `json:"invoiceAddress"`
	DeliveryAddress AddressData    `json:"deliveryAddress"`
	Contact         ContactData    `json:"contact"`
	OrderID         string         `json:"orderId"`
	PaymentType     map[string]any `json:"paymentType"`
	Metadata        Metadata       `json:"metadata"`

	// ReturnURL is set by redirect-style methods only.
	ReturnURL string `json:"returnUrl,omitempty"`
	// B2BCustomer is set by the business-customer variants only.
	B2BCustomer map[string]any `json:"b2bCustomer,omitempty"`
}

// Metadata identifies the integration to the provider.
type Metadata struct {
	ShopType      string `json:"shopType"`
	PluginType    string `json:"pluginType"`
	PluginVersion string `json:"pluginVersion"`
}

// AddressData is a host address with its country and state resolved to the
// provider's expected representation.
type AddressData struct {
	host.Address
	CountryCode string `json:"countryCode"`
	StateName   string `json:"stateName,omitempty"`
}

// ContactData is the customer sub-object of the charge envelope.
type ContactData struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Birthday  string `json:"birthday,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Mobile    string `json:"mobile,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Company   string `json:"company,omitempty"`
}

// BasketSnapshot is the basket part of the charge envelope. All monetary
// values are rounded to two decimals at this boundary.
type BasketSnapshot struct {
	AmountTotal         float64          `json:"amountTotal"`
	AmountTotalDiscount float64          `json:"amountTotalDiscount"`
	AmountTotalVat      float64          `json:"amountTotalVat"`
	CurrencyCode        string           `json:"currencyCode"`
	ShippingAmount      float64          `json:"shippingAmount"`
	ShippingAmountNet   float64          `json:"shippingAmountNet"`
	ShippingVat         float64          `json:"shippingVat"`
	ShippingTitle       string           `json:"shippingTitle"`
	DiscountTitle       string           `json:"discountTitle"`
	Items               []BasketLineItem `json:"basketItems"`
}

// BasketLineItem is one basket line with the VAT split applied.
// amountGross = amountNet + amountVat within display rounding.
type BasketLineItem struct {
	ReferenceID   int64   `json:"basketItemReferenceId"`
	Quantity      float64 `json:"quantity"`
	Vat           float64 `json:"vat"`
	AmountGross   float64 `json:"amountGross"`
	AmountVat     float64 `json:"amountVat"`
	AmountPerUnit float64 `json:"amountPerUnit"`
	AmountNet     float64 `json:"amountNet"`
	Title         string  `json:"title"`
}

// Record is the checkout correlation record persisted per charge attempt.
// It replaces cross-request session state: anything a later request (order
// creation, redirect return, webhook) needs is keyed here by the external
// order id.
type Record struct {
	ExternalOrderID string         `json:"external_order_id"`
	SessionID       string         `json:"session_id"`
	BasketID        int64          `json:"basket_id"`
	Method          string         `json:"method"`
	BirthDate       string         `json:"birth_date,omitempty"`
	B2BCustomer     map[string]any `json:"b2b_customer,omitempty"`

	// Transaction holds the provider's charge response payload once the
	// charge succeeded (payment id, charge id, short id, method fields).
	Transaction map[string]any `json:"transaction,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
