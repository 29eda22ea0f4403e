package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"paymentgw/internal/common/money"
	"paymentgw/internal/host"
)

// recordTTL bounds how long a correlation record survives; redirect
// round-trips and order creation complete well within this window.
const recordTTL = 24 * time.Hour

// RecordStore persists checkout correlation records.
type RecordStore interface {
	Save(ctx context.Context, record *Record) error
	GetByExternalOrderID(ctx context.Context, externalOrderID string) (*Record, error)
	LatestBySession(ctx context.Context, sessionID string) (*Record, error)
	SetTransaction(ctx context.Context, externalOrderID string, transaction map[string]any) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// Builder assembles the canonical payment-request envelope.
type Builder struct {
	checkouts  host.Checkouts
	variations host.Variations
	webstore   host.Webstore
	records    RecordStore
	privateKey string
	logger     *slog.Logger
}

// NewBuilder creates a request builder.
func NewBuilder(
	checkouts host.Checkouts,
	variations host.Variations,
	webstore host.Webstore,
	records RecordStore,
	privateKey string,
	logger *slog.Logger,
) *Builder {
	return &Builder{
		checkouts:  checkouts,
		variations: variations,
		webstore:   webstore,
		records:    records,
		privateKey: privateKey,
		logger:     logger,
	}
}

// BuildInput carries the storefront's charge selection.
type BuildInput struct {
	SessionID     string
	Method        string
	Locale        string
	MethodPayload map[string]any

	// BirthDate is the customer-entered birth date used when the billing
	// address carries none (guaranteed methods require one).
	BirthDate string
	// B2BCustomer is the business-customer sub-object for B2B variants.
	B2BCustomer map[string]any
}

// BuildChargeRequest assembles the envelope for one charge attempt and
// persists the correlation record. It performs no provider call. A fresh
// external order id is generated on every invocation, so two attempts for
// the same basket never share one.
func (b *Builder) BuildChargeRequest(ctx context.Context, in BuildInput) (*CanonicalPaymentRequest, error) {
	basket, err := b.checkouts.Basket(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load basket: %w", err)
	}
	if basket == nil || len(basket.Items) == 0 {
		return nil, NewValidationError("basket")
	}

	billing, shipping, err := b.checkouts.Addresses(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load addresses: %w", err)
	}
	if billing == nil {
		return nil, NewValidationError("billing address")
	}
	if shipping == nil {
		shipping = billing
	}

	invoiceAddress, err := b.resolveAddress(ctx, billing)
	if err != nil {
		return nil, err
	}
	deliveryAddress, err := b.resolveAddress(ctx, shipping)
	if err != nil {
		return nil, err
	}

	snapshot, err := b.basketSnapshot(ctx, basket, in.Locale)
	if err != nil {
		return nil, err
	}

	baseURL, err := b.webstore.BaseURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve webstore base URL: %w", err)
	}

	externalOrderID := generateExternalOrderID(basket.ID)

	record := &Record{
		ExternalOrderID: externalOrderID,
		SessionID:       in.SessionID,
		BasketID:        basket.ID,
		Method:          in.Method,
		BirthDate:       in.BirthDate,
		B2BCustomer:     in.B2BCustomer,
		CreatedAt:       time.Now().UTC(),
		ExpiresAt:       time.Now().UTC().Add(recordTTL),
	}
	if err := b.records.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("save correlation record: %w", err)
	}

	b.logger.Debug("charge request built",
		"external_order_id", externalOrderID,
		"basket_id", basket.ID,
		"method", in.Method,
	)

	return &CanonicalPaymentRequest{
		PrivateKey:      b.privateKey,
		CheckoutURL:     baseURL + "/checkout",
		Basket:          *snapshot,
		InvoiceAddress:  invoiceAddress,
		DeliveryAddress: deliveryAddress,
		Contact:         b.contactInformation(billing, in.BirthDate),
		OrderID:         externalOrderID,
		PaymentType:     in.MethodPayload,
		Metadata: Metadata{
			ShopType:      shopType,
			PluginType:    gatewayType,
			PluginVersion: gatewayVersion,
		},
	}, nil
}

// generateExternalOrderID builds the correlation key: the basket id plus a
// ULID, unique per attempt.
func generateExternalOrderID(basketID int64) string {
	return fmt.Sprintf("%d.%s", basketID, ulid.Make().String())
}

func (b *Builder) resolveAddress(ctx context.Context, addr *host.Address) (AddressData, error) {
	code, err := b.checkouts.CountryCode(ctx, addr.CountryID)
	if err != nil {
		return AddressData{}, fmt.Errorf("resolve country %d: %w", addr.CountryID, err)
	}
	if code == "" {
		return AddressData{}, NewValidationError("address country")
	}

	state, err := b.checkouts.CountryState(ctx, addr.CountryID, addr.StateID)
	if err != nil {
		return AddressData{}, fmt.Errorf("resolve state %d/%d: %w", addr.CountryID, addr.StateID, err)
	}

	return AddressData{
		Address:     *addr,
		CountryCode: code,
		StateName:   state,
	}, nil
}

// contactInformation maps the billing address to the provider's customer
// object. The entered birth date fills in when the address has none.
func (b *Builder) contactInformation(addr *host.Address, birthDate string) ContactData {
	birthday := addr.Birthday
	if birthday == "" {
		birthday = birthDate
	}
	return ContactData{
		FirstName: addr.FirstName,
		LastName:  addr.LastName,
		Email:     addr.Email,
		Birthday:  birthday,
		Phone:     addr.Phone,
		Mobile:    addr.PersonalNumber,
		Gender:    addr.Gender,
		Company:   addr.CompanyName,
	}
}

// basketSnapshot converts the host basket into the provider's basket shape.
// Per line: net = gross / (1 + vat/100), vat = gross - net. VAT totals are
// accumulated unrounded; rounding to two decimals happens only on the
// outgoing values.
func (b *Builder) basketSnapshot(ctx context.Context, basket *host.Basket, locale string) (*BasketSnapshot, error) {
	items := make([]BasketLineItem, 0, len(basket.Items))
	amountTotalVat := 0.0

	for _, item := range basket.Items {
		if item.Quantity <= 0 {
			return nil, NewValidationError("basket item quantity")
		}
		net, vat := money.SplitGross(item.Price, item.VAT)
		amountTotalVat += vat

		title := item.Name
		if title == "" {
			name, err := b.variations.Name(ctx, item.VariationID, locale)
			if err != nil {
				b.logger.Warn("variation name lookup failed",
					"variation_id", item.VariationID,
					"error", err,
				)
			}
			title = name
		}
		if title == "" {
			title = strconv.FormatInt(item.VariationID, 10)
		}

		items = append(items, BasketLineItem{
			ReferenceID:   item.VariationID,
			Quantity:      item.Quantity,
			Vat:           item.VAT,
			AmountGross:   money.Round2(item.Price),
			AmountVat:     money.Round2(vat),
			AmountPerUnit: money.Round2(item.Price / item.Quantity),
			AmountNet:     money.Round2(net),
			Title:         title,
		})
	}

	return &BasketSnapshot{
		AmountTotal:         money.Round2(basket.BasketAmount),
		AmountTotalDiscount: money.AbsDiscount(basket.CouponDiscount),
		AmountTotalVat:      money.Round2(amountTotalVat),
		CurrencyCode:        basket.Currency,
		ShippingAmount:      money.Round2(basket.ShippingAmount),
		ShippingAmountNet:   money.Round2(basket.ShippingAmountNet),
		ShippingVat:         basket.Items[0].VAT,
		ShippingTitle:       "Shipping",
		DiscountTitle:       "Voucher",
		Items:               items,
	}, nil
}
