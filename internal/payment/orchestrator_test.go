package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"paymentgw/internal/checkout"
	"paymentgw/internal/common/database"
	"paymentgw/internal/host"
	"paymentgw/internal/paymentinfo"
	"paymentgw/internal/provider"
	"paymentgw/internal/reconcile"
)

// stubCaller records provider calls and replays canned results.
type stubCaller struct {
	calls   []provider.Operation
	payload []any
	result  *provider.Result
	err     error
}

func (s *stubCaller) Call(ctx context.Context, op provider.Operation, envelope any) (*provider.Result, error) {
	s.calls = append(s.calls, op)
	s.payload = append(s.payload, envelope)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubCaller) PrivateKey() string { return "pk-test" }

type stubOrders struct {
	orders     map[int64]*host.Order
	byExternal map[string]*host.Order
	externals  map[int64]string
}

func newStubOrders() *stubOrders {
	return &stubOrders{
		orders:     make(map[int64]*host.Order),
		byExternal: make(map[string]*host.Order),
		externals:  make(map[int64]string),
	}
}

func (s *stubOrders) Get(ctx context.Context, orderID int64) (*host.Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, host.ErrNotFound
	}
	return o, nil
}

func (s *stubOrders) GetByExternalOrderID(ctx context.Context, externalOrderID string) (*host.Order, error) {
	o, ok := s.byExternal[externalOrderID]
	if !ok {
		return nil, host.ErrNotFound
	}
	return o, nil
}

func (s *stubOrders) OriginalOrder(ctx context.Context, order *host.Order) (*host.Order, error) {
	if order.ParentOrderID == 0 {
		return order, nil
	}
	return s.Get(ctx, order.ParentOrderID)
}

func (s *stubOrders) AddExternalOrderID(ctx context.Context, orderID int64, externalOrderID string) error {
	s.externals[orderID] = externalOrderID
	return nil
}

type stubPayments struct {
	created          []*host.Payment
	orderRelations   map[int64]int64
	contactRelations map[int64]int64
}

func newStubPayments() *stubPayments {
	return &stubPayments{
		orderRelations:   make(map[int64]int64),
		contactRelations: make(map[int64]int64),
	}
}

func (s *stubPayments) Create(ctx context.Context, payment *host.Payment) (*host.Payment, error) {
	created := *payment
	created.ID = int64(len(s.created) + 1)
	s.created = append(s.created, &created)
	return &created, nil
}

func (s *stubPayments) Update(ctx context.Context, payment *host.Payment) error { return nil }

func (s *stubPayments) ListByOrder(ctx context.Context, orderID int64) ([]*host.Payment, error) {
	var out []*host.Payment
	for _, p := range s.created {
		if s.orderRelations[p.ID] == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubPayments) DeleteOrderRelation(ctx context.Context, paymentID int64) error {
	delete(s.orderRelations, paymentID)
	return nil
}

func (s *stubPayments) CreateOrderRelation(ctx context.Context, paymentID, orderID int64) error {
	s.orderRelations[paymentID] = orderID
	return nil
}

func (s *stubPayments) CreateContactRelation(ctx context.Context, paymentID, contactID int64) error {
	s.contactRelations[paymentID] = contactID
	return nil
}

type stubContacts struct{}

func (stubContacts) GetContact(ctx context.Context, contactID int64) (*host.Contact, error) {
	return nil, host.ErrNotFound
}

type stubComments struct {
	comments []string
}

func (s *stubComments) CreateOrderComment(ctx context.Context, orderID int64, text string, visibleForContact bool) error {
	s.comments = append(s.comments, text)
	return nil
}

type memoryRecords struct {
	records   map[string]*checkout.Record
	bySession map[string]*checkout.Record
}

func newMemoryRecords() *memoryRecords {
	return &memoryRecords{
		records:   make(map[string]*checkout.Record),
		bySession: make(map[string]*checkout.Record),
	}
}

func (s *memoryRecords) Save(ctx context.Context, record *checkout.Record) error {
	s.records[record.ExternalOrderID] = record
	s.bySession[record.SessionID] = record
	return nil
}

func (s *memoryRecords) GetByExternalOrderID(ctx context.Context, externalOrderID string) (*checkout.Record, error) {
	r, ok := s.records[externalOrderID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return r, nil
}

func (s *memoryRecords) LatestBySession(ctx context.Context, sessionID string) (*checkout.Record, error) {
	r, ok := s.bySession[sessionID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return r, nil
}

func (s *memoryRecords) SetTransaction(ctx context.Context, externalOrderID string, transaction map[string]any) error {
	r, ok := s.records[externalOrderID]
	if !ok {
		return database.ErrNotFound
	}
	r.Transaction = transaction
	return nil
}

func (s *memoryRecords) DeleteExpired(ctx context.Context) (int64, error) { return 0, nil }

type memoryInfoStore struct {
	byOrder map[int64]*paymentinfo.PaymentInformation
}

func newMemoryInfoStore() *memoryInfoStore {
	return &memoryInfoStore{byOrder: make(map[int64]*paymentinfo.PaymentInformation)}
}

func (s *memoryInfoStore) Upsert(ctx context.Context, info *paymentinfo.PaymentInformation) error {
	s.byOrder[info.OrderID] = info
	return nil
}

func (s *memoryInfoStore) GetByOrder(ctx context.Context, orderID int64) (*paymentinfo.PaymentInformation, error) {
	info, ok := s.byOrder[orderID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return info, nil
}

func (s *memoryInfoStore) GetByExternalOrderID(ctx context.Context, externalOrderID string) (*paymentinfo.PaymentInformation, error) {
	for _, info := range s.byOrder {
		if info.ExternalOrderID == externalOrderID {
			return info, nil
		}
	}
	return nil, database.ErrNotFound
}

type fixture struct {
	orchestrator *Orchestrator
	caller       *stubCaller
	orders       *stubOrders
	payments     *stubPayments
	comments     *stubComments
	records      *memoryRecords
	info         *memoryInfoStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	caller := &stubCaller{result: &provider.Result{Success: true}}
	orders := newStubOrders()
	payments := newStubPayments()
	comments := &stubComments{}
	records := newMemoryRecords()
	info := newMemoryInfoStore()

	mops := reconcile.NewMopRegistry(map[string]int{
		provider.MethodInvoiceGuaranteed:    6001,
		provider.MethodInvoiceGuaranteedB2B: 6002,
		provider.MethodSofort:               6003,
	})
	engine := reconcile.NewEngine(orders, payments, stubContacts{}, comments, mops, nil, logger)

	orchestrator := NewOrchestrator(
		nil, // builder unused: tests enter below the build step
		records, caller, orders, engine, info,
		Strategies("https://gateway.example.com"), logger,
	)

	return &fixture{
		orchestrator: orchestrator,
		caller:       caller,
		orders:       orders,
		payments:     payments,
		comments:     comments,
		records:      records,
		info:         info,
	}
}

func TestHandleOrderCreated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.records.records["4711.ABC"] = &checkout.Record{
		ExternalOrderID: "4711.ABC",
		Method:          provider.MethodInvoiceGuaranteed,
		Transaction: map[string]any{
			"paymentId": "s-pay-1",
			"shortId":   "s-HPY-99",
		},
	}
	f.orders.orders[42] = &host.Order{
		ID:      42,
		Amounts: []host.OrderAmount{{Currency: "EUR", InvoiceTotal: 99.95}},
	}

	err := f.orchestrator.HandleOrderCreated(context.Background(), 42, "4711.ABC")
	require.NoError(t, err)

	require.Equal(t, "4711.ABC", f.orders.externals[42])

	info, ok := f.info.byOrder[42]
	require.True(t, ok)
	require.Equal(t, provider.MethodInvoiceGuaranteed, info.PaymentMethod)
	require.Equal(t, "s-pay-1", info.PaymentID())

	require.Len(t, f.payments.created, 1)
	payment := f.payments.created[0]
	require.Equal(t, host.StatusAwaitingApproval, payment.Status)
	require.Equal(t, 99.95, payment.Amount)
	require.Equal(t, "Payment reference: s-HPY-99", payment.Property(host.PropertyBookingText))
	require.Equal(t, int64(42), f.payments.orderRelations[payment.ID])

	require.Contains(t, f.comments.comments, "Payment reference: s-HPY-99")
}

func TestHandleOrderCreatedWithoutTransaction(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.records.records["4711.ABC"] = &checkout.Record{
		ExternalOrderID: "4711.ABC",
		Method:          provider.MethodSofort,
	}
	f.orders.orders[42] = &host.Order{ID: 42}

	// A redirect method may create the order before the charge completes:
	// the binding happens, the payment does not.
	err := f.orchestrator.HandleOrderCreated(context.Background(), 42, "4711.ABC")
	require.NoError(t, err)
	require.Empty(t, f.payments.created)
	require.NotNil(t, f.info.byOrder[42])
}

func TestCancelTransactionUsesMinAmount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// Return order over 80 EUR against an original order with only 60 EUR paid.
	f.orders.orders[43] = &host.Order{
		ID:            43,
		ParentOrderID: 42,
		Amounts:       []host.OrderAmount{{Currency: "EUR", InvoiceTotal: 80}},
	}
	f.orders.orders[42] = &host.Order{
		ID:      42,
		Amounts: []host.OrderAmount{{Currency: "EUR", InvoiceTotal: 100, PaidAmount: 60}},
	}
	f.info.byOrder[42] = &paymentinfo.PaymentInformation{
		OrderID:     42,
		Transaction: map[string]any{"paymentId": "s-pay-1", "chargeId": "s-chg-1", "currency": "EUR"},
	}

	result, err := f.orchestrator.CancelTransaction(context.Background(), 43)
	require.NoError(t, err)
	require.False(t, result.IsError())

	require.Equal(t, []provider.Operation{provider.OpCancelTransaction}, f.caller.calls)
	envelope := f.caller.payload[0].(map[string]any)
	require.Equal(t, 60.0, envelope["amount"])
	require.Equal(t, "EUR", envelope["currency"])
	require.Equal(t, "s-pay-1", envelope["paymentId"])
	require.Equal(t, "s-chg-1", envelope["chargeId"])
}

func TestCancelTransactionReturnReasonFirstMatchWins(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.orders.orders[43] = &host.Order{
		ID:            43,
		ParentOrderID: 42,
		Amounts:       []host.OrderAmount{{Currency: "EUR", InvoiceTotal: 80}},
		Items: []host.OrderItem{
			{ID: 1},
			{ID: 2, Properties: []host.OrderItemProperty{
				{Type: host.OrderItemPropertyReturnsReason, Value: "GOODS_RETURNED"},
			}},
			{ID: 3, Properties: []host.OrderItemProperty{
				{Type: host.OrderItemPropertyReturnsReason, Value: "CREDIT"},
			}},
		},
	}
	f.orders.orders[42] = &host.Order{
		ID:      42,
		Amounts: []host.OrderAmount{{Currency: "EUR", InvoiceTotal: 100, PaidAmount: 100}},
	}
	f.info.byOrder[42] = &paymentinfo.PaymentInformation{
		OrderID:       42,
		PaymentMethod: provider.MethodInvoiceGuaranteed,
		Transaction:   map[string]any{"currency": "EUR"},
	}

	_, err := f.orchestrator.CancelTransaction(context.Background(), 43)
	require.NoError(t, err)

	envelope := f.caller.payload[0].(map[string]any)
	require.Equal(t, "GOODS_RETURNED", envelope["reasonCode"])
}

func TestCancelTransactionReasonOnlyForConsumerInvoice(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.orders.orders[43] = &host.Order{
		ID:            43,
		ParentOrderID: 42,
		Amounts:       []host.OrderAmount{{Currency: "EUR", InvoiceTotal: 80}},
		Items: []host.OrderItem{
			{ID: 1, Properties: []host.OrderItemProperty{
				{Type: host.OrderItemPropertyReturnsReason, Value: "GOODS_RETURNED"},
			}},
		},
	}
	f.orders.orders[42] = &host.Order{
		ID:      42,
		Amounts: []host.OrderAmount{{Currency: "EUR", InvoiceTotal: 100, PaidAmount: 100}},
	}
	f.info.byOrder[42] = &paymentinfo.PaymentInformation{
		OrderID:       42,
		PaymentMethod: provider.MethodSofort,
		Transaction:   map[string]any{"currency": "EUR"},
	}

	_, err := f.orchestrator.CancelTransaction(context.Background(), 43)
	require.NoError(t, err)

	envelope := f.caller.payload[0].(map[string]any)
	require.NotContains(t, envelope, "reasonCode")
}

func TestCancelTransactionUsesPaymentCurrency(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// The cancel order lists a USD row first; the charge was made in EUR,
	// so the EUR rows decide the amount.
	f.orders.orders[43] = &host.Order{
		ID:            43,
		ParentOrderID: 42,
		Amounts: []host.OrderAmount{
			{Currency: "USD", InvoiceTotal: 95},
			{Currency: "EUR", InvoiceTotal: 80},
		},
	}
	f.orders.orders[42] = &host.Order{
		ID: 42,
		Amounts: []host.OrderAmount{
			{Currency: "USD", InvoiceTotal: 120, PaidAmount: 120},
			{Currency: "EUR", InvoiceTotal: 100, PaidAmount: 100},
		},
	}
	f.info.byOrder[42] = &paymentinfo.PaymentInformation{
		OrderID:     42,
		Transaction: map[string]any{"paymentId": "s-pay-1", "currency": "EUR"},
	}

	_, err := f.orchestrator.CancelTransaction(context.Background(), 43)
	require.NoError(t, err)

	envelope := f.caller.payload[0].(map[string]any)
	require.Equal(t, "EUR", envelope["currency"])
	require.Equal(t, 80.0, envelope["amount"])
}

func TestCancelTransactionNoPaymentCurrency(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.orders.orders[42] = &host.Order{
		ID:      42,
		Amounts: []host.OrderAmount{{Currency: "EUR", InvoiceTotal: 100, PaidAmount: 100}},
	}
	f.info.byOrder[42] = &paymentinfo.PaymentInformation{
		OrderID:     42,
		Transaction: map[string]any{"paymentId": "s-pay-1"},
	}

	_, err := f.orchestrator.CancelTransaction(context.Background(), 42)
	require.Error(t, err)
	require.Empty(t, f.caller.calls, "no provider call without a charged currency")
}

func TestCancelTransactionMissingCurrencyAmount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.orders.orders[43] = &host.Order{
		ID:            43,
		ParentOrderID: 42,
		Amounts:       []host.OrderAmount{{Currency: "EUR", InvoiceTotal: 80}},
	}
	// Original order carries only a USD amount record for an EUR charge.
	f.orders.orders[42] = &host.Order{
		ID:      42,
		Amounts: []host.OrderAmount{{Currency: "USD", InvoiceTotal: 100, PaidAmount: 100}},
	}
	f.info.byOrder[42] = &paymentinfo.PaymentInformation{
		OrderID:     42,
		Transaction: map[string]any{"currency": "EUR"},
	}

	_, err := f.orchestrator.CancelTransaction(context.Background(), 43)
	require.Error(t, err)
	require.Empty(t, f.caller.calls, "no provider call on precondition failure")
}

func TestCancelTransactionProviderErrorIsValue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.caller.result = &provider.Result{
		Success:         false,
		MerchantMessage: "cancel window expired",
		Code:            "API.340.540.108",
	}
	f.orders.orders[42] = &host.Order{
		ID:      42,
		Amounts: []host.OrderAmount{{Currency: "EUR", InvoiceTotal: 100, PaidAmount: 100}},
	}
	f.info.byOrder[42] = &paymentinfo.PaymentInformation{
		OrderID:     42,
		Transaction: map[string]any{"currency": "EUR"},
	}

	result, err := f.orchestrator.CancelTransaction(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, result.IsError())
	require.Equal(t, "API.340.540.108", result.Code)

	// The failure lands in an order comment for the merchant.
	require.Len(t, f.comments.comments, 1)
	require.Contains(t, f.comments.comments[0], "cancel window expired")
}

func TestShipWithoutInvoiceDocument(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.orders.orders[42] = &host.Order{ID: 42}
	f.info.byOrder[42] = &paymentinfo.PaymentInformation{OrderID: 42}

	_, err := f.orchestrator.Ship(context.Background(), 42)

	var validationErr *checkout.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "invoice document", validationErr.Field)
	require.Empty(t, f.caller.calls, "no provider call without an invoice")
}

func TestShip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.orders.orders[42] = &host.Order{
		ID: 42,
		Documents: []host.Document{
			{Type: "delivery_note", NumberWithPrefix: "DN-1"},
			{Type: host.DocumentTypeInvoice, NumberWithPrefix: "INV-100"},
			{Type: host.DocumentTypeInvoice, NumberWithPrefix: "INV-200"},
		},
	}
	f.info.byOrder[42] = &paymentinfo.PaymentInformation{
		OrderID:     42,
		Transaction: map[string]any{"paymentId": "s-pay-1"},
	}

	result, err := f.orchestrator.Ship(context.Background(), 42)
	require.NoError(t, err)
	require.False(t, result.IsError())

	envelope := f.caller.payload[0].(map[string]any)
	// First invoice document wins.
	require.Equal(t, "INV-100", envelope["invoiceId"])
	require.Equal(t, "s-pay-1", envelope["paymentId"])
}

func TestShipNotAllowed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.caller.result = &provider.Result{
		Success:         false,
		MerchantMessage: "shipment not possible",
		Code:            APIErrorTransactionShipNotAllowed,
	}
	f.orders.orders[42] = &host.Order{
		ID:        42,
		Documents: []host.Document{{Type: host.DocumentTypeInvoice, NumberWithPrefix: "INV-100"}},
	}
	f.info.byOrder[42] = &paymentinfo.PaymentInformation{OrderID: 42}

	result, err := f.orchestrator.Ship(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, APIErrorTransactionShipNotAllowed, result.Code)
	require.Contains(t, f.comments.comments[0], "not allowed")
}

func TestCancelPaymentUnknownOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	require.False(t, f.orchestrator.CancelPayment(context.Background(), "4711.MISSING"))
}

func TestCancelPaymentIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := &host.Order{ID: 42}
	f.orders.orders[42] = order
	f.orders.byExternal["4711.ABC"] = order

	payment := &host.Payment{ID: 1, MopID: 6001, Status: host.StatusCaptured}
	f.payments.created = []*host.Payment{payment}
	f.payments.orderRelations[1] = 42

	require.True(t, f.orchestrator.CancelPayment(context.Background(), "4711.ABC"))
	require.Equal(t, host.StatusCanceled, payment.Status)
	require.True(t, f.orchestrator.CancelPayment(context.Background(), "4711.ABC"))
	require.Equal(t, host.StatusCanceled, payment.Status)
}

func TestChargeUnknownMethod(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.orchestrator.Charge(context.Background(), checkout.BuildInput{
		SessionID: "s",
		Method:    "cardOnFile",
	})

	var validationErr *checkout.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Empty(t, f.caller.calls)
}

func TestChargeTransportErrorSurfaces(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.caller.err = errors.New("connection reset")

	f.orders.orders[42] = &host.Order{
		ID:      42,
		Amounts: []host.OrderAmount{{Currency: "EUR", InvoiceTotal: 100}},
	}
	f.info.byOrder[42] = &paymentinfo.PaymentInformation{OrderID: 42}

	_, err := f.orchestrator.ChargeAuthorization(context.Background(), 42)
	require.Error(t, err)
	require.Len(t, f.caller.calls, 1)
}

func TestCompleteRedirect(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.records.Save(context.Background(), &checkout.Record{
		ExternalOrderID: "4711.ABC",
		SessionID:       "sess-1",
		Method:          provider.MethodSofort,
		Transaction:     map[string]any{"paymentId": "s-pay-1"},
	})
	f.caller.result = &provider.Result{
		Success: true,
		Transaction: map[string]any{
			"paymentId": "s-pay-1",
			"shortId":   "s-HPY-7",
			"currency":  "EUR",
		},
	}

	result, err := f.orchestrator.CompleteRedirect(context.Background(), "sess-1")
	require.NoError(t, err)
	require.False(t, result.IsError())

	require.Equal(t, []provider.Operation{provider.OpFetchPayment}, f.caller.calls)
	envelope := f.caller.payload[0].(map[string]any)
	require.Equal(t, "s-pay-1", envelope["paymentId"])

	// The fetched state replaces the stored transaction.
	record := f.records.records["4711.ABC"]
	require.Equal(t, "s-HPY-7", record.Transaction["shortId"])
}

func TestCompleteRedirectUnknownSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.orchestrator.CompleteRedirect(context.Background(), "sess-unknown")
	require.Error(t, err)
	require.Empty(t, f.caller.calls)
}

func TestCompleteRedirectProviderErrorIsValue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.records.Save(context.Background(), &checkout.Record{
		ExternalOrderID: "4711.ABC",
		SessionID:       "sess-1",
		Method:          provider.MethodSofort,
		Transaction:     map[string]any{"paymentId": "s-pay-1"},
	})
	f.caller.result = &provider.Result{
		Success:         false,
		MerchantMessage: "payment aborted by customer",
		Code:            "API.100.100.101",
	}

	result, err := f.orchestrator.CompleteRedirect(context.Background(), "sess-1")
	require.NoError(t, err)
	require.True(t, result.IsError())

	// The stored transaction stays untouched on failure.
	record := f.records.records["4711.ABC"]
	require.Equal(t, map[string]any{"paymentId": "s-pay-1"}, record.Transaction)
}
