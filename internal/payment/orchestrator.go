package payment

import (
	"context"
	"fmt"
	"log/slog"

	"paymentgw/internal/checkout"
	"paymentgw/internal/common/money"
	"paymentgw/internal/host"
	"paymentgw/internal/paymentinfo"
	"paymentgw/internal/provider"
	"paymentgw/internal/reconcile"
)

// APIErrorTransactionShipNotAllowed is the provider code returned when the
// insurance window for a shipping notification has lapsed.
const APIErrorTransactionShipNotAllowed = "API.360.000.004"

// Orchestrator runs the payment method operations against the provider and
// reconciles their outcome into the host.
type Orchestrator struct {
	builder    *checkout.Builder
	records    checkout.RecordStore
	caller     provider.Caller
	orders     host.Orders
	engine     *reconcile.Engine
	info       paymentinfo.Store
	strategies map[string]Strategy
	logger     *slog.Logger
}

// NewOrchestrator creates a payment orchestrator.
func NewOrchestrator(
	builder *checkout.Builder,
	records checkout.RecordStore,
	caller provider.Caller,
	orders host.Orders,
	engine *reconcile.Engine,
	info paymentinfo.Store,
	strategies map[string]Strategy,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		builder:    builder,
		records:    records,
		caller:     caller,
		orders:     orders,
		engine:     engine,
		info:       info,
		strategies: strategies,
		logger:     logger,
	}
}

// Charge runs one charge attempt: build the envelope, apply the method's
// augmentation, call the provider and persist the transaction on success.
// A provider-declared failure comes back as the Result value; only
// transport-level trouble returns an error.
func (o *Orchestrator) Charge(ctx context.Context, in checkout.BuildInput) (*provider.Result, error) {
	strategy, ok := o.strategies[in.Method]
	if !ok {
		return nil, checkout.NewValidationError("payment method")
	}

	req, err := o.builder.BuildChargeRequest(ctx, in)
	if err != nil {
		return nil, err
	}

	if strategy.Augmenter != nil {
		record, err := o.records.GetByExternalOrderID(ctx, req.OrderID)
		if err != nil {
			return nil, fmt.Errorf("load correlation record: %w", err)
		}
		strategy.Augmenter.AugmentChargeRequest(req, record)
	}

	result, err := o.caller.Call(ctx, strategy.Operation, req)
	if err != nil {
		return nil, fmt.Errorf("charge call: %w", err)
	}

	if result.IsError() {
		o.logger.Warn("charge declined by provider",
			"method", in.Method,
			"external_order_id", req.OrderID,
			"code", result.Code,
			"merchant_message", result.MerchantMessage,
		)
		return result, nil
	}

	if err := o.records.SetTransaction(ctx, req.OrderID, result.Transaction); err != nil {
		return nil, fmt.Errorf("persist transaction: %w", err)
	}

	o.logger.Info("charge accepted",
		"method", in.Method,
		"external_order_id", req.OrderID,
		"payment_id", result.TransactionString("paymentId"),
	)
	return result, nil
}

// CompleteRedirect finishes a redirect method charge once the customer
// returns from the provider. The session's latest correlation record
// identifies the charge attempt; the provider is asked for the payment's
// final state, which replaces the stored transaction so order creation
// picks it up. A provider-declared failure comes back as the Result value.
func (o *Orchestrator) CompleteRedirect(ctx context.Context, sessionID string) (*provider.Result, error) {
	record, err := o.records.LatestBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load correlation record for session: %w", err)
	}
	if record.Transaction == nil {
		return nil, checkout.NewValidationError("transaction")
	}

	paymentID, _ := record.Transaction["paymentId"].(string)
	result, err := o.caller.Call(ctx, provider.OpFetchPayment, map[string]any{
		"paymentId": paymentID,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch payment call: %w", err)
	}

	if result.IsError() {
		o.logger.Warn("redirect charge not completed",
			"external_order_id", record.ExternalOrderID,
			"code", result.Code,
			"merchant_message", result.MerchantMessage,
		)
		return result, nil
	}

	if result.Transaction != nil {
		if err := o.records.SetTransaction(ctx, record.ExternalOrderID, result.Transaction); err != nil {
			return nil, fmt.Errorf("persist transaction: %w", err)
		}
	}

	o.logger.Info("redirect charge completed",
		"external_order_id", record.ExternalOrderID,
		"payment_id", paymentID,
	)
	return result, nil
}

// HandleOrderCreated binds a freshly created host order to its charge
// attempt: the external order id goes onto the order, the payment
// information row is written, and when the charge already produced a
// transaction the host payment is created and linked.
func (o *Orchestrator) HandleOrderCreated(ctx context.Context, orderID int64, externalOrderID string) error {
	record, err := o.records.GetByExternalOrderID(ctx, externalOrderID)
	if err != nil {
		return fmt.Errorf("load correlation record: %w", err)
	}

	if err := o.orders.AddExternalOrderID(host.Elevated(ctx), orderID, externalOrderID); err != nil {
		return fmt.Errorf("attach external order id: %w", err)
	}

	info := &paymentinfo.PaymentInformation{
		OrderID:         orderID,
		ExternalOrderID: externalOrderID,
		PaymentMethod:   record.Method,
		Transaction:     record.Transaction,
	}
	if err := o.info.Upsert(ctx, info); err != nil {
		return fmt.Errorf("store payment information: %w", err)
	}

	if record.Transaction == nil {
		return nil
	}

	order, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %d: %w", orderID, err)
	}

	amount, currency, ok := orderTotal(order)
	if !ok {
		return fmt.Errorf("order %d has no amount record", orderID)
	}

	_, err = o.engine.AddPaymentToOrder(ctx, record.Method, order, externalOrderID,
		amount, currency, info.ShortID(), host.StatusAwaitingApproval)
	if err != nil {
		return fmt.Errorf("add payment to order: %w", err)
	}

	if strategy, ok := o.strategies[record.Method]; ok && strategy.Responder != nil {
		if text := strategy.Responder.ConfirmationText(info); text != "" {
			o.engine.CreateOrderComment(ctx, orderID, text, true)
		}
	}
	return nil
}

// CancelTransaction cancels (part of) a charge for a cancellation or
// return order. The cancel amount is the smaller of the canceling order's
// invoice total and the originally charged order's paid amount, both taken
// in the charged payment's currency. A missing amount record for that
// currency on either order is a precondition failure.
func (o *Orchestrator) CancelTransaction(ctx context.Context, orderID int64) (*provider.Result, error) {
	order, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}

	original, err := o.orders.OriginalOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("resolve original order: %w", err)
	}

	info, err := o.info.GetByOrder(ctx, original.ID)
	if err != nil {
		return nil, fmt.Errorf("load payment information for order %d: %w", original.ID, err)
	}

	currency := info.Currency()
	if currency == "" {
		return nil, fmt.Errorf("payment information for order %d carries no currency", original.ID)
	}

	orderAmount, ok := order.AmountFor(currency)
	if !ok {
		return nil, fmt.Errorf("order %d has no %s amount record", order.ID, currency)
	}
	originalAmount, ok := original.AmountFor(currency)
	if !ok {
		return nil, fmt.Errorf("order %d has no %s amount record", original.ID, currency)
	}

	amount := money.Min(orderAmount.InvoiceTotal, originalAmount.PaidAmount)

	envelope := map[string]any{
		"paymentId": info.PaymentID(),
		"chargeId":  info.ChargeID(),
		"amount":    amount,
		"currency":  currency,
	}
	// Return reason codes only exist for the factoring-capable consumer
	// invoice method.
	if info.PaymentMethod == provider.MethodInvoiceGuaranteed {
		if reason := returnReason(order); reason != "" {
			envelope["reasonCode"] = reason
		}
	}

	result, err := o.caller.Call(ctx, provider.OpCancelTransaction, envelope)
	if err != nil {
		return nil, fmt.Errorf("cancel call: %w", err)
	}

	if result.IsError() {
		o.logger.Error("cancel declined by provider",
			"order_id", order.ID,
			"original_order_id", original.ID,
			"code", result.Code,
			"merchant_message", result.MerchantMessage,
			"envelope", envelope,
		)
		o.engine.CreateOrderComment(ctx, original.ID,
			fmt.Sprintf("Payment cancellation failed: %s", result.MerchantMessage), false)
		return result, nil
	}

	o.engine.CreateOrderComment(ctx, original.ID,
		fmt.Sprintf("Payment canceled: %s %s", money.Amount{Value: amount, Currency: currency}, info.ShortID()), false)
	return result, nil
}

// returnReason finds the return reason on the order's items. The first
// matching item property wins.
func returnReason(order *host.Order) string {
	for _, item := range order.Items {
		for _, prop := range item.Properties {
			if prop.Type == host.OrderItemPropertyReturnsReason {
				return prop.Value
			}
		}
	}
	return ""
}

// Ship sends the shipping notification for an invoice-based charge. The
// order must already carry an invoice document; without one no provider
// call is made.
func (o *Orchestrator) Ship(ctx context.Context, orderID int64) (*provider.Result, error) {
	order, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}

	invoiceNumber := order.InvoiceNumber()
	if invoiceNumber == "" {
		return nil, checkout.NewValidationError("invoice document")
	}

	info, err := o.info.GetByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load payment information for order %d: %w", orderID, err)
	}

	result, err := o.caller.Call(ctx, provider.OpInvoiceShip, map[string]any{
		"paymentId": info.PaymentID(),
		"invoiceId": invoiceNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("ship call: %w", err)
	}

	if result.IsError() {
		text := fmt.Sprintf("Shipping notification failed: %s", result.MerchantMessage)
		if result.Code == APIErrorTransactionShipNotAllowed {
			text = "Shipping notification not allowed for this transaction"
		}
		o.engine.CreateOrderComment(ctx, orderID, text, false)
		return result, nil
	}

	o.engine.CreateOrderComment(ctx, orderID,
		fmt.Sprintf("Shipping notification sent for invoice %s", invoiceNumber), false)
	o.engine.PublishShipped(ctx, orderID, info.ExternalOrderID, map[string]any{
		"invoiceNumber": invoiceNumber,
	})
	return result, nil
}

// ChargeAuthorization charges a previously authorized payment for a
// follow-up order.
func (o *Orchestrator) ChargeAuthorization(ctx context.Context, orderID int64) (*provider.Result, error) {
	order, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}

	original, err := o.orders.OriginalOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("resolve original order: %w", err)
	}

	info, err := o.info.GetByOrder(ctx, original.ID)
	if err != nil {
		return nil, fmt.Errorf("load payment information for order %d: %w", original.ID, err)
	}

	amount, currency, ok := orderTotal(order)
	if !ok {
		return nil, fmt.Errorf("order %d has no amount record", order.ID)
	}

	result, err := o.caller.Call(ctx, provider.OpChargeAuthorization, map[string]any{
		"paymentId": info.PaymentID(),
		"amount":    amount,
		"currency":  currency,
	})
	if err != nil {
		return nil, fmt.Errorf("authorization charge call: %w", err)
	}

	if result.IsError() {
		o.engine.CreateOrderComment(ctx, order.ID,
			fmt.Sprintf("Authorization charge failed: %s", result.MerchantMessage), false)
		return result, nil
	}

	_, err = o.engine.AddPaymentToOrder(ctx, info.PaymentMethod, order, info.ExternalOrderID,
		amount, currency, result.TransactionString("shortId"), host.StatusAwaitingApproval)
	if err != nil {
		return nil, fmt.Errorf("add payment to order: %w", err)
	}
	return result, nil
}

// CancelPayment marks all gateway payments of the order identified by the
// external order id as canceled. It runs on webhook delivery: every
// failure is logged and collapsed into false, nothing is raised.
func (o *Orchestrator) CancelPayment(ctx context.Context, externalOrderID string) bool {
	order, err := o.orders.GetByExternalOrderID(ctx, externalOrderID)
	if err != nil {
		o.logger.Error("cancel payment: order lookup failed",
			"external_order_id", externalOrderID,
			"error", err,
		)
		return false
	}
	return o.engine.MarkPaymentsCanceled(ctx, order.ID)
}

func orderTotal(order *host.Order) (float64, string, bool) {
	if len(order.Amounts) == 0 {
		return 0, "", false
	}
	a := order.Amounts[0]
	return a.InvoiceTotal, a.Currency, true
}
