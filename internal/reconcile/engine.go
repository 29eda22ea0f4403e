// Package reconcile keeps the host's payment ledger in step with the
// provider's payment state. It creates host payment records, classifies
// their status from paid/total amounts, and maintains the payment-to-order
// and payment-to-contact relations. All writes to host payments go through
// an elevated context because webhook deliveries carry no user session.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"paymentgw/internal/common/events"
	"paymentgw/internal/common/money"
	natsclient "paymentgw/internal/common/nats"
	"paymentgw/internal/host"
)

// eventBus is the slice of the NATS client the engine publishes through.
type eventBus interface {
	Publish(ctx context.Context, subject string, v any) error
}

// Engine reconciles provider payment state into the host ledger.
type Engine struct {
	orders   host.Orders
	payments host.Payments
	contacts host.Contacts
	comments host.Comments
	mops     *MopRegistry
	events   eventBus
	logger   *slog.Logger

	now func() time.Time
}

// NewEngine creates a reconciliation engine.
func NewEngine(
	orders host.Orders,
	payments host.Payments,
	contacts host.Contacts,
	comments host.Comments,
	mops *MopRegistry,
	eventsClient *natsclient.Client,
	logger *slog.Logger,
) *Engine {
	e := &Engine{
		orders:   orders,
		payments: payments,
		contacts: contacts,
		comments: comments,
		mops:     mops,
		logger:   logger,
		now:      time.Now,
	}
	if eventsClient != nil {
		e.events = eventsClient
	}
	return e
}

// ClassifyStatus derives the host payment status from the paid and total
// amounts. A fully paid non-zero total is captured, a non-zero partial
// payment on a non-zero total partially captured, everything else awaits
// approval. A zero paid amount never counts as a capture.
func ClassifyStatus(paid, total float64) host.PaymentStatus {
	switch {
	case paid != 0 && total != 0 && paid == total:
		return host.StatusCaptured
	case paid != 0 && total != 0 && paid < total:
		return host.StatusPartiallyCaptured
	default:
		return host.StatusAwaitingApproval
	}
}

// CreatePayment writes a new host payment record for the given charge. The
// hash ties the record to the order and creation instant; the booking text
// carries the provider's customer-facing payment reference.
func (e *Engine) CreatePayment(
	ctx context.Context,
	method string,
	orderID int64,
	amount float64,
	currency string,
	shortID string,
	status host.PaymentStatus,
) (*host.Payment, error) {
	mopID := e.mops.MopID(method)
	if mopID == 0 {
		return nil, fmt.Errorf("unknown payment method %q", method)
	}

	payment := &host.Payment{
		MopID:           mopID,
		TransactionType: host.TransactionTypeBookedPosting,
		Status:          status,
		Amount:          amount,
		Currency:        currency,
		ReceivedAt:      e.now().UTC(),
		Hash:            paymentHash(orderID, e.now()),
		Properties: []host.PaymentProperty{
			{Type: host.PropertyBookingText, Value: bookingText(shortID)},
			{Type: host.PropertyOrigin, Value: host.OriginPlugin},
		},
		UpdateOrderPaymentStatus: true,
	}

	created, err := e.payments.Create(host.Elevated(ctx), payment)
	if err != nil {
		return nil, fmt.Errorf("create host payment: %w", err)
	}
	return created, nil
}

func paymentHash(orderID int64, at time.Time) string {
	return fmt.Sprintf("%d-%d", orderID, at.Unix())
}

func bookingText(shortID string) string {
	return "Payment reference: " + shortID
}

// AddPaymentToOrder creates the host payment for a provider charge and
// links it to the order and, when resolvable, the order's contact.
func (e *Engine) AddPaymentToOrder(
	ctx context.Context,
	method string,
	order *host.Order,
	externalOrderID string,
	amount float64,
	currency string,
	shortID string,
	status host.PaymentStatus,
) (*host.Payment, error) {
	payment, err := e.CreatePayment(ctx, method, order.ID, amount, currency, shortID, status)
	if err != nil {
		return nil, err
	}

	if err := e.AssignPaymentToOrder(ctx, payment, order.ID); err != nil {
		return nil, err
	}
	e.AssignPaymentToContact(ctx, payment, order)

	e.publish(ctx, events.TypePaymentCharged, order.ID, externalOrderID, payment)
	return payment, nil
}

// AssignPaymentToOrder links the payment to the order. The existing
// relation is removed first so a relink never produces a duplicate.
func (e *Engine) AssignPaymentToOrder(ctx context.Context, payment *host.Payment, orderID int64) error {
	elevated := host.Elevated(ctx)

	if err := e.payments.DeleteOrderRelation(elevated, payment.ID); err != nil {
		return fmt.Errorf("delete payment order relation: %w", err)
	}
	if err := e.payments.CreateOrderRelation(elevated, payment.ID, orderID); err != nil {
		return fmt.Errorf("create payment order relation: %w", err)
	}
	return nil
}

// AssignPaymentToContact links the payment to the order's contact. A
// missing or unresolvable contact is not an error; the relation is simply
// skipped.
func (e *Engine) AssignPaymentToContact(ctx context.Context, payment *host.Payment, order *host.Order) bool {
	contactID := order.ContactID()
	if contactID == 0 {
		return false
	}

	contact, err := e.contacts.GetContact(ctx, contactID)
	if err != nil || contact == nil {
		e.logger.Debug("contact not resolvable, skipping relation",
			"order_id", order.ID,
			"contact_id", contactID,
		)
		return false
	}

	if err := e.payments.CreateContactRelation(host.Elevated(ctx), payment.ID, contact.ID); err != nil {
		e.logger.Warn("failed to create payment contact relation",
			"payment_id", payment.ID,
			"contact_id", contact.ID,
			"error", err,
		)
		return false
	}
	return true
}

// UpdatePaidAmount applies a provider-reported paid amount to the order's
// gateway payments. amountMinor is in minor units. The update touches only
// payments carried by this gateway's mops; payments of other methods are
// never modified. Failures are logged and reported as false, never raised.
func (e *Engine) UpdatePaidAmount(ctx context.Context, orderID int64, amountMinor int64, status host.PaymentStatus) bool {
	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		e.logger.Error("paid amount update: order lookup failed",
			"order_id", orderID,
			"error", err,
		)
		return false
	}

	paymentsOfOrder, err := e.payments.ListByOrder(ctx, orderID)
	if err != nil {
		e.logger.Error("paid amount update: payment list failed",
			"order_id", orderID,
			"error", err,
		)
		return false
	}

	updated := false
	for _, payment := range paymentsOfOrder {
		if !e.mops.IsPluginMop(payment.MopID) {
			continue
		}

		payment.Amount = money.FromMinor(amountMinor)
		payment.Status = status
		payment.Hash = paymentHash(orderID, e.now())
		payment.UpdateOrderPaymentStatus = true

		if err := e.payments.Update(host.Elevated(ctx), payment); err != nil {
			e.logger.Error("paid amount update: payment write failed",
				"order_id", orderID,
				"payment_id", payment.ID,
				"error", err,
			)
			return false
		}

		if err := e.AssignPaymentToOrder(ctx, payment, orderID); err != nil {
			e.logger.Error("paid amount update: relink failed",
				"order_id", orderID,
				"payment_id", payment.ID,
				"error", err,
			)
			return false
		}
		e.AssignPaymentToContact(ctx, payment, order)
		updated = true
	}

	if updated {
		e.publish(ctx, events.TypePaymentUpdated, orderID, "", map[string]any{
			"amountMinor": amountMinor,
			"status":      status,
		})
	}
	return updated
}

// MarkPaymentsCanceled sets every gateway payment of the order to canceled,
// re-derives the change hash, relinks order and contact, and records a
// cancellation comment. Failures are logged and reported as false, never
// raised.
func (e *Engine) MarkPaymentsCanceled(ctx context.Context, orderID int64) bool {
	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		e.logger.Error("cancel payments: order lookup failed",
			"order_id", orderID,
			"error", err,
		)
		return false
	}

	paymentsOfOrder, err := e.payments.ListByOrder(ctx, orderID)
	if err != nil {
		e.logger.Error("cancel payments: payment list failed",
			"order_id", orderID,
			"error", err,
		)
		return false
	}

	canceled := false
	transitioned := false
	for _, payment := range paymentsOfOrder {
		if !e.mops.IsPluginMop(payment.MopID) {
			continue
		}
		if payment.Status == host.StatusCanceled {
			canceled = true
			continue
		}

		payment.Status = host.StatusCanceled
		payment.Hash = paymentHash(orderID, e.now())
		payment.UpdateOrderPaymentStatus = true

		if err := e.payments.Update(host.Elevated(ctx), payment); err != nil {
			e.logger.Error("cancel payments: payment write failed",
				"order_id", orderID,
				"payment_id", payment.ID,
				"error", err,
			)
			return false
		}

		if err := e.AssignPaymentToOrder(ctx, payment, orderID); err != nil {
			e.logger.Error("cancel payments: relink failed",
				"order_id", orderID,
				"payment_id", payment.ID,
				"error", err,
			)
			return false
		}
		e.AssignPaymentToContact(ctx, payment, order)
		canceled = true
		transitioned = true
	}

	if transitioned {
		e.CreateOrderComment(ctx, orderID, "Payment was canceled", false)
		e.publish(ctx, events.TypePaymentCanceled, orderID, "", nil)
	}
	return canceled
}

// CreateOrderComment attaches a comment to the order. Comment failures are
// logged, never raised; a missing comment must not fail a payment flow.
func (e *Engine) CreateOrderComment(ctx context.Context, orderID int64, text string, visibleForContact bool) {
	if err := e.comments.CreateOrderComment(host.Elevated(ctx), orderID, text, visibleForContact); err != nil {
		e.logger.Warn("failed to create order comment",
			"order_id", orderID,
			"error", err,
		)
	}
}

// PublishShipped announces a successfully transmitted shipping
// notification on the payment subject.
func (e *Engine) PublishShipped(ctx context.Context, orderID int64, externalOrderID string, data any) {
	e.publish(ctx, events.TypePaymentShipped, orderID, externalOrderID, data)
}

func (e *Engine) publish(ctx context.Context, eventType string, orderID int64, externalOrderID string, data any) {
	if e.events == nil {
		return
	}
	env, err := events.NewEnvelope(eventType, orderID, externalOrderID, data)
	if err != nil {
		e.logger.Warn("failed to build event envelope", "type", eventType, "error", err)
		return
	}
	if err := e.events.Publish(ctx, events.SubjectPayment, env); err != nil {
		e.logger.Warn("failed to publish event", "type", eventType, "error", err)
	}
}
