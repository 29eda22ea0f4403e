package webhook

import (
	"context"
	"errors"
	"log/slog"

	"paymentgw/internal/common/events"
	"paymentgw/internal/common/middleware"
	"paymentgw/internal/common/money"
	natsclient "paymentgw/internal/common/nats"
	"paymentgw/internal/host"
	"paymentgw/internal/payment"
	"paymentgw/internal/provider"
	"paymentgw/internal/reconcile"
)

// Event is one inbound provider notification.
type Event struct {
	Event           string `json:"event" validate:"required"`
	PaymentID       string `json:"paymentId"`
	ExternalOrderID string `json:"orderId" validate:"required"`
	AmountMinor     int64  `json:"amountMinor"`
	Currency        string `json:"currency"`
}

// Dispatcher maps each provider event to exactly one reconciliation
// operation. Delivery is at-least-once: processing an event twice leaves
// the ledger in the same state as processing it once.
type Dispatcher struct {
	orders       host.Orders
	engine       *reconcile.Engine
	orchestrator *payment.Orchestrator
	bus          *natsclient.Client
	logger       *slog.Logger
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(
	orders host.Orders,
	engine *reconcile.Engine,
	orchestrator *payment.Orchestrator,
	bus *natsclient.Client,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		orders:       orders,
		engine:       engine,
		orchestrator: orchestrator,
		bus:          bus,
		logger:       logger,
	}
}

// Dispatch processes one event. The return value reports whether any host
// state changed; an event for an unknown order or with an unhandled type
// is logged and acknowledged without mutation so the provider stops
// redelivering it.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) bool {
	order, err := d.orders.GetByExternalOrderID(ctx, event.ExternalOrderID)
	if err != nil {
		if errors.Is(err, host.ErrNotFound) {
			d.logger.Info("webhook for unknown order, acknowledging",
				"event", event.Event,
				"external_order_id", event.ExternalOrderID,
			)
		} else {
			d.logger.Error("webhook order lookup failed",
				"event", event.Event,
				"external_order_id", event.ExternalOrderID,
				"error", err,
			)
		}
		return false
	}

	mutated := d.apply(ctx, event, order)

	d.publishProcessed(ctx, event, order.ID, mutated)
	return mutated
}

func (d *Dispatcher) apply(ctx context.Context, event Event, order *host.Order) bool {
	switch event.Event {
	case provider.EventCharge:
		return d.engine.UpdatePaidAmount(ctx, order.ID, event.AmountMinor,
			d.classify(order, event))

	case provider.EventPaymentCompleted:
		return d.engine.UpdatePaidAmount(ctx, order.ID, event.AmountMinor, host.StatusCaptured)

	case provider.EventPaymentPartly:
		return d.engine.UpdatePaidAmount(ctx, order.ID, event.AmountMinor, host.StatusPartiallyCaptured)

	case provider.EventPaymentPending, provider.EventPaymentPaymentReview:
		return d.engine.UpdatePaidAmount(ctx, order.ID, event.AmountMinor, host.StatusAwaitingApproval)

	case provider.EventPaymentCanceled, provider.EventChargeback, provider.EventPaymentChargeback:
		return d.orchestrator.CancelPayment(ctx, event.ExternalOrderID)

	default:
		d.logger.Info("unhandled webhook event type, acknowledging",
			"event", event.Event,
			"external_order_id", event.ExternalOrderID,
		)
		return false
	}
}

// classify derives the ledger status of a charge event from the reported
// amount against the order total in the event's currency.
func (d *Dispatcher) classify(order *host.Order, event Event) host.PaymentStatus {
	currency := event.Currency
	if currency == "" && len(order.Amounts) > 0 {
		currency = order.Amounts[0].Currency
	}
	amount, ok := order.AmountFor(currency)
	if !ok {
		return host.StatusAwaitingApproval
	}
	return reconcile.ClassifyStatus(money.FromMinor(event.AmountMinor), amount.InvoiceTotal)
}

func (d *Dispatcher) publishProcessed(ctx context.Context, event Event, orderID int64, mutated bool) {
	if d.bus == nil {
		return
	}
	env, err := events.NewEnvelope(events.TypeWebhookProcessed, orderID, event.ExternalOrderID, map[string]any{
		"event":   event.Event,
		"mutated": mutated,
	})
	if err != nil {
		d.logger.Warn("failed to build webhook event envelope", "error", err)
		return
	}
	env = env.WithCorrelation(middleware.GetCorrelationID(ctx))
	if err := d.bus.Publish(ctx, events.SubjectWebhook, env); err != nil {
		d.logger.Warn("failed to publish webhook event", "error", err)
	}
}
