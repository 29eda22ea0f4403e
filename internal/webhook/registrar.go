// Package webhook registers the gateway's callback with the provider and
// dispatches the events the provider delivers to it.
package webhook

import (
	"context"
	"fmt"
	"log/slog"

	"paymentgw/internal/provider"
)

// Registrar maintains the provider-side webhook registration.
type Registrar struct {
	caller      provider.Caller
	callbackURL string
	logger      *slog.Logger
}

// NewRegistrar creates a registrar targeting the given public callback URL.
func NewRegistrar(caller provider.Caller, callbackURL string, logger *slog.Logger) *Registrar {
	return &Registrar{
		caller:      caller,
		callbackURL: callbackURL,
		logger:      logger,
	}
}

// Register wipes every existing registration and registers the full event
// set at the callback URL. Running it twice always converges on the same
// single registration.
func (r *Registrar) Register(ctx context.Context) error {
	result, err := r.caller.Call(ctx, provider.OpDeleteAllWebhooks, map[string]any{})
	if err != nil {
		return fmt.Errorf("delete webhooks: %w", err)
	}
	if result.IsError() {
		return fmt.Errorf("delete webhooks: %s", result.MerchantMessage)
	}

	result, err = r.caller.Call(ctx, provider.OpRegisterWebhooks, map[string]any{
		"url":    r.callbackURL,
		"events": provider.WebhookEvents,
	})
	if err != nil {
		return fmt.Errorf("register webhooks: %w", err)
	}
	if result.IsError() {
		return fmt.Errorf("register webhooks: %s", result.MerchantMessage)
	}

	r.logger.Info("webhooks registered",
		"url", r.callbackURL,
		"events", len(provider.WebhookEvents),
	)
	return nil
}
