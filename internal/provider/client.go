// Package provider implements the call bridge to the remote payment provider.
// Every operation goes through a single request/response interface; responses
// are either a success payload or the provider's structured error shape.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Operation names the remote calls the gateway issues.
type Operation string

const (
	OpInvoiceGuaranteed    Operation = "invoiceGuaranteed"
	OpInvoiceGuaranteedB2B Operation = "invoiceGuaranteedB2b"
	OpSofort               Operation = "sofort"
	OpFetchPayment         Operation = "fetchPayment"
	OpChargeAuthorization  Operation = "chargeAuthorization"
	OpCancelTransaction    Operation = "cancelTransaction"
	OpInvoiceShip          Operation = "invoiceShip"
	OpRegisterWebhooks     Operation = "registerWebhooks"
	OpDeleteAllWebhooks    Operation = "deleteAllWebhooks"
)

// Payment method identifiers. They double as the charge operation names.
const (
	MethodInvoiceGuaranteed    = "invoiceGuaranteed"
	MethodInvoiceGuaranteedB2B = "invoiceGuaranteedB2b"
	MethodSofort               = "sofort"
)

// Webhook event types the gateway registers interest in.
const (
	EventCharge               = "charge"
	EventChargeback           = "chargeback"
	EventPaymentPending       = "payment.pending"
	EventPaymentCompleted     = "payment.completed"
	EventPaymentCanceled      = "payment.canceled"
	EventPaymentPartly        = "payment.partly"
	EventPaymentPaymentReview = "payment.payment_review"
	EventPaymentChargeback    = "payment.chargeback"
)

// WebhookEvents is the fixed set registered at the callback URL.
var WebhookEvents = []string{
	EventCharge,
	EventChargeback,
	EventPaymentPending,
	EventPaymentCompleted,
	EventPaymentCanceled,
	EventPaymentPartly,
	EventPaymentPaymentReview,
	EventPaymentChargeback,
}

// Result is the union every provider call resolves to: either Success with a
// transaction payload, or the provider's error triple. It is propagated to
// callers as a value, never raised.
type Result struct {
	Success         bool           `json:"success"`
	Transaction     map[string]any `json:"transaction,omitempty"`
	RedirectURL     string         `json:"redirectUrl,omitempty"`
	MerchantMessage string         `json:"merchantMessage,omitempty"`
	ClientMessage   string         `json:"clientMessage,omitempty"`
	Code            string         `json:"code,omitempty"`
}

// IsError reports whether the provider returned its error shape.
func (r *Result) IsError() bool {
	return !r.Success || r.MerchantMessage != ""
}

// TransactionString returns a string field from the transaction payload.
func (r *Result) TransactionString(key string) string {
	if r.Transaction == nil {
		return ""
	}
	if v, ok := r.Transaction[key].(string); ok {
		return v
	}
	return ""
}

// Config holds provider bridge configuration.
type Config struct {
	BaseURL    string        `envconfig:"PROVIDER_BASE_URL" required:"true"`
	PrivateKey string        `envconfig:"PROVIDER_PRIVATE_KEY" required:"true"`
	Timeout    time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"30s"`
}

// Client is the HTTP implementation of the call bridge.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// Caller is the call interface consumed by the payment strategies.
type Caller interface {
	Call(ctx context.Context, op Operation, envelope any) (*Result, error)
	PrivateKey() string
}

// NewClient creates a provider bridge client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// PrivateKey returns the credential reference included in request envelopes.
func (c *Client) PrivateKey() string {
	return c.config.PrivateKey
}

// Call submits an operation envelope and decodes the result union. A non-nil
// error means the call never produced a provider response (transport fault);
// provider-reported failures come back as a Result with IsError() true.
func (c *Client) Call(ctx context.Context, op Operation, envelope any) (*Result, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/"+string(op), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.PrivateKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", op, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// The bridge reports structured errors with a 200; anything else is a
	// transport-level fault.
	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("provider error: status=%d body=%s", httpResp.StatusCode, string(respBody))
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	c.logger.Debug("provider call completed",
		"operation", op,
		"success", result.Success,
		"code", result.Code,
	)

	return &result, nil
}
