// Package api exposes the gateway's HTTP surface: the storefront charge
// endpoint, the host's order event-procedure hooks and the provider's
// webhook callback.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"paymentgw/internal/checkout"
	"paymentgw/internal/common/api"
	"paymentgw/internal/payment"
	"paymentgw/internal/provider"
	"paymentgw/internal/webhook"
)

// Handler handles gateway HTTP requests.
type Handler struct {
	orchestrator *payment.Orchestrator
	dispatcher   *webhook.Dispatcher
	registrar    *webhook.Registrar
}

// NewHandler creates a gateway handler.
func NewHandler(
	orchestrator *payment.Orchestrator,
	dispatcher *webhook.Dispatcher,
	registrar *webhook.Registrar,
) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		registrar:    registrar,
	}
}

// Routes returns the gateway routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/charge", h.Charge)
	r.Get("/payment/process-redirect", h.ProcessRedirect)

	r.Post("/orders/{id}/created", h.OrderCreated)
	r.Post("/orders/{id}/ship", h.Ship)
	r.Post("/orders/{id}/cancel", h.Cancel)
	r.Post("/orders/{id}/authorization-charge", h.ChargeAuthorization)

	r.Post("/webhooks", h.Webhook)
	r.Post("/webhooks/register", h.RegisterWebhooks)

	return r
}

// ChargeRequest is the storefront's charge request.
type ChargeRequest struct {
	SessionID   string         `json:"sessionId" validate:"required"`
	Method      string         `json:"method" validate:"required"`
	Locale      string         `json:"locale"`
	BirthDate   string         `json:"birthDate"`
	B2BCustomer map[string]any `json:"b2bCustomer"`
	PaymentType map[string]any `json:"paymentType"`
}

// Charge handles POST /charge.
func (h *Handler) Charge(w http.ResponseWriter, r *http.Request) {
	var req ChargeRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	result, err := h.orchestrator.Charge(r.Context(), checkout.BuildInput{
		SessionID:     req.SessionID,
		Method:        req.Method,
		Locale:        req.Locale,
		BirthDate:     req.BirthDate,
		B2BCustomer:   req.B2BCustomer,
		MethodPayload: req.PaymentType,
	})
	if err != nil {
		writeOperationError(w, err)
		return
	}

	writeProviderResult(w, result)
}

// ProcessRedirect handles GET /payment/process-redirect, the return URL
// the provider sends redirect-method customers back to. The gateway is
// proxied under the webstore's domain, so the customer is forwarded with
// a relative redirect: to order placement when the charge went through,
// back to checkout when it did not.
func (h *Handler) ProcessRedirect(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		api.BadRequest(w, "missing session id")
		return
	}

	result, err := h.orchestrator.CompleteRedirect(r.Context(), sessionID)
	if err != nil {
		writeOperationError(w, err)
		return
	}

	if result.IsError() {
		http.Redirect(w, r, "/checkout", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/place-order", http.StatusFound)
}

// OrderCreatedRequest binds a new host order to its charge attempt.
type OrderCreatedRequest struct {
	ExternalOrderID string `json:"externalOrderId" validate:"required"`
}

// OrderCreated handles POST /orders/{id}/created.
func (h *Handler) OrderCreated(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req OrderCreatedRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	if err := h.orchestrator.HandleOrderCreated(r.Context(), orderID, req.ExternalOrderID); err != nil {
		writeOperationError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, map[string]any{"orderId": orderID})
}

// Ship handles POST /orders/{id}/ship.
func (h *Handler) Ship(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	result, err := h.orchestrator.Ship(r.Context(), orderID)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeProviderResult(w, result)
}

// Cancel handles POST /orders/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	result, err := h.orchestrator.CancelTransaction(r.Context(), orderID)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeProviderResult(w, result)
}

// ChargeAuthorization handles POST /orders/{id}/authorization-charge.
func (h *Handler) ChargeAuthorization(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	result, err := h.orchestrator.ChargeAuthorization(r.Context(), orderID)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeProviderResult(w, result)
}

// Webhook handles POST /webhooks. The provider redelivers on any
// non-2xx, so every decodable event is acknowledged with 200 regardless
// of whether it changed host state.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	var event webhook.Event
	if err := api.DecodeAndValidate(r, &event); err != nil {
		api.ValidationError(w, err)
		return
	}

	mutated := h.dispatcher.Dispatch(r.Context(), event)
	api.WriteData(w, http.StatusOK, map[string]any{"processed": mutated})
}

// RegisterWebhooks handles POST /webhooks/register.
func (h *Handler) RegisterWebhooks(w http.ResponseWriter, r *http.Request) {
	if err := h.registrar.Register(r.Context()); err != nil {
		api.InternalError(w, err.Error())
		return
	}
	api.WriteData(w, http.StatusOK, map[string]any{"registered": true})
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || orderID <= 0 {
		api.BadRequest(w, "invalid order id")
		return 0, false
	}
	return orderID, true
}

// writeProviderResult maps a provider result onto the response envelope.
// A provider-declared failure keeps its error triple intact so the
// storefront can show the client message verbatim.
func writeProviderResult(w http.ResponseWriter, result *provider.Result) {
	if result.IsError() {
		api.WriteError(w, http.StatusBadRequest, &api.Error{
			MerchantMessage: result.MerchantMessage,
			ClientMessage:   result.ClientMessage,
			Code:            result.Code,
		})
		return
	}
	api.WriteData(w, http.StatusOK, result)
}

func writeOperationError(w http.ResponseWriter, err error) {
	var validationErr *checkout.ValidationError
	if errors.As(err, &validationErr) {
		api.ValidationError(w, validationErr)
		return
	}
	api.InternalError(w, err.Error())
}
