package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Config holds host platform client configuration.
type Config struct {
	BaseURL string `envconfig:"HOST_BASE_URL" required:"true"`
	// APIToken authorizes regular storefront-scoped reads.
	APIToken string `envconfig:"HOST_API_TOKEN" required:"true"`
	// ServiceToken authorizes elevated writes performed outside a user
	// request context (webhook-driven reconciliation).
	ServiceToken string        `envconfig:"HOST_SERVICE_TOKEN" required:"true"`
	Timeout      time.Duration `envconfig:"HOST_TIMEOUT" default:"15s"`
}

// Client is the HTTP implementation of the host repository contracts.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// Compile-time checks that Client satisfies every contract.
var (
	_ Orders     = (*Client)(nil)
	_ Payments   = (*Client)(nil)
	_ Contacts   = (*Client)(nil)
	_ Comments   = (*Client)(nil)
	_ Checkouts  = (*Client)(nil)
	_ Variations = (*Client)(nil)
	_ Webstore   = (*Client)(nil)
)

// NewClient creates a host platform client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	token := c.config.APIToken
	if IsElevated(ctx) {
		token = c.config.ServiceToken
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("host request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("host %s: %w", path, ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("host api error: %s %s status=%d body=%s", method, path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Get returns the order by host order id.
func (c *Client) Get(ctx context.Context, orderID int64) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/orders/%d", orderID), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByExternalOrderID resolves an order through its external-order-id
// property.
func (c *Client) GetByExternalOrderID(ctx context.Context, externalOrderID string) (*Order, error) {
	var orders []Order
	path := "/orders?externalOrderId=" + url.QueryEscape(externalOrderID)
	if err := c.do(ctx, http.MethodGet, path, nil, &orders); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("order with external id %q: %w", externalOrderID, ErrNotFound)
	}
	return &orders[0], nil
}

// OriginalOrder walks parent links to the originally charged order.
func (c *Client) OriginalOrder(ctx context.Context, order *Order) (*Order, error) {
	current := order
	for current.ParentOrderID != 0 && current.ParentOrderID != current.ID {
		parent, err := c.Get(ctx, current.ParentOrderID)
		if err != nil {
			return nil, fmt.Errorf("resolve original order of %d: %w", order.ID, err)
		}
		current = parent
	}
	return current, nil
}

// AddExternalOrderID attaches the external order id property to the order.
func (c *Client) AddExternalOrderID(ctx context.Context, orderID int64, externalOrderID string) error {
	prop := OrderProperty{Type: OrderPropertyExternalOrderID, Value: externalOrderID}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%d/properties", orderID), prop, nil)
}

// Create creates a payment ledger entry.
func (c *Client) Create(ctx context.Context, payment *Payment) (*Payment, error) {
	var created Payment
	if err := c.do(ctx, http.MethodPost, "/payments", payment, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// Update rewrites a payment ledger entry.
func (c *Client) Update(ctx context.Context, payment *Payment) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/payments/%d", payment.ID), payment, nil)
}

// ListByOrder returns every payment attached to an order.
func (c *Client) ListByOrder(ctx context.Context, orderID int64) ([]*Payment, error) {
	var payments []*Payment
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/orders/%d/payments", orderID), nil, &payments); err != nil {
		return nil, err
	}
	return payments, nil
}

// DeleteOrderRelation removes the payment's order relation.
func (c *Client) DeleteOrderRelation(ctx context.Context, paymentID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/payments/%d/order-relation", paymentID), nil, nil)
}

// CreateOrderRelation links a payment to an order.
func (c *Client) CreateOrderRelation(ctx context.Context, paymentID, orderID int64) error {
	body := map[string]int64{"orderId": orderID}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/payments/%d/order-relation", paymentID), body, nil)
}

// CreateContactRelation links a payment to a contact.
func (c *Client) CreateContactRelation(ctx context.Context, paymentID, contactID int64) error {
	body := map[string]int64{"contactId": contactID}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/payments/%d/contact-relation", paymentID), body, nil)
}

// GetContact returns a contact by id.
func (c *Client) GetContact(ctx context.Context, contactID int64) (*Contact, error) {
	var contact Contact
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/contacts/%d", contactID), nil, &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

// CreateOrderComment attaches a comment to an order.
func (c *Client) CreateOrderComment(ctx context.Context, orderID int64, text string, visibleForContact bool) error {
	body := map[string]any{
		"referenceType":       "order",
		"referenceValue":      orderID,
		"text":                text,
		"isVisibleForContact": visibleForContact,
	}
	return c.do(ctx, http.MethodPost, "/comments", body, nil)
}

// Basket returns the session's checkout basket.
func (c *Client) Basket(ctx context.Context, sessionID string) (*Basket, error) {
	var basket Basket
	path := "/checkout/basket?session=" + url.QueryEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &basket); err != nil {
		return nil, err
	}
	return &basket, nil
}

// Addresses returns billing and shipping addresses for the session.
func (c *Client) Addresses(ctx context.Context, sessionID string) (*Address, *Address, error) {
	var out struct {
		Billing  *Address `json:"billing"`
		Shipping *Address `json:"shipping"`
	}
	path := "/checkout/addresses?session=" + url.QueryEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, nil, err
	}
	return out.Billing, out.Shipping, nil
}

// CountryCode resolves a host country id to its ISO code.
func (c *Client) CountryCode(ctx context.Context, countryID int) (string, error) {
	var out struct {
		IsoCode string `json:"isoCode"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/countries/%d", countryID), nil, &out); err != nil {
		return "", err
	}
	return out.IsoCode, nil
}

// CountryState resolves a host state id to its display name.
func (c *Client) CountryState(ctx context.Context, countryID, stateID int) (string, error) {
	if stateID == 0 {
		return "", nil
	}
	var out struct {
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/countries/%d/states/%d", countryID, stateID), nil, &out); err != nil {
		return "", err
	}
	return out.Name, nil
}

// Name resolves a variation display name in the given language.
func (c *Client) Name(ctx context.Context, variationID int64, lang string) (string, error) {
	var out struct {
		Name string `json:"name"`
	}
	path := fmt.Sprintf("/variations/%d?lang=%s", variationID, url.QueryEscape(lang))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Name, nil
}

// BaseURL returns the webstore's public base URL, preferring the SSL domain.
func (c *Client) BaseURL(ctx context.Context) (string, error) {
	var out struct {
		Domain    string `json:"domain"`
		DomainSSL string `json:"domainSsl"`
	}
	if err := c.do(ctx, http.MethodGet, "/webstore", nil, &out); err != nil {
		return "", err
	}
	if out.DomainSSL != "" {
		return out.DomainSSL, nil
	}
	return out.Domain, nil
}
