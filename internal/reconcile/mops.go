package reconcile

import "paymentgw/internal/provider"

// MopConfig maps gateway payment methods to the host's method-of-payment
// ids. The host assigns mop ids at registration time, so they arrive by
// configuration.
type MopConfig struct {
	InvoiceGuaranteed    int `envconfig:"MOP_INVOICE_GUARANTEED" required:"true"`
	InvoiceGuaranteedB2B int `envconfig:"MOP_INVOICE_GUARANTEED_B2B" required:"true"`
	Sofort               int `envconfig:"MOP_SOFORT" required:"true"`
}

// Methods returns the method-name to mop-id mapping.
func (c MopConfig) Methods() map[string]int {
	return map[string]int{
		provider.MethodInvoiceGuaranteed:    c.InvoiceGuaranteed,
		provider.MethodInvoiceGuaranteedB2B: c.InvoiceGuaranteedB2B,
		provider.MethodSofort:               c.Sofort,
	}
}

// MopRegistry answers which mop ids belong to this gateway.
type MopRegistry struct {
	byMethod map[string]int
	mops     map[int]string
}

// NewMopRegistry builds the registry from a method to mop-id mapping.
func NewMopRegistry(methods map[string]int) *MopRegistry {
	r := &MopRegistry{
		byMethod: make(map[string]int, len(methods)),
		mops:     make(map[int]string, len(methods)),
	}
	for method, mopID := range methods {
		r.byMethod[method] = mopID
		r.mops[mopID] = method
	}
	return r
}

// MopID returns the host mop id for the gateway method, or 0 when the
// method is unknown.
func (r *MopRegistry) MopID(method string) int {
	return r.byMethod[method]
}

// Method returns the gateway method registered under the mop id, or "".
func (r *MopRegistry) Method(mopID int) string {
	return r.mops[mopID]
}

// IsPluginMop reports whether the mop id belongs to this gateway. Writes to
// payments carried by foreign mops are always refused.
func (r *MopRegistry) IsPluginMop(mopID int) bool {
	_, ok := r.mops[mopID]
	return ok
}
