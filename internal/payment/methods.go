// Package payment orchestrates the gateway's payment methods. Each method
// is a Strategy value composing the shared charge pipeline with small
// per-method hooks; there is no method inheritance hierarchy.
package payment

import (
	"fmt"

	"paymentgw/internal/checkout"
	"paymentgw/internal/paymentinfo"
	"paymentgw/internal/provider"
)

// RequestAugmenter adjusts the charge envelope for one method before the
// provider call.
type RequestAugmenter interface {
	AugmentChargeRequest(req *checkout.CanonicalPaymentRequest, record *checkout.Record)
}

// ResponseHandler produces the method's order confirmation text once the
// host order exists. An empty string means no comment.
type ResponseHandler interface {
	ConfirmationText(info *paymentinfo.PaymentInformation) string
}

// Strategy is one payment method: a provider operation plus its
// composition hooks.
type Strategy struct {
	Method    string
	Operation provider.Operation
	Augmenter RequestAugmenter
	Responder ResponseHandler
}

// redirectAugmenter points the provider back at the gateway's redirect
// processing endpoint; redirect methods finish the charge there.
type redirectAugmenter struct {
	returnURL string
}

func (a redirectAugmenter) AugmentChargeRequest(req *checkout.CanonicalPaymentRequest, _ *checkout.Record) {
	req.ReturnURL = a.returnURL
}

// b2bAugmenter attaches the business-customer object captured at checkout.
type b2bAugmenter struct{}

func (b2bAugmenter) AugmentChargeRequest(req *checkout.CanonicalPaymentRequest, record *checkout.Record) {
	if record != nil {
		req.B2BCustomer = record.B2BCustomer
	}
}

// referenceResponder confirms the order with the provider's payment
// reference so the customer can quote it on the bank transfer.
type referenceResponder struct{}

func (referenceResponder) ConfirmationText(info *paymentinfo.PaymentInformation) string {
	shortID := info.ShortID()
	if shortID == "" {
		return ""
	}
	return fmt.Sprintf("Payment reference: %s", shortID)
}

// transferDetailsResponder confirms invoice-based orders with the account
// the customer transfers the amount to. The account fields arrive in the
// charge transaction; without an iban the payment reference is used
// instead.
type transferDetailsResponder struct{}

func (transferDetailsResponder) ConfirmationText(info *paymentinfo.PaymentInformation) string {
	iban := info.TransactionValue("iban")
	if iban == "" {
		return referenceResponder{}.ConfirmationText(info)
	}
	return fmt.Sprintf(
		"Please transfer the amount to the following account:\nHolder: %s\nIBAN: %s\nBIC: %s\nDescriptor: %s",
		info.TransactionValue("holder"),
		iban,
		info.TransactionValue("bic"),
		info.TransactionValue("descriptor"),
	)
}

// Strategies returns the methods the gateway offers. baseURL is the public
// gateway URL redirect methods return to.
func Strategies(baseURL string) map[string]Strategy {
	return map[string]Strategy{
		provider.MethodInvoiceGuaranteed: {
			Method:    provider.MethodInvoiceGuaranteed,
			Operation: provider.OpInvoiceGuaranteed,
			Responder: transferDetailsResponder{},
		},
		provider.MethodInvoiceGuaranteedB2B: {
			Method:    provider.MethodInvoiceGuaranteedB2B,
			Operation: provider.OpInvoiceGuaranteedB2B,
			Augmenter: b2bAugmenter{},
			Responder: transferDetailsResponder{},
		},
		provider.MethodSofort: {
			Method:    provider.MethodSofort,
			Operation: provider.OpSofort,
			Augmenter: redirectAugmenter{returnURL: baseURL + "/payment/process-redirect"},
			Responder: referenceResponder{},
		},
	}
}
