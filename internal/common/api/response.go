package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Response is the standard API response envelope.
type Response[T any] struct {
	Data  T      `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Error mirrors the provider's error shape so storefront and backoffice
// callers see one format regardless of where the failure originated.
type Error struct {
	MerchantMessage string `json:"merchantMessage"`
	ClientMessage   string `json:"clientMessage,omitempty"`
	Code            string `json:"code,omitempty"`
}

// Common error codes for failures raised by the gateway itself.
const (
	CodeBadRequest    = "GW.BAD_REQUEST"
	CodeValidation    = "GW.VALIDATION_ERROR"
	CodeNotFound      = "GW.NOT_FOUND"
	CodeInternalError = "GW.INTERNAL_ERROR"
)

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteData writes a successful data response.
func WriteData[T any](w http.ResponseWriter, status int, data T) {
	WriteJSON(w, status, Response[T]{Data: data})
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, status int, e *Error) {
	WriteJSON(w, status, Response[any]{Error: e})
}

// BadRequest writes a 400 response.
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, &Error{MerchantMessage: message, Code: CodeBadRequest})
}

// NotFound writes a 404 response.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, &Error{MerchantMessage: message, Code: CodeNotFound})
}

// InternalError writes a 500 response.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, &Error{MerchantMessage: message, Code: CodeInternalError})
}

// ValidationError writes a 422 response naming the offending fields.
func ValidationError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			fields = append(fields, e.Field())
		}
		WriteError(w, http.StatusUnprocessableEntity, &Error{
			MerchantMessage: "validation failed: " + strings.Join(fields, ", "),
			ClientMessage:   "Please check the entered payment data.",
			Code:            CodeValidation,
		})
		return
	}
	WriteError(w, http.StatusUnprocessableEntity, &Error{
		MerchantMessage: err.Error(),
		Code:            CodeValidation,
	})
}

// Validate is a shared validator instance.
var Validate = validator.New()

// DecodeAndValidate decodes JSON and validates the result.
func DecodeAndValidate(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return Validate.Struct(v)
}
