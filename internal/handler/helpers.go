package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/gescom/backoffice/internal/invoice"
	"github.com/gescom/backoffice/internal/order"
	"github.com/gescom/backoffice/internal/payment"
	"github.com/gescom/backoffice/internal/product"
	"github.com/gescom/backoffice/internal/security"
	"github.com/gescom/backoffice/internal/stock"
)

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

// respondWithError sends a JSON error body.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON sends a JSON response.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondWithValidationErrors(w http.ResponseWriter, err error) {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
		respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		return
	}
	respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
		Error:   "Validation failed",
		Details: formatValidationErrors(validationErrors),
	})
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		details[fe.Field()] = fmt.Sprintf("failed on the '%s' rule", fe.Tag())
	}
	return details
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, product.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, invoice.ErrNotFound),
		errors.Is(err, payment.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, product.ErrSKUExists),
		errors.Is(err, invoice.ErrExists):
		return http.StatusConflict
	case errors.Is(err, stock.ErrContention),
		errors.Is(err, invoice.ErrPaymentConflict):
		return http.StatusConflict
	case errors.Is(err, security.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, security.ErrBlockedIP),
		errors.Is(err, security.ErrInvalidIPFormat),
		errors.Is(err, security.ErrMissingClientInfo):
		return http.StatusForbidden
	case errors.Is(err, stock.ErrInsufficientStock),
		errors.Is(err, stock.ErrQuantityNotPositive),
		errors.Is(err, stock.ErrNegativeQuantity),
		errors.Is(err, order.ErrNotModifiable),
		errors.Is(err, order.ErrAlreadyCancelled),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrNoItems),
		errors.Is(err, order.ErrNotDeletable),
		errors.Is(err, invoice.ErrOrderNotBillable),
		errors.Is(err, invoice.ErrAlreadyPaid),
		errors.Is(err, invoice.ErrCannotCancelPaid),
		errors.Is(err, invoice.ErrAmountNotPositive),
		errors.Is(err, payment.ErrInvalidPaymentAmount),
		errors.Is(err, payment.ErrInvalidPaymentMethod),
		errors.Is(err, payment.ErrInvoiceNotPayable):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// clientIP reads the peer address. Forwarding headers are only honored
// when the router's RealIP middleware rewrote RemoteAddr, which is
// enabled solely for deployments behind a trusted proxy; a direct
// caller cannot spoof the address the security gate keys on.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
