package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gescom/backoffice/internal/payment"
)

const signatureHeader = "X-Webhook-Signature"

type InitiatePaymentRequest struct {
	InvoiceID     string `json:"invoice_id" validate:"required,uuid4"`
	Amount        string `json:"amount" validate:"required"`
	Method        string `json:"method" validate:"required,oneof=CASH VISA MASTERCARD PAYPAL BANK_TRANSFER"`
	CustomerEmail string `json:"customer_email" validate:"required,email"`
	CustomerName  string `json:"customer_name" validate:"required,min=2,max=255"`
}

// webhookPayload is the gateway's wire format for event deliveries.
type webhookPayload struct {
	Type string `json:"type"`
	Data struct {
		SessionID     string    `json:"session_id"`
		TransactionID string    `json:"transaction_id"`
		Reason        string    `json:"reason"`
		OccurredAt    time.Time `json:"occurred_at"`
	} `json:"data"`
}

// TokenChecker validates the shape of a payment token before it hits
// the database.
type TokenChecker interface {
	ValidTokenFormat(token string) bool
}

type PaymentHandler struct {
	service  payment.Service
	gateway  payment.Gateway
	tokens   TokenChecker
	validate *validator.Validate
}

func NewPaymentHandler(service payment.Service, gateway payment.Gateway, tokens TokenChecker) *PaymentHandler {
	return &PaymentHandler{
		service:  service,
		gateway:  gateway,
		tokens:   tokens,
		validate: validator.New(),
	}
}

func (h *PaymentHandler) RegisterRoutes(router chi.Router) {
	router.Post("/payments", h.handleInitiatePayment)
	router.Post("/payments/{id}/session", h.handleCreateSession)
	router.Get("/payments/token/{token}", h.handleGetByToken)
	router.Get("/payments/stats", h.handleStats)
	router.Post("/payments/webhook", h.handleWebhook)
}

func (h *PaymentHandler) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	var requestPayload InitiatePaymentRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		log.Error().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(requestPayload); err != nil {
		respondWithValidationErrors(w, err)
		return
	}

	invoiceID, err := uuid.FromString(requestPayload.InvoiceID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid invoice_id")
		return
	}

	amount, err := decimal.NewFromString(requestPayload.Amount)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	p, err := h.service.Initiate(r.Context(), payment.InitiateInput{
		InvoiceID:     invoiceID,
		Amount:        amount,
		Method:        payment.Method(requestPayload.Method),
		CustomerEmail: requestPayload.CustomerEmail,
		CustomerName:  requestPayload.CustomerName,
		ClientIP:      clientIP(r),
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initiate payment")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusCreated, p)
}

func (h *PaymentHandler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	paymentID, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("payment_id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return
	}

	p, err := h.service.CreateGatewaySession(r.Context(), paymentID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create gateway session")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, p)
}

func (h *PaymentHandler) handleGetByToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if !h.tokens.ValidTokenFormat(token) {
		respondWithError(w, http.StatusBadRequest, "Invalid token format")
		return
	}

	p, err := h.service.GetByToken(r.Context(), token)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get payment by token")

		var clientMessage string
		if errors.Is(err, payment.ErrNotFound) {
			clientMessage = "Payment not found"
		} else {
			clientMessage = "Failed to get payment"
		}

		respondWithError(w, mapErrorToStatusCode(err), clientMessage)
		return
	}

	respondWithJSON(w, http.StatusOK, p)
}

func (h *PaymentHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute payment statistics")
		respondWithError(w, http.StatusInternalServerError, "Failed to compute payment statistics")
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

// handleWebhook verifies the gateway signature and feeds the event to
// the reconciliation flow. The gateway retries on non-2xx, so business
// rejections still return 200; only a bad signature or an internal
// error is surfaced.
func (h *PaymentHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if !h.gateway.VerifySignature(body, r.Header.Get(signatureHeader)) {
		log.Warn().Str("remote_ip", clientIP(r)).Msg("Webhook with invalid signature rejected")
		respondWithError(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	event := payment.WebhookEvent{
		Type:          payload.Type,
		SessionID:     payload.Data.SessionID,
		TransactionID: payload.Data.TransactionID,
		Reason:        payload.Data.Reason,
		OccurredAt:    payload.Data.OccurredAt,
	}

	if err := h.service.HandleWebhook(r.Context(), event); err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("Failed to process webhook")
		respondWithError(w, http.StatusInternalServerError, "Failed to process webhook")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
