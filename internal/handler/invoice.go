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

	"github.com/gescom/backoffice/internal/invoice"
)

type CreateInvoiceRequest struct {
	OrderID    string  `json:"order_id" validate:"required,uuid4"`
	DeliveryID *string `json:"delivery_id,omitempty" validate:"omitempty,uuid4"`
	Discount   string  `json:"discount,omitempty"`
	TaxRate    string  `json:"tax_rate" validate:"required"`
	PaidAmount string  `json:"paid_amount,omitempty"`
	DueDate    *string `json:"due_date,omitempty"`
	ActorID    *string `json:"actor_id,omitempty" validate:"omitempty,uuid4"`
}

type RecordPaymentRequest struct {
	Amount  string  `json:"amount" validate:"required"`
	Method  string  `json:"method" validate:"required,oneof=CASH CARD BANK_TRANSFER CHECK MOBILE_PAYMENT"`
	Date    *string `json:"date,omitempty"`
	ActorID *string `json:"actor_id,omitempty" validate:"omitempty,uuid4"`
}

type InvoiceActionRequest struct {
	ActorID *string `json:"actor_id,omitempty" validate:"omitempty,uuid4"`
}

type InvoiceHandler struct {
	service  invoice.Service
	validate *validator.Validate
}

func NewInvoiceHandler(service invoice.Service) *InvoiceHandler {
	return &InvoiceHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *InvoiceHandler) RegisterRoutes(router chi.Router) {
	router.Post("/invoices", h.handleCreateInvoice)
	router.Get("/invoices", h.handleListInvoices)
	router.Get("/invoices/overdue", h.handleListOverdue)
	router.Get("/invoices/{id}", h.handleGetInvoice)
	router.Get("/invoices/number/{number}", h.handleGetInvoiceByNumber)
	router.Get("/invoices/order/{orderID}", h.handleGetInvoiceByOrder)
	router.Post("/invoices/{id}/payments", h.handleRecordPayment)
	router.Post("/invoices/{id}/send", h.handleMarkSent)
	router.Post("/invoices/{id}/cancel", h.handleCancelInvoice)
}

func (h *InvoiceHandler) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateInvoiceRequest

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

	orderID, err := uuid.FromString(requestPayload.OrderID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid order_id")
		return
	}

	input := invoice.CreateInput{OrderID: orderID}

	if requestPayload.DeliveryID != nil {
		deliveryID, err := uuid.FromString(*requestPayload.DeliveryID)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid delivery_id")
			return
		}
		input.DeliveryID = &deliveryID
	}

	if input.Discount, err = parseOptionalDecimal(requestPayload.Discount); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid discount")
		return
	}
	if input.TaxRate, err = decimal.NewFromString(requestPayload.TaxRate); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid tax_rate")
		return
	}
	if input.PaidAmount, err = parseOptionalDecimal(requestPayload.PaidAmount); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid paid_amount")
		return
	}

	if requestPayload.DueDate != nil {
		dueDate, err := time.Parse(time.RFC3339, *requestPayload.DueDate)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid due_date, expected RFC 3339")
			return
		}
		input.DueDate = &dueDate
	}

	if input.ActorID, err = parseOptionalUUID(requestPayload.ActorID); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid actor_id")
		return
	}

	inv, err := h.service.Create(r.Context(), input)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create invoice")

		var clientMessage string
		switch {
		case errors.Is(err, invoice.ErrExists):
			clientMessage = "An invoice already exists for this order"
		case errors.Is(err, invoice.ErrOrderNotBillable):
			clientMessage = "Order must be delivered before invoicing"
		default:
			clientMessage = err.Error()
		}

		respondWithError(w, mapErrorToStatusCode(err), clientMessage)
		return
	}

	respondWithJSON(w, http.StatusCreated, inv)
}

func (h *InvoiceHandler) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.service.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list invoices")
		respondWithError(w, http.StatusInternalServerError, "Failed to list invoices")
		return
	}
	respondWithJSON(w, http.StatusOK, invoices)
}

func (h *InvoiceHandler) handleListOverdue(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.service.ListOverdue(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list overdue invoices")
		respondWithError(w, http.StatusInternalServerError, "Failed to list overdue invoices")
		return
	}
	respondWithJSON(w, http.StatusOK, invoices)
}

func (h *InvoiceHandler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}

	inv, err := h.service.GetByID(r.Context(), invoiceID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get invoice")

		var clientMessage string
		if errors.Is(err, invoice.ErrNotFound) {
			clientMessage = "Invoice not found"
		} else {
			clientMessage = "Failed to get invoice"
		}

		respondWithError(w, mapErrorToStatusCode(err), clientMessage)
		return
	}

	respondWithJSON(w, http.StatusOK, inv)
}

func (h *InvoiceHandler) handleGetInvoiceByNumber(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if number == "" {
		respondWithError(w, http.StatusBadRequest, "Invoice number cannot be empty")
		return
	}

	inv, err := h.service.GetByNumber(r.Context(), number)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get invoice by number")

		var clientMessage string
		if errors.Is(err, invoice.ErrNotFound) {
			clientMessage = "Invoice not found"
		} else {
			clientMessage = "Failed to get invoice"
		}

		respondWithError(w, mapErrorToStatusCode(err), clientMessage)
		return
	}

	respondWithJSON(w, http.StatusOK, inv)
}

func (h *InvoiceHandler) handleGetInvoiceByOrder(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "orderID")
	orderID, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("order_id", idParam).Msg("Failed to parse orderID parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid orderID parameter")
		return
	}

	inv, err := h.service.GetByOrder(r.Context(), orderID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get invoice by order")

		var clientMessage string
		if errors.Is(err, invoice.ErrNotFound) {
			clientMessage = "Invoice not found"
		} else {
			clientMessage = "Failed to get invoice"
		}

		respondWithError(w, mapErrorToStatusCode(err), clientMessage)
		return
	}

	respondWithJSON(w, http.StatusOK, inv)
}

func (h *InvoiceHandler) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}

	var requestPayload RecordPaymentRequest
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

	amount, err := decimal.NewFromString(requestPayload.Amount)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	var date *time.Time
	if requestPayload.Date != nil {
		parsed, err := time.Parse(time.RFC3339, *requestPayload.Date)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid date, expected RFC 3339")
			return
		}
		date = &parsed
	}

	actorID, err := parseOptionalUUID(requestPayload.ActorID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid actor_id")
		return
	}

	inv, err := h.service.RecordPayment(r.Context(), invoiceID, amount, invoice.PaymentMethod(requestPayload.Method), date, actorID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to record payment")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, inv)
}

func (h *InvoiceHandler) handleMarkSent(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}

	actorID, ok := h.decodeActionPayload(w, r)
	if !ok {
		return
	}

	if err := h.service.MarkSent(r.Context(), invoiceID, actorID); err != nil {
		log.Error().Err(err).Msg("Failed to mark invoice sent")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *InvoiceHandler) handleCancelInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}

	actorID, ok := h.decodeActionPayload(w, r)
	if !ok {
		return
	}

	if err := h.service.Cancel(r.Context(), invoiceID, actorID); err != nil {
		log.Error().Err(err).Msg("Failed to cancel invoice")

		var clientMessage string
		if errors.Is(err, invoice.ErrCannotCancelPaid) {
			clientMessage = "A paid invoice cannot be cancelled"
		} else {
			clientMessage = err.Error()
		}

		respondWithError(w, mapErrorToStatusCode(err), clientMessage)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *InvoiceHandler) parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	invoiceID, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("invoice_id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return invoiceID, true
}

func (h *InvoiceHandler) decodeActionPayload(w http.ResponseWriter, r *http.Request) (*uuid.UUID, bool) {
	var requestPayload InvoiceActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil && !errors.Is(err, io.EOF) {
		log.Error().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return nil, false
	}

	actorID, err := parseOptionalUUID(requestPayload.ActorID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid actor_id")
		return nil, false
	}
	return actorID, true
}

func parseOptionalUUID(s *string) (*uuid.UUID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	id, err := uuid.FromString(*s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
