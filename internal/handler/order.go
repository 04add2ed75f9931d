package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gescom/backoffice/internal/order"
)

type OrderItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid4"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

type CreateOrderRequest struct {
	ClientID  string             `json:"client_id" validate:"required,uuid4"`
	CreatedBy string             `json:"created_by" validate:"required,uuid4"`
	Status    string             `json:"status,omitempty" validate:"omitempty,oneof=DRAFT CONFIRMED"`
	Discount  string             `json:"discount,omitempty"`
	Tax       string             `json:"tax,omitempty"`
	Items     []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type UpdateOrderItemsRequest struct {
	ActorID string             `json:"actor_id" validate:"required,uuid4"`
	Items   []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type UpdateOrderStatusRequest struct {
	ActorID string `json:"actor_id" validate:"required,uuid4"`
	Status  string `json:"status" validate:"required,oneof=DRAFT CONFIRMED PROCESSING SHIPPED DELIVERED INVOICED CANCELLED"`
}

type OrderActionRequest struct {
	ActorID string `json:"actor_id" validate:"required,uuid4"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCreateOrder)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Get("/orders/number/{number}", h.handleGetOrderByNumber)
	router.Get("/orders/client/{clientID}", h.handleListByClient)
	router.Put("/orders/{id}/items", h.handleUpdateItems)
	router.Put("/orders/{id}/status", h.handleUpdateStatus)
	router.Post("/orders/{id}/cancel", h.handleCancelOrder)
	router.Delete("/orders/{id}", h.handleDeleteOrder)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateOrderRequest

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

	clientID, err := uuid.FromString(requestPayload.ClientID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid client_id")
		return
	}
	createdBy, err := uuid.FromString(requestPayload.CreatedBy)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid created_by")
		return
	}

	status := order.StatusDraft
	if requestPayload.Status != "" {
		status = order.Status(requestPayload.Status)
	}

	discount, err := parseOptionalDecimal(requestPayload.Discount)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid discount")
		return
	}
	tax, err := parseOptionalDecimal(requestPayload.Tax)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid tax")
		return
	}

	items, err := toItemInputs(requestPayload.Items)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid item product_id")
		return
	}

	o, err := h.service.Create(r.Context(), order.CreateInput{
		ClientID: clientID,
		ActorID:  createdBy,
		Status:   status,
		Discount: discount,
		Tax:      tax,
		Items:    items,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create order")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusCreated, o)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}

	o, err := h.service.GetByID(r.Context(), orderID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get order")

		var clientMessage string
		if errors.Is(err, order.ErrNotFound) {
			clientMessage = "Order not found"
		} else {
			clientMessage = "Failed to get order"
		}

		respondWithError(w, mapErrorToStatusCode(err), clientMessage)
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleGetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if number == "" {
		respondWithError(w, http.StatusBadRequest, "Order number cannot be empty")
		return
	}

	o, err := h.service.GetByNumber(r.Context(), number)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get order by number")

		var clientMessage string
		if errors.Is(err, order.ErrNotFound) {
			clientMessage = "Order not found"
		} else {
			clientMessage = "Failed to get order"
		}

		respondWithError(w, mapErrorToStatusCode(err), clientMessage)
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleListByClient(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "clientID")
	clientID, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("client_id", idParam).Msg("Failed to parse clientID parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid clientID parameter")
		return
	}

	orders, err := h.service.ListByClient(r.Context(), clientID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders by client")
		respondWithError(w, http.StatusInternalServerError, "Failed to list orders")
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleUpdateItems(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}

	var requestPayload UpdateOrderItemsRequest
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

	actorID, err := uuid.FromString(requestPayload.ActorID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid actor_id")
		return
	}

	items, err := toItemInputs(requestPayload.Items)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid item product_id")
		return
	}

	o, err := h.service.Update(r.Context(), orderID, items, actorID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to update order items")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}

	var requestPayload UpdateOrderStatusRequest
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

	actorID, err := uuid.FromString(requestPayload.ActorID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid actor_id")
		return
	}

	if err := h.service.UpdateStatus(r.Context(), orderID, order.Status(requestPayload.Status), actorID); err != nil {
		log.Error().Err(err).Msg("Failed to update order status")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}

	var requestPayload OrderActionRequest
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

	actorID, err := uuid.FromString(requestPayload.ActorID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid actor_id")
		return
	}

	if err := h.service.Cancel(r.Context(), orderID, actorID); err != nil {
		log.Error().Err(err).Msg("Failed to cancel order")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandler) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}

	actorID, err := uuid.FromString(r.URL.Query().Get("actor_id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid actor_id parameter")
		return
	}

	if err := h.service.Delete(r.Context(), orderID, actorID); err != nil {
		log.Error().Err(err).Msg("Failed to delete order")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandler) parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	orderID, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("order_id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return orderID, true
}

func toItemInputs(items []OrderItemRequest) ([]order.ItemInput, error) {
	inputs := make([]order.ItemInput, 0, len(items))
	for _, item := range items {
		productID, err := uuid.FromString(item.ProductID)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, order.ItemInput{ProductID: productID, Quantity: item.Quantity})
	}
	return inputs, nil
}

func parseOptionalDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
