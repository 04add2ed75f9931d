package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gescom/backoffice/internal/stock"
)

type ReceiveStockRequest struct {
	ProductID string  `json:"product_id" validate:"required,uuid4"`
	Quantity  int     `json:"quantity" validate:"required,gt=0"`
	UnitCost  *string `json:"unit_cost,omitempty"`
	Reason    string  `json:"reason" validate:"max=500"`
	Reference string  `json:"reference" validate:"max=255"`
}

type IssueStockRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid4"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	Reason    string `json:"reason" validate:"max=500"`
	Reference string `json:"reference" validate:"max=255"`
}

type AdjustStockRequest struct {
	ProductID   string `json:"product_id" validate:"required,uuid4"`
	NewQuantity int    `json:"new_quantity" validate:"gte=0"`
	Reason      string `json:"reason" validate:"required,max=500"`
}

type DamageStockRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid4"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	Reason    string `json:"reason" validate:"required,max=500"`
}

type StockHandler struct {
	service  stock.Service
	validate *validator.Validate
}

func NewStockHandler(service stock.Service) *StockHandler {
	return &StockHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *StockHandler) RegisterRoutes(router chi.Router) {
	router.Post("/stock/receive", h.handleReceive)
	router.Post("/stock/issue", h.handleIssue)
	router.Post("/stock/adjust", h.handleAdjust)
	router.Post("/stock/damage", h.handleDamage)
	router.Get("/stock/movements", h.handleListMovements)
	router.Get("/stock/movements/product/{id}", h.handleListMovementsByProduct)
	router.Get("/stock/alerts/low", h.handleListLowStock)
	router.Get("/stock/alerts/out", h.handleListOutOfStock)
	router.Get("/stock/stats", h.handleStats)
}

func (h *StockHandler) handleReceive(w http.ResponseWriter, r *http.Request) {
	var requestPayload ReceiveStockRequest
	if !h.decodeAndValidate(w, r, &requestPayload) {
		return
	}

	productID, err := uuid.FromString(requestPayload.ProductID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid product_id")
		return
	}

	var unitCost *decimal.Decimal
	if requestPayload.UnitCost != nil {
		cost, err := decimal.NewFromString(*requestPayload.UnitCost)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid unit_cost")
			return
		}
		unitCost = &cost
	}

	movement, err := h.service.Receive(r.Context(), productID, requestPayload.Quantity, unitCost, requestPayload.Reason, requestPayload.Reference, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to receive stock")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusCreated, movement)
}

func (h *StockHandler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var requestPayload IssueStockRequest
	if !h.decodeAndValidate(w, r, &requestPayload) {
		return
	}

	productID, err := uuid.FromString(requestPayload.ProductID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid product_id")
		return
	}

	movement, err := h.service.Issue(r.Context(), productID, requestPayload.Quantity, requestPayload.Reason, requestPayload.Reference, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue stock")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusCreated, movement)
}

func (h *StockHandler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var requestPayload AdjustStockRequest
	if !h.decodeAndValidate(w, r, &requestPayload) {
		return
	}

	productID, err := uuid.FromString(requestPayload.ProductID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid product_id")
		return
	}

	movement, err := h.service.Adjust(r.Context(), productID, requestPayload.NewQuantity, requestPayload.Reason, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to adjust stock")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusCreated, movement)
}

func (h *StockHandler) handleDamage(w http.ResponseWriter, r *http.Request) {
	var requestPayload DamageStockRequest
	if !h.decodeAndValidate(w, r, &requestPayload) {
		return
	}

	productID, err := uuid.FromString(requestPayload.ProductID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid product_id")
		return
	}

	movement, err := h.service.RecordDamage(r.Context(), productID, requestPayload.Quantity, requestPayload.Reason, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to record damaged stock")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusCreated, movement)
}

func (h *StockHandler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	// Optional ?kind= filter narrows to a single movement kind.
	if kindParam := r.URL.Query().Get("kind"); kindParam != "" {
		kind := stock.MovementKind(kindParam)
		if !kind.Valid() {
			respondWithError(w, http.StatusBadRequest, "Invalid movement kind")
			return
		}
		movements, err := h.service.MovementsByKind(r.Context(), kind)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list movements by kind")
			respondWithError(w, http.StatusInternalServerError, "Failed to list movements")
			return
		}
		respondWithJSON(w, http.StatusOK, movements)
		return
	}

	movements, err := h.service.Movements(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list movements")
		respondWithError(w, http.StatusInternalServerError, "Failed to list movements")
		return
	}
	respondWithJSON(w, http.StatusOK, movements)
}

func (h *StockHandler) handleListMovementsByProduct(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	productID, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("product_id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return
	}

	movements, err := h.service.MovementsByProduct(r.Context(), productID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list movements by product")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to list movements")
		return
	}
	respondWithJSON(w, http.StatusOK, movements)
}

func (h *StockHandler) handleListLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.LowStockProducts(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list low stock products")
		respondWithError(w, http.StatusInternalServerError, "Failed to list low stock products")
		return
	}
	respondWithJSON(w, http.StatusOK, products)
}

func (h *StockHandler) handleListOutOfStock(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.OutOfStockProducts(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list out of stock products")
		respondWithError(w, http.StatusInternalServerError, "Failed to list out of stock products")
		return
	}
	respondWithJSON(w, http.StatusOK, products)
}

func (h *StockHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute stock statistics")
		respondWithError(w, http.StatusInternalServerError, "Failed to compute stock statistics")
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (h *StockHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, payload any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	if err := h.validate.Struct(payload); err != nil {
		respondWithValidationErrors(w, err)
		return false
	}
	return true
}
