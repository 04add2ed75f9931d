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

	"github.com/gescom/backoffice/internal/audit"
	"github.com/gescom/backoffice/internal/product"
)

type CreateProductRequest struct {
	SKU           string `json:"sku" validate:"required,min=2,max=64"`
	Name          string `json:"name" validate:"required,min=2,max=255"`
	SellingPrice  string `json:"selling_price" validate:"required"`
	PurchasePrice string `json:"purchase_price" validate:"required"`
	MinStockAlert int    `json:"min_stock_alert" validate:"gte=0"`
}

type ProductHandler struct {
	products product.Repository
	audit    audit.Log
	validate *validator.Validate
}

func NewProductHandler(products product.Repository, auditLog audit.Log) *ProductHandler {
	return &ProductHandler{
		products: products,
		audit:    auditLog,
		validate: validator.New(),
	}
}

func (h *ProductHandler) RegisterRoutes(router chi.Router) {
	router.Post("/products", h.handleCreateProduct)
	router.Get("/products", h.handleListProducts)
	router.Get("/products/{id}", h.handleGetProduct)
}

func (h *ProductHandler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateProductRequest

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

	sellingPrice, err := decimal.NewFromString(requestPayload.SellingPrice)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid selling price")
		return
	}
	purchasePrice, err := decimal.NewFromString(requestPayload.PurchasePrice)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid purchase price")
		return
	}

	p, err := product.New(requestPayload.SKU, requestPayload.Name, sellingPrice, purchasePrice, requestPayload.MinStockAlert)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.products.Create(r.Context(), p); err != nil {
		log.Error().Err(err).Msg("Failed to create product")

		var clientMessage string
		if errors.Is(err, product.ErrSKUExists) {
			clientMessage = "A product with this SKU already exists"
		} else {
			clientMessage = "Failed to create product"
		}

		respondWithError(w, mapErrorToStatusCode(err), clientMessage)
		return
	}

	h.audit.Record(r.Context(), nil, audit.ActionCreate, "Product", p.ID, "Created product "+p.SKU)
	respondWithJSON(w, http.StatusCreated, p)
}

func (h *ProductHandler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	productID, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("product_id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return
	}

	p, err := h.products.GetByID(r.Context(), productID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get product")

		var clientMessage string
		if errors.Is(err, product.ErrNotFound) {
			clientMessage = "Product not found"
		} else {
			clientMessage = "Failed to get product"
		}

		respondWithError(w, mapErrorToStatusCode(err), clientMessage)
		return
	}

	respondWithJSON(w, http.StatusOK, p)
}

func (h *ProductHandler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list products")
		respondWithError(w, http.StatusInternalServerError, "Failed to list products")
		return
	}

	respondWithJSON(w, http.StatusOK, products)
}
