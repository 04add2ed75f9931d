package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/gescom/backoffice/internal/security"
)

type UnblockRequest struct {
	IP     string `json:"ip" validate:"required"`
	Reason string `json:"reason" validate:"required,max=500"`
}

// SecurityHandler exposes the admin side of the payment gate:
// inspecting and lifting IP blocks.
type SecurityHandler struct {
	gate     *security.Gate
	validate *validator.Validate
}

func NewSecurityHandler(gate *security.Gate) *SecurityHandler {
	return &SecurityHandler{
		gate:     gate,
		validate: validator.New(),
	}
}

func (h *SecurityHandler) RegisterRoutes(router chi.Router) {
	router.Get("/security/suspicious/{ip}", h.handleCheckSuspicious)
	router.Post("/security/unblock", h.handleUnblock)
}

func (h *SecurityHandler) handleCheckSuspicious(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if ip == "" {
		respondWithError(w, http.StatusBadRequest, "IP parameter cannot be empty")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"ip":         ip,
		"suspicious": h.gate.IsSuspicious(r.Context(), ip),
	})
}

func (h *SecurityHandler) handleUnblock(w http.ResponseWriter, r *http.Request) {
	var requestPayload UnblockRequest

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

	h.gate.Unblock(r.Context(), requestPayload.IP, requestPayload.Reason)
	w.WriteHeader(http.StatusNoContent)
}
