package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/payloop/backend/internal/middleware"
	"github.com/payloop/backend/internal/services"
)

// AffiliateHandler exposes affiliate account enrollment and lookup.
type AffiliateHandler struct {
	affiliates *services.AffiliateService
	validator  *services.ValidationHelper
}

func NewAffiliateHandler(affiliates *services.AffiliateService) *AffiliateHandler {
	return &AffiliateHandler{
		affiliates: affiliates,
		validator:  services.NewValidationHelper(),
	}
}

// Enroll enrolls an affiliate under the authenticated seller
// @Summary Enroll an affiliate
// @Tags affiliates
// @Accept json
// @Produce json
// @Param request body services.EnrollRequest true "Enrollment data"
// @Success 201 {object} models.AffiliateAccount
// @Failure 400 {object} services.ErrorResponse
// @Router /affiliates [post]
func (h *AffiliateHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := r.Context().Value(middleware.ActorIDKey).(string)
	if !ok || sellerID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req services.EnrollRequest
	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	acc, err := h.affiliates.Enroll(sellerID, req)
	if err != nil {
		services.SendErrorResponse(w, "Failed to enroll affiliate", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSON(w, http.StatusCreated, acc)
}

// GetAccount fetches an affiliate account
// @Summary Get affiliate account
// @Tags affiliates
// @Produce json
// @Param affiliateId path string true "Affiliate ID"
// @Success 200 {object} models.AffiliateAccount
// @Failure 404 {object} services.ErrorResponse
// @Router /affiliates/{affiliateId} [get]
func (h *AffiliateHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.affiliates.GetAccount(chi.URLParam(r, "affiliateId"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			services.SendErrorResponse(w, "Affiliate not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to fetch affiliate", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSON(w, http.StatusOK, acc)
}
