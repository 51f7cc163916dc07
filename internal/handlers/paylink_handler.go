package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/payloop/backend/internal/middleware"
	"github.com/payloop/backend/internal/models"
	"github.com/payloop/backend/internal/services"
)

// PayLinkHandler exposes pay-link creation and sharing to sellers.
type PayLinkHandler struct {
	links     *services.PayLinkService
	validator *services.ValidationHelper
}

func NewPayLinkHandler(links *services.PayLinkService) *PayLinkHandler {
	return &PayLinkHandler{
		links:     links,
		validator: services.NewValidationHelper(),
	}
}

// CreateLink creates a new pay link
// @Summary Create a pay link
// @Tags links
// @Accept json
// @Produce json
// @Param link body models.CreatePayLinkRequest true "Link data"
// @Success 201 {object} models.PayLink
// @Failure 400 {object} services.ErrorResponse
// @Router /links [post]
func (h *PayLinkHandler) CreateLink(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := r.Context().Value(middleware.ActorIDKey).(string)
	if !ok || sellerID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req models.CreatePayLinkRequest
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

	link, err := h.links.CreateLink(sellerID, req)
	if err != nil {
		services.SendErrorResponse(w, "Failed to create link", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSON(w, http.StatusCreated, link)
}

// ListLinks lists the seller's pay links
// @Summary List pay links
// @Tags links
// @Produce json
// @Success 200 {object} object{links=[]models.PayLink}
// @Router /links [get]
func (h *PayLinkHandler) ListLinks(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := r.Context().Value(middleware.ActorIDKey).(string)
	if !ok || sellerID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	links, err := h.links.ListLinks(sellerID)
	if err != nil {
		services.SendErrorResponse(w, "Failed to list links", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSON(w, http.StatusOK, map[string]interface{}{
		"links": links,
		"count": len(links),
	})
}

// LinkQR renders a pay link as a QR code
// @Summary Get pay link QR code
// @Tags links
// @Produce png
// @Param linkId path string true "Pay link ID"
// @Success 200 {file} binary
// @Failure 404 {object} services.ErrorResponse
// @Router /links/{linkId}/qr [get]
func (h *PayLinkHandler) LinkQR(w http.ResponseWriter, r *http.Request) {
	data, err := h.links.LinkQR(r.Context(), chi.URLParam(r, "linkId"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			services.SendErrorResponse(w, "Link not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to render QR", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(data)
}
