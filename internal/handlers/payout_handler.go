package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/payloop/backend/internal/models"
	"github.com/payloop/backend/internal/services"
)

// PayoutHandler exposes balances and payout settlement to the application
// layer. The actor identity arrives from the auth middleware; credentials
// are never re-validated here.
type PayoutHandler struct {
	payouts   *services.PayoutService
	balances  *services.BalanceService
	validator *services.ValidationHelper
}

func NewPayoutHandler(payouts *services.PayoutService, balances *services.BalanceService) *PayoutHandler {
	return &PayoutHandler{
		payouts:   payouts,
		balances:  balances,
		validator: services.NewValidationHelper(),
	}
}

type requestPayoutBody struct {
	IdempotencyKey string `json:"idempotencyKey" validate:"required,max=128"`
}

// RequestPayout sweeps the affiliate's available balance
// @Summary Request a sweep-all payout
// @Description Sweep the affiliate's entire available balance into a payout
// @Tags payouts
// @Accept json
// @Produce json
// @Param affiliateId path string true "Affiliate ID"
// @Param request body requestPayoutBody true "Payout request"
// @Success 201 {object} models.PayoutRequest
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /affiliates/{affiliateId}/payouts [post]
func (h *PayoutHandler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	affiliateID := chi.URLParam(r, "affiliateId")

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var body requestPayoutBody
	if err := dec.Decode(&body); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&body); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	req, err := h.payouts.RequestPayout(r.Context(), affiliateID, body.IdempotencyKey)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrConflict):
			services.SendErrorResponse(w, "A payout is already pending for this affiliate", http.StatusConflict, nil)
		case errors.Is(err, services.ErrNotFound):
			services.SendErrorResponse(w, "Affiliate not found", http.StatusNotFound, nil)
		default:
			log.Printf("[PAYOUT] Request failed for %s: %v", affiliateID, err)
			services.SendErrorResponse(w, "Failed to request payout", http.StatusInternalServerError, nil)
		}
		return
	}

	status := http.StatusCreated
	if req.Status == models.PayoutPending {
		// Outcome not yet known; reconciliation will settle it.
		status = http.StatusAccepted
	}
	services.SendJSON(w, status, req)
}

// GetBalance returns the affiliate's derived balance
// @Summary Get affiliate balance
// @Description Compute available, pending, and reserved balance from the ledger
// @Tags payouts
// @Produce json
// @Param affiliateId path string true "Affiliate ID"
// @Success 200 {object} models.Balance
// @Failure 500 {object} services.ErrorResponse
// @Router /affiliates/{affiliateId}/balance [get]
func (h *PayoutHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	affiliateID := chi.URLParam(r, "affiliateId")

	bal, err := h.balances.GetBalance(affiliateID)
	if err != nil {
		log.Printf("[PAYOUT] Balance computation failed for %s: %v", affiliateID, err)
		services.SendErrorResponse(w, "Failed to compute balance", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSON(w, http.StatusOK, bal)
}

// GetPayout returns a payout request by id
// @Summary Get payout request
// @Tags payouts
// @Produce json
// @Param payoutId path string true "Payout request ID"
// @Success 200 {object} models.PayoutRequest
// @Failure 404 {object} services.ErrorResponse
// @Router /payouts/{payoutId} [get]
func (h *PayoutHandler) GetPayout(w http.ResponseWriter, r *http.Request) {
	req, err := h.payouts.GetPayoutRequest(chi.URLParam(r, "payoutId"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			services.SendErrorResponse(w, "Payout not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to fetch payout", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSON(w, http.StatusOK, req)
}

// ResolvePending resolves stale pending payouts against the rail
// @Summary Resolve pending payouts
// @Description Query the payout rail for authoritative outcomes of stale pending requests
// @Tags payouts
// @Produce json
// @Success 200 {object} map[string]int
// @Failure 500 {object} services.ErrorResponse
// @Router /payouts/resolve [post]
func (h *PayoutHandler) ResolvePending(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.payouts.ResolvePendingPayouts(r.Context(), 0)
	if err != nil {
		log.Printf("[PAYOUT] Resolve sweep failed: %v", err)
		services.SendErrorResponse(w, "Failed to resolve pending payouts", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSON(w, http.StatusOK, map[string]int{"resolved": resolved})
}
