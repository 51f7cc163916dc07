package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/payloop/backend/internal/services"
)

// ReconciliationHandler exposes the batch reconciliation pass and drift
// records to operational tooling.
type ReconciliationHandler struct {
	reconciler *services.ReconciliationService
}

func NewReconciliationHandler(reconciler *services.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{reconciler: reconciler}
}

type runReconciliationBody struct {
	WindowHours int `json:"windowHours" validate:"omitempty,min=1,max=720"`
}

// Run triggers a batch reconciliation pass
// @Summary Run batch reconciliation
// @Description Re-fetch authoritative processor state for the window and correct drift
// @Tags reconciliation
// @Accept json
// @Produce json
// @Param request body runReconciliationBody false "Window override"
// @Success 200 {object} services.ReconcileResult
// @Failure 500 {object} services.ErrorResponse
// @Router /reconciliation/run [post]
func (h *ReconciliationHandler) Run(w http.ResponseWriter, r *http.Request) {
	var body runReconciliationBody
	if r.Body != nil {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
		if err := dec.Decode(&body); err != nil && err != io.EOF {
			services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
			return
		}
	}

	window := time.Duration(body.WindowHours) * time.Hour
	result, err := h.reconciler.Reconcile(r.Context(), window)
	if err != nil {
		log.Printf("[RECONCILE] Run failed: %v", err)
		services.SendErrorResponse(w, "Reconciliation failed", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSON(w, http.StatusOK, result)
}

// ListDrifts lists recent drift records
// @Summary List reconciliation drifts
// @Tags reconciliation
// @Produce json
// @Param limit query int false "Max records (default 50)"
// @Success 200 {object} object{drifts=[]models.ReconciliationDrift}
// @Failure 500 {object} services.ErrorResponse
// @Router /reconciliation/drifts [get]
func (h *ReconciliationHandler) ListDrifts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	drifts, err := h.reconciler.ListDrifts(limit)
	if err != nil {
		services.SendErrorResponse(w, "Failed to list drifts", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSON(w, http.StatusOK, map[string]interface{}{
		"drifts": drifts,
		"count":  len(drifts),
	})
}
