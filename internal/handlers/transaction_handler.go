package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/payloop/backend/internal/models"
	"github.com/payloop/backend/internal/services"
)

// TransactionHandler exposes read access to the transaction ledger.
type TransactionHandler struct {
	ledger *services.LedgerService
}

func NewTransactionHandler(ledger *services.LedgerService) *TransactionHandler {
	return &TransactionHandler{ledger: ledger}
}

// ListByAffiliate lists transactions attributed to an affiliate
// @Summary List affiliate transactions
// @Description Page through transactions attributed to an affiliate, newest first
// @Tags transactions
// @Produce json
// @Param affiliateId path string true "Affiliate ID"
// @Param status query string false "Filter by lifecycle status"
// @Param cursor query string false "Opaque pagination cursor"
// @Param limit query int false "Page size (default 50, max 100)"
// @Success 200 {object} object{transactions=[]models.Transaction,nextCursor=string}
// @Failure 400 {object} services.ErrorResponse
// @Router /affiliates/{affiliateId}/transactions [get]
func (h *TransactionHandler) ListByAffiliate(w http.ResponseWriter, r *http.Request) {
	affiliateID := chi.URLParam(r, "affiliateId")
	status := models.TransactionStatus(r.URL.Query().Get("status"))
	cursor := r.URL.Query().Get("cursor")

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	transactions, nextCursor, err := h.ledger.ListByAffiliate(affiliateID, status, cursor, limit)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": transactions,
		"nextCursor":   nextCursor,
		"count":        len(transactions),
	})
}

// GetTransaction fetches a transaction by id
// @Summary Get transaction by ID
// @Tags transactions
// @Produce json
// @Param txId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/{txId} [get]
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledger.GetTransaction(chi.URLParam(r, "txId"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			services.SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSON(w, http.StatusOK, tx)
}
