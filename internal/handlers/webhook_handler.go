package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log"
	"net/http"

	"github.com/payloop/backend/internal/services"
	"github.com/spf13/viper"
)

const webhookBodyLimit = 1_048_576 // 1 MB

// WebhookHandler ingests processor event deliveries. The HMAC signature is
// the authentication mechanism for this endpoint; there is no session.
type WebhookHandler struct {
	reconciler *services.ReconciliationService
}

func NewWebhookHandler(reconciler *services.ReconciliationService) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// HandleProcessorEvent receives a processor webhook delivery
// @Summary Ingest processor event
// @Description Apply a payment processor event to the transaction ledger
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 400 {object} services.ErrorResponse
// @Router /webhooks/processor [post]
func (h *WebhookHandler) HandleProcessorEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		services.SendErrorResponse(w, "Failed to read request body", http.StatusBadRequest, nil)
		return
	}

	if !verifySignature(payload, r.Header.Get("X-Processor-Signature")) {
		// Intentionally vague; a missing header is the same as a bad one.
		services.SendErrorResponse(w, "Invalid signature", http.StatusBadRequest, nil)
		return
	}

	if err := h.reconciler.IngestRaw(r.Context(), payload); err != nil {
		log.Printf("[WEBHOOK] Failed to apply event: %v", err)
		services.SendErrorResponse(w, "Failed to process event", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func verifySignature(payload []byte, signature string) bool {
	secret := viper.GetString("processor.webhook_secret")
	if secret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
