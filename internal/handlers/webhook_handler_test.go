package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/payloop/backend/internal/config"
	"github.com/payloop/backend/internal/services"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func newWebhookTestHandler(t *testing.T) (*WebhookHandler, sqlmock.Sqlmock) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reconciler := services.NewReconciliationService(db, nil,
		services.NewLedgerService(db), nil, config.LoadSettlementConfig())
	return NewWebhookHandler(reconciler), dbMock
}

func TestWebhookHandler_HandleProcessorEvent(t *testing.T) {
	viper.Set("processor.webhook_secret", "whsec_test")

	t.Run("rejects a missing signature", func(t *testing.T) {
		handler, dbMock := newWebhookTestHandler(t)

		req := httptest.NewRequest("POST", "/api/v1/webhooks/processor",
			bytes.NewBufferString(`{}`))
		w := httptest.NewRecorder()

		handler.HandleProcessorEvent(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("rejects a bad signature", func(t *testing.T) {
		handler, dbMock := newWebhookTestHandler(t)

		req := httptest.NewRequest("POST", "/api/v1/webhooks/processor",
			bytes.NewBufferString(`{}`))
		req.Header.Set("X-Processor-Signature", "deadbeef")
		w := httptest.NewRecorder()

		handler.HandleProcessorEvent(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("applies a signed valid event", func(t *testing.T) {
		handler, dbMock := newWebhookTestHandler(t)

		dbMock.ExpectBegin()
		dbMock.ExpectQuery("FOR UPDATE").
			WithArgs("pi_1").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectCommit()

		payload := []byte(`{
			"processorRef": "pi_1",
			"type": "payment_intent.succeeded",
			"amount": 10000,
			"currency": "USD",
			"occurredAtSequence": 1,
			"metadata": {"payLinkId": "link1", "sellerId": "seller1"}
		}`)
		req := httptest.NewRequest("POST", "/api/v1/webhooks/processor",
			bytes.NewBuffer(payload))
		req.Header.Set("X-Processor-Signature", signPayload("whsec_test", payload))
		w := httptest.NewRecorder()

		handler.HandleProcessorEvent(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]string
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "received", resp["status"])
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("quarantines a signed malformed event and still acks", func(t *testing.T) {
		handler, dbMock := newWebhookTestHandler(t)

		dbMock.ExpectExec("INSERT INTO quarantined_events").
			WillReturnResult(sqlmock.NewResult(1, 1))

		payload := []byte(`{"type": "payment_intent.exploded", "amount": 1, "processorRef": "pi_x", "occurredAtSequence": 1}`)
		req := httptest.NewRequest("POST", "/api/v1/webhooks/processor",
			bytes.NewBuffer(payload))
		req.Header.Set("X-Processor-Signature", signPayload("whsec_test", payload))
		w := httptest.NewRecorder()

		handler.HandleProcessorEvent(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}
