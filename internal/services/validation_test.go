package services

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid enroll request", func(t *testing.T) {
		req := EnrollRequest{
			AffiliateID:       "aff1",
			CommissionRateBps: 2000,
			PayoutDetails:     json.RawMessage(`{"iban":"DE02100100100006820101"}`),
		}
		assert.NoError(t, vh.ValidateStruct(&req))
	})

	t.Run("missing affiliate id", func(t *testing.T) {
		req := EnrollRequest{
			CommissionRateBps: 2000,
			PayoutDetails:     json.RawMessage(`{}`),
		}
		err := vh.ValidateStruct(&req)
		assert.Error(t, err)
		_, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
	})

	t.Run("commission rate above 100 percent", func(t *testing.T) {
		req := EnrollRequest{
			AffiliateID:       "aff1",
			CommissionRateBps: 10001,
			PayoutDetails:     json.RawMessage(`{}`),
		}
		assert.Error(t, vh.ValidateStruct(&req))
	})

	t.Run("zero commission rate", func(t *testing.T) {
		req := EnrollRequest{
			AffiliateID:       "aff1",
			CommissionRateBps: 0,
			PayoutDetails:     json.RawMessage(`{}`),
		}
		assert.Error(t, vh.ValidateStruct(&req))
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendErrorResponse(w, "Something failed", 500, nil)

		assert.Equal(t, 500, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Something failed", resp.Error)
		assert.Empty(t, resp.Details)
	})

	t.Run("includes validation details", func(t *testing.T) {
		vh := NewValidationHelper()
		err := vh.ValidateStruct(&EnrollRequest{})

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", 400, err)

		assert.Equal(t, 400, w.Code)
		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Contains(t, resp.Details, "AffiliateID")
	})
}

func TestSendJSON(t *testing.T) {
	w := httptest.NewRecorder()
	SendJSON(w, 201, map[string]string{"status": "created"})

	assert.Equal(t, 201, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status": "created"}`, w.Body.String())
}
