package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/payloop/backend/internal/models"
	"github.com/spf13/viper"
)

// HTTPClient queries the processor's REST API for authoritative transaction
// state. Batch reconciliation uses it as the backstop for lossy webhooks.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPClient() *HTTPClient {
	viper.SetDefault("processor.api_url", "https://api.processor.example/v1")

	return &HTTPClient{
		baseURL:    viper.GetString("processor.api_url"),
		apiKey:     viper.GetString("processor.api_key"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) GetTransactionState(ctx context.Context, processorRef string) (TransactionState, error) {
	url := fmt.Sprintf("%s/transactions/%s", c.baseURL, processorRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return TransactionState{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TransactionState{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return TransactionState{}, fmt.Errorf("processor API returned status %d for %s", resp.StatusCode, processorRef)
	}

	var result struct {
		Status       string `json:"status"`
		RefundAmount int64  `json:"refundAmount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return TransactionState{}, err
	}

	status := models.TransactionStatus(result.Status)
	if !models.ValidStatus(status) {
		return TransactionState{}, fmt.Errorf("processor reported unknown status %q for %s", result.Status, processorRef)
	}

	return TransactionState{
		ProcessorRef: processorRef,
		Status:       status,
		RefundAmount: result.RefundAmount,
	}, nil
}
