// Package billing предоставляет клиент billing API платного провайдера данных об автомобилях.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с billing API провайдера.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Usage описывает ответ billing API об остатке кредитов.
type Usage struct {
	Provider     string `json:"provider"`
	CreditsLeft  int    `json:"creditsLeft"`
	CreditsTotal int    `json:"creditsTotal"`
}

// NewClient создаёт HTTP-клиент billing API по указанному адресу.
// Временные сбои сети и ответы 5xx повторяются автоматически.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = time.Second
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = 10 * time.Second

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

// GetUsage запрашивает остаток кредитов по тарифному плану.
func (c *Client) GetUsage(ctx context.Context) (*Usage, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("billing client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := base + "/api/v1/billing/credits"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var usage Usage
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &usage, nil
}
