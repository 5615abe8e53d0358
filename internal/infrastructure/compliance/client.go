package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxResponseSize = 1 * 1024 * 1024 // 1MB

// Client is the HTTP client to the external compliance service serving
// carrier vigilance snapshots.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ billing.VigilanceSource = (*Client)(nil)

// NewClient creates a new compliance service client
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// GetCarrierVigilance returns the current vigilance snapshot for a carrier
func (c *Client) GetCarrierVigilance(ctx context.Context, orgID, carrierID uuid.UUID) (*billing.CarrierVigilance, error) {
	query := url.Values{}
	query.Set("org_id", orgID.String())
	endpoint := fmt.Sprintf("%s/api/v1/vigilance/%s?%s", c.baseURL, carrierID, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("compliance: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("compliance: HTTP %d", resp.StatusCode)
	}

	var out struct {
		Data billing.CarrierVigilance `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("compliance: failed to decode response: %w", err)
	}
	return &out.Data, nil
}
