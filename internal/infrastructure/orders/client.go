package orders

import (
	"bytes"
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

// maxResponseSize limits response bodies to prevent memory exhaustion
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Client is the HTTP client to the upstream orders service. It serves both
// the order read model and the pallet account balances, which live in the
// same service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var (
	_ billing.OrderSource  = (*Client)(nil)
	_ billing.PalletLedger = (*Client)(nil)
)

// NewClient creates a new orders service client
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// ListBillablePairs returns every (carrier, industrial) pair with at least
// one deliverable order in [start, end)
func (c *Client) ListBillablePairs(ctx context.Context, orgID uuid.UUID, start, end time.Time) ([]billing.BillablePair, error) {
	query := url.Values{}
	query.Set("org_id", orgID.String())
	query.Set("start", start.Format(time.RFC3339))
	query.Set("end", end.Format(time.RFC3339))

	var out struct {
		Data []billing.BillablePair `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/billing/pairs", query, &out); err != nil {
		return nil, fmt.Errorf("failed to list billable pairs: %w", err)
	}
	return out.Data, nil
}

// ListDeliverableOrders returns the completed, not-yet-invoiced orders for a
// pair whose delivery falls within [start, end)
func (c *Client) ListDeliverableOrders(ctx context.Context, orgID, carrierID, industrialID uuid.UUID, start, end time.Time) ([]billing.TransportOrder, error) {
	query := url.Values{}
	query.Set("org_id", orgID.String())
	query.Set("carrier_id", carrierID.String())
	query.Set("industrial_id", industrialID.String())
	query.Set("start", start.Format(time.RFC3339))
	query.Set("end", end.Format(time.RFC3339))

	var out struct {
		Data []billing.TransportOrder `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/billing/orders", query, &out); err != nil {
		return nil, fmt.Errorf("failed to list deliverable orders: %w", err)
	}
	return out.Data, nil
}

// GetOrders returns current order snapshots by ID
func (c *Client) GetOrders(ctx context.Context, orgID uuid.UUID, orderIDs []uuid.UUID) ([]billing.TransportOrder, error) {
	payload := struct {
		OrgID    uuid.UUID   `json:"org_id"`
		OrderIDs []uuid.UUID `json:"order_ids"`
	}{OrgID: orgID, OrderIDs: orderIDs}

	var out struct {
		Data []billing.TransportOrder `json:"data"`
	}
	if err := c.post(ctx, "/api/v1/billing/orders/lookup", payload, &out); err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}
	return out.Data, nil
}

// Balance returns the carrier's unsettled pallet balance for the given orders
func (c *Client) Balance(ctx context.Context, orgID, carrierID uuid.UUID, orderIDs []uuid.UUID) (int, error) {
	payload := struct {
		OrgID     uuid.UUID   `json:"org_id"`
		CarrierID uuid.UUID   `json:"carrier_id"`
		OrderIDs  []uuid.UUID `json:"order_ids"`
	}{OrgID: orgID, CarrierID: carrierID, OrderIDs: orderIDs}

	var out struct {
		Data struct {
			Balance int `json:"balance"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/api/v1/billing/pallets/balance", payload, &out); err != nil {
		return 0, fmt.Errorf("failed to get pallet balance: %w", err)
	}
	return out.Data.Balance, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("orders: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("orders: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("orders: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("orders: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("orders: failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("orders: HTTP %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("orders: failed to decode response: %w", err)
	}
	return nil
}
