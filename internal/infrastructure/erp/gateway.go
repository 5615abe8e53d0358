package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appbilling "github.com/freightbill/backend/internal/application/billing"
	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxResponseSize = 1 * 1024 * 1024 // 1MB

// HTTPGateway pushes finalized invoices to the ERP connector service. One
// connector fronts all target systems; the target is part of the path, the
// wire payload is the connector's generic invoice format.
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ appbilling.ERPGateway = (*HTTPGateway)(nil)

// NewHTTPGateway creates a new ERP connector gateway
func NewHTTPGateway(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// invoicePayload is the connector's generic invoice format
type invoicePayload struct {
	InvoiceNumber    string          `json:"invoice_number"`
	PreInvoiceNumber string          `json:"pre_invoice_number"`
	OrgID            uuid.UUID       `json:"org_id"`
	CarrierID        uuid.UUID       `json:"carrier_id"`
	CarrierName      string          `json:"carrier_name"`
	IndustrialID     uuid.UUID       `json:"industrial_id"`
	IndustrialName   string          `json:"industrial_name"`
	PeriodKey        string          `json:"period_key"`
	Currency         string          `json:"currency"`
	SubtotalHT       decimal.Decimal `json:"subtotal_ht"`
	TVAAmount        decimal.Decimal `json:"tva_amount"`
	TotalTTC         decimal.Decimal `json:"total_ttc"`
	LineCount        int             `json:"line_count"`
	PaymentTermsDays int             `json:"payment_terms_days,omitempty"`
}

type exportResponse struct {
	Reference string `json:"reference"`
}

// Export pushes the invoice to the target system and returns the external
// reference together with the raw acknowledgment payload.
// Amounts go out rounded to cents in the invoice currency.
func (g *HTTPGateway) Export(ctx context.Context, pi *billing.PreInvoice, target billing.ERPSystem) (string, string, error) {
	subtotal := pi.GetSubtotalHTMoney().Round(2)
	payload := invoicePayload{
		PreInvoiceNumber: pi.PreInvoiceNumber,
		OrgID:            pi.OrgID,
		CarrierID:        pi.CarrierID,
		CarrierName:      pi.CarrierName,
		IndustrialID:     pi.IndustrialID,
		IndustrialName:   pi.IndustrialName,
		PeriodKey:        pi.Period.Key(),
		Currency:         string(subtotal.Currency()),
		SubtotalHT:       subtotal.Amount(),
		TVAAmount:        pi.GetTVAAmountMoney().Round(2).Amount(),
		TotalTTC:         pi.GetTotalTTCMoney().Round(2).Amount(),
		LineCount:        len(pi.Lines),
	}
	if pi.FinalInvoice != nil {
		payload.InvoiceNumber = pi.FinalInvoice.InvoiceNumber
	}
	if pi.Payment != nil {
		payload.PaymentTermsDays = pi.Payment.TermsDays
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("erp: failed to encode invoice: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/%s/invoices", g.baseURL, strings.ToLower(string(target)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("erp: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("erp: request failed: %w", err)
	}
	defer resp.Body.Close()

	ack, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", "", fmt.Errorf("erp: failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("erp: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(ack)))
	}

	var out exportResponse
	if err := json.Unmarshal(ack, &out); err != nil {
		return "", "", fmt.Errorf("erp: failed to decode response: %w", err)
	}
	if out.Reference == "" {
		return "", "", fmt.Errorf("erp: response carries no reference")
	}

	g.logger.Info("invoice exported",
		zap.String("invoice_number", payload.InvoiceNumber),
		zap.String("target", string(target)),
		zap.String("reference", out.Reference),
	)
	return out.Reference, string(ack), nil
}
