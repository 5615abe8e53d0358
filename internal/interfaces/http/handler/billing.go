package handler

import (
	"time"

	appbilling "github.com/freightbill/backend/internal/application/billing"
	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/freightbill/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// BillingHandler exposes the pre-invoice lifecycle over HTTP
type BillingHandler struct {
	BaseHandler
	aggregation    *appbilling.AggregationService
	reconciliation *appbilling.ReconciliationService
	blocks         *appbilling.BlockService
	exports        *appbilling.ExportService
}

// NewBillingHandler creates a new BillingHandler
func NewBillingHandler(
	aggregation *appbilling.AggregationService,
	reconciliation *appbilling.ReconciliationService,
	blocks *appbilling.BlockService,
	exports *appbilling.ExportService,
) *BillingHandler {
	return &BillingHandler{
		aggregation:    aggregation,
		reconciliation: reconciliation,
		blocks:         blocks,
		exports:        exports,
	}
}

// RunMonthly triggers the monthly aggregation run
// POST /api/v1/billing/runs
func (h *BillingHandler) RunMonthly(c *gin.Context) {
	orgID, err := getOrgID(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var req dto.RunMonthlyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	period := billing.NewPeriod(req.Year, time.Month(req.Month))
	report, err := h.aggregation.RunMonthly(c.Request.Context(), orgID, period, req.Force)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// List returns a filtered page of pre-invoices
// GET /api/v1/billing/pre-invoices
func (h *BillingHandler) List(c *gin.Context) {
	orgID, err := getOrgID(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var req dto.ListPreInvoicesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	req.Normalize()

	filter := billing.PreInvoiceFilter{Filter: req.ToFilter()}
	if req.Status != "" {
		status := billing.PreInvoiceStatus(req.Status)
		if !status.IsValid() {
			h.BadRequest(c, "Invalid status: "+req.Status)
			return
		}
		filter.Status = &status
	}
	if req.CarrierID != "" {
		id, _ := uuid.Parse(req.CarrierID)
		filter.CarrierID = &id
	}
	if req.IndustrialID != "" {
		id, _ := uuid.Parse(req.IndustrialID)
		filter.IndustrialID = &id
	}
	if req.Period != "" {
		filter.PeriodKey = &req.Period
	}
	filter.Blocked = req.Blocked

	page, err := h.reconciliation.List(c.Request.Context(), orgID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// Get returns one pre-invoice aggregate
// GET /api/v1/billing/pre-invoices/:id
func (h *BillingHandler) Get(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}
	pi, err := h.reconciliation.Get(c.Request.Context(), orgID, id)
	h.respond(c, pi, err)
}

// Blocks returns the full block list of one pre-invoice, lifted included
// GET /api/v1/billing/pre-invoices/:id/blocks
func (h *BillingHandler) Blocks(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}
	pi, err := h.reconciliation.Get(c.Request.Context(), orgID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, pi.Blocks)
}

// Exports returns every ERP export attempt of one pre-invoice
// GET /api/v1/billing/pre-invoices/:id/exports
func (h *BillingHandler) Exports(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}
	pi, err := h.reconciliation.Get(c.Request.Context(), orgID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, pi.Exports)
}

// History returns the audit trail of one pre-invoice
// GET /api/v1/billing/pre-invoices/:id/history
func (h *BillingHandler) History(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}
	pi, err := h.reconciliation.Get(c.Request.Context(), orgID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, pi.History)
}

// Validate records the client's acceptance
// POST /api/v1/billing/pre-invoices/:id/validate
func (h *BillingHandler) Validate(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}

	var req dto.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	adjustments := make([]billing.LineAdjustment, 0, len(req.Adjustments))
	for _, a := range req.Adjustments {
		orderID, err := uuid.Parse(a.OrderID)
		if err != nil {
			h.BadRequest(c, "Invalid order_id: "+a.OrderID)
			return
		}
		adjustments = append(adjustments, billing.LineAdjustment{
			OrderID: orderID,
			Label:   a.Label,
			Amount:  a.Amount,
			Reason:  a.Reason,
		})
	}

	pi, err := h.reconciliation.Validate(c.Request.Context(), orgID, id, getActor(c), adjustments, req.Comment)
	h.respond(c, pi, err)
}

// Contest records a post-validation client contest
// POST /api/v1/billing/pre-invoices/:id/contest
func (h *BillingHandler) Contest(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}

	var req dto.ContestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	pi, err := h.reconciliation.Contest(c.Request.Context(), orgID, id, req.Reason, getActor(c))
	h.respond(c, pi, err)
}

// UploadCarrierInvoice attaches the carrier invoice and runs discrepancy
// detection
// POST /api/v1/billing/pre-invoices/:id/carrier-invoice
func (h *BillingHandler) UploadCarrierInvoice(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}

	var req dto.UploadCarrierInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	invoice := billing.CarrierInvoice{
		InvoiceNumber: req.InvoiceNumber,
		InvoiceDate:   req.InvoiceDate,
		InvoiceAmount: req.InvoiceAmount,
		DocumentRef:   req.DocumentRef,
	}
	if req.Breakdown != nil {
		invoice.Breakdown = &billing.CarrierBreakdown{
			Distance:    req.Breakdown.Distance,
			Options:     req.Breakdown.Options,
			Pallets:     req.Breakdown.Pallets,
			WaitingTime: req.Breakdown.WaitingTime,
		}
	}

	pi, err := h.reconciliation.UploadCarrierInvoice(c.Request.Context(), orgID, id, invoice, getActor(c))
	h.respond(c, pi, err)
}

// Finalize assigns the final invoice number
// POST /api/v1/billing/pre-invoices/:id/finalize
func (h *BillingHandler) Finalize(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}
	pi, err := h.reconciliation.Finalize(c.Request.Context(), orgID, id, getActor(c))
	h.respond(c, pi, err)
}

// RecordPayment marks the finalized invoice paid
// POST /api/v1/billing/pre-invoices/:id/payment
func (h *BillingHandler) RecordPayment(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}

	var req dto.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	paidAt := time.Now().UTC()
	if req.PaidAt != nil {
		paidAt = *req.PaidAt
	}

	pi, err := h.reconciliation.RecordPayment(c.Request.Context(), orgID, id, paidAt, getActor(c))
	h.respond(c, pi, err)
}

// Export pushes the finalized invoice to the ERP
// POST /api/v1/billing/pre-invoices/:id/export
func (h *BillingHandler) Export(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}
	pi, err := h.exports.Export(c.Request.Context(), orgID, id)
	h.respond(c, pi, err)
}

// ForceBlock places a manual hold
// POST /api/v1/billing/pre-invoices/:id/blocks
func (h *BillingHandler) ForceBlock(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}

	var req dto.ForceBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	pi, err := h.blocks.ForceBlock(c.Request.Context(), orgID, id, req.Reason, getActor(c))
	h.respond(c, pi, err)
}

// LiftBlock releases one block
// DELETE /api/v1/billing/pre-invoices/:id/blocks/:blockId
func (h *BillingHandler) LiftBlock(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}
	blockID, err := uuid.Parse(c.Param("blockId"))
	if err != nil {
		h.BadRequest(c, "Invalid block ID")
		return
	}

	var req dto.LiftBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	pi, err := h.blocks.LiftBlock(c.Request.Context(), orgID, id, blockID, getActor(c), req.Reason)
	h.respond(c, pi, err)
}

// ReevaluateBlocks refreshes automatic blocks against current facts
// POST /api/v1/billing/pre-invoices/:id/blocks/reevaluate
func (h *BillingHandler) ReevaluateBlocks(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}
	pi, err := h.blocks.Reevaluate(c.Request.Context(), orgID, id)
	h.respond(c, pi, err)
}

// respond sends the aggregate on success; on rejection the authoritative
// state rides in the error details so stale callers can reconcile.
func (h *BillingHandler) respond(c *gin.Context, pi *billing.PreInvoice, err error) {
	if err != nil {
		if pi != nil {
			h.HandleErrorWithState(c, err, pi)
		} else {
			h.HandleError(c, err)
		}
		return
	}
	h.Success(c, pi)
}

// scope resolves the organization and the pre-invoice ID from the request
func (h *BillingHandler) scope(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	orgID, err := getOrgID(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid pre-invoice ID")
		return uuid.Nil, uuid.Nil, false
	}
	return orgID, id, true
}
