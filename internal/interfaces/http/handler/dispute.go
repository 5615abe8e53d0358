package handler

import (
	appbilling "github.com/freightbill/backend/internal/application/billing"
	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/freightbill/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DisputeHandler exposes dispute negotiation and resolution over HTTP
type DisputeHandler struct {
	BaseHandler
	disputes *appbilling.DisputeService
}

// NewDisputeHandler creates a new DisputeHandler
func NewDisputeHandler(disputes *appbilling.DisputeService) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

// List returns a filtered page of disputes
// GET /api/v1/billing/disputes
func (h *DisputeHandler) List(c *gin.Context) {
	orgID, err := getOrgID(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var req dto.ListDisputesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	req.Normalize()

	filter := billing.DisputeFilter{Filter: req.ToFilter()}
	if req.Status != "" {
		status := billing.DisputeStatus(req.Status)
		if !status.IsValid() {
			h.BadRequest(c, "Invalid status: "+req.Status)
			return
		}
		filter.Status = &status
	}
	if req.PreInvoiceID != "" {
		id, _ := uuid.Parse(req.PreInvoiceID)
		filter.PreInvoiceID = &id
	}

	page, err := h.disputes.List(c.Request.Context(), orgID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// Get returns one dispute
// GET /api/v1/billing/disputes/:id
func (h *DisputeHandler) Get(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}
	dispute, err := h.disputes.Get(c.Request.Context(), orgID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dispute)
}

// ListByPreInvoice returns every dispute of one pre-invoice
// GET /api/v1/billing/pre-invoices/:id/disputes
func (h *DisputeHandler) ListByPreInvoice(c *gin.Context) {
	orgID, err := getOrgID(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}
	preInvoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid pre-invoice ID")
		return
	}

	disputes, err := h.disputes.ListByPreInvoice(c.Request.Context(), orgID, preInvoiceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, disputes)
}

// AddMessage appends one negotiation message
// POST /api/v1/billing/disputes/:id/messages
func (h *DisputeHandler) AddMessage(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}

	var req dto.DisputeMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	dispute, err := h.disputes.AddMessage(c.Request.Context(), orgID, id, getActor(c), req.Party, req.Body, req.Proposal)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dispute)
}

// Resolve settles a dispute and propagates the settlement to the parent
// pre-invoice
// POST /api/v1/billing/disputes/:id/resolve
func (h *DisputeHandler) Resolve(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}

	var req dto.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	dispute, err := h.disputes.Resolve(c.Request.Context(), orgID, id, appbilling.ResolutionRequest{
		Type:        billing.ResolutionType(req.Type),
		FinalAmount: req.FinalAmount,
		Rationale:   req.Rationale,
		ResolvedBy:  getActor(c),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dispute)
}

// Escalate escalates a stalled dispute
// POST /api/v1/billing/disputes/:id/escalate
func (h *DisputeHandler) Escalate(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}

	var req dto.EscalateDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	dispute, err := h.disputes.Escalate(c.Request.Context(), orgID, id, req.Reason, getActor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dispute)
}

func (h *DisputeHandler) scope(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	orgID, err := getOrgID(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid dispute ID")
		return uuid.Nil, uuid.Nil, false
	}
	return orgID, id, true
}
