package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunMonthlyRequest triggers the monthly aggregation run for one period
type RunMonthlyRequest struct {
	Year  int  `json:"year" binding:"required,min=2000,max=2200"`
	Month int  `json:"month" binding:"required,min=1,max=12"`
	Force bool `json:"force"`
}

// LineAdjustmentRequest is one signed correction applied at validation
type LineAdjustmentRequest struct {
	OrderID string          `json:"order_id" binding:"required,uuid"`
	Label   string          `json:"label" binding:"required"`
	Amount  decimal.Decimal `json:"amount" binding:"required"`
	Reason  string          `json:"reason" binding:"required"`
}

// ValidateRequest records the client's acceptance of a pre-invoice
type ValidateRequest struct {
	Adjustments []LineAdjustmentRequest `json:"adjustments"`
	Comment     string                  `json:"comment"`
}

// ContestRequest records a post-validation client contest
type ContestRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// CarrierBreakdownRequest is the carrier's optional per-category split
type CarrierBreakdownRequest struct {
	Distance    *decimal.Decimal `json:"distance"`
	Options     *decimal.Decimal `json:"options"`
	Pallets     *decimal.Decimal `json:"pallets"`
	WaitingTime *decimal.Decimal `json:"waiting_time"`
}

// UploadCarrierInvoiceRequest attaches the carrier-submitted invoice
type UploadCarrierInvoiceRequest struct {
	InvoiceNumber string                   `json:"invoice_number" binding:"required"`
	InvoiceDate   time.Time                `json:"invoice_date" binding:"required"`
	InvoiceAmount decimal.Decimal          `json:"invoice_amount" binding:"required"`
	Breakdown     *CarrierBreakdownRequest `json:"breakdown"`
	DocumentRef   string                   `json:"document_ref"`
}

// RecordPaymentRequest marks the finalized invoice paid. PaidAt defaults to
// now when omitted.
type RecordPaymentRequest struct {
	PaidAt *time.Time `json:"paid_at"`
}

// ForceBlockRequest places a manual hold on a pre-invoice
type ForceBlockRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// LiftBlockRequest releases one block with an audit reason
type LiftBlockRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ListPreInvoicesRequest filters the pre-invoice listing
type ListPreInvoicesRequest struct {
	ListRequest
	Status       string `form:"status"`
	CarrierID    string `form:"carrier_id" binding:"omitempty,uuid"`
	IndustrialID string `form:"industrial_id" binding:"omitempty,uuid"`
	Period       string `form:"period"`
	Blocked      *bool  `form:"blocked"`
}

// ListDisputesRequest filters the dispute listing
type ListDisputesRequest struct {
	ListRequest
	Status       string `form:"status"`
	PreInvoiceID string `form:"pre_invoice_id" binding:"omitempty,uuid"`
}

// ResolveDisputeRequest settles a dispute
type ResolveDisputeRequest struct {
	Type        string          `json:"type" binding:"required,oneof=CARRIER_ACCEPTED CLIENT_ACCEPTED SPLIT ARBITRATED WITHDRAWN"`
	FinalAmount decimal.Decimal `json:"final_amount" binding:"required"`
	Rationale   string          `json:"rationale" binding:"required"`
}

// DisputeMessageRequest appends one negotiation message
type DisputeMessageRequest struct {
	Party    string           `json:"party" binding:"required,oneof=carrier client"`
	Body     string           `json:"body" binding:"required"`
	Proposal *decimal.Decimal `json:"proposal"`
}

// EscalateDisputeRequest escalates a stalled dispute
type EscalateDisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}
