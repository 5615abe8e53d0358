package billing

import (
	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Event types published by the billing aggregates. Delivery (email, webhook)
// is an external responsibility; the engine only emits.
const (
	EventPreInvoiceGenerated         = "billing.pre_invoice.generated"
	EventPreInvoiceSentForValidation = "billing.pre_invoice.sent_for_validation"
	EventDiscrepancyDetected         = "billing.pre_invoice.discrepancy_detected"
	EventPreInvoiceValidated         = "billing.pre_invoice.validated"
	EventPreInvoiceContested         = "billing.pre_invoice.contested"
	EventConflictClosed              = "billing.pre_invoice.conflict_closed"
	EventPreInvoiceFinalized         = "billing.pre_invoice.finalized"
	EventPreInvoiceExported          = "billing.pre_invoice.exported"
	EventPreInvoiceArchived          = "billing.pre_invoice.archived"
	EventPreInvoiceBlocked           = "billing.pre_invoice.blocked"
	EventExportExhausted             = "billing.pre_invoice.export_exhausted"
	EventDisputeResolved             = "billing.dispute.resolved"
)

// PreInvoiceGeneratedEvent is published when aggregation completes
type PreInvoiceGeneratedEvent struct {
	shared.BaseDomainEvent
	PreInvoiceNumber string          `json:"pre_invoice_number"`
	PeriodKey        string          `json:"period_key"`
	LineCount        int             `json:"line_count"`
	SubtotalHT       decimal.Decimal `json:"subtotal_ht"`
}

// NewPreInvoiceGeneratedEvent creates a new PreInvoiceGeneratedEvent
func NewPreInvoiceGeneratedEvent(pi *PreInvoice) *PreInvoiceGeneratedEvent {
	return &PreInvoiceGeneratedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventPreInvoiceGenerated, "PreInvoice", pi.GetID(), pi.OrgID),
		PreInvoiceNumber: pi.PreInvoiceNumber,
		PeriodKey:        pi.Period.Key(),
		LineCount:        len(pi.Lines),
		SubtotalHT:       pi.Totals.SubtotalHT,
	}
}

// PreInvoiceSentForValidationEvent is published when the client must validate
type PreInvoiceSentForValidationEvent struct {
	shared.BaseDomainEvent
	PreInvoiceNumber string `json:"pre_invoice_number"`
}

// NewPreInvoiceSentForValidationEvent creates a new PreInvoiceSentForValidationEvent
func NewPreInvoiceSentForValidationEvent(pi *PreInvoice) *PreInvoiceSentForValidationEvent {
	return &PreInvoiceSentForValidationEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventPreInvoiceSentForValidation, "PreInvoice", pi.GetID(), pi.OrgID),
		PreInvoiceNumber: pi.PreInvoiceNumber,
	}
}

// DiscrepancyDetectedEvent is published when detection finds mismatches
type DiscrepancyDetectedEvent struct {
	shared.BaseDomainEvent
	PreInvoiceNumber string `json:"pre_invoice_number"`
	NewDiscrepancies int    `json:"new_discrepancies"`
}

// NewDiscrepancyDetectedEvent creates a new DiscrepancyDetectedEvent
func NewDiscrepancyDetectedEvent(pi *PreInvoice, count int) *DiscrepancyDetectedEvent {
	return &DiscrepancyDetectedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventDiscrepancyDetected, "PreInvoice", pi.GetID(), pi.OrgID),
		PreInvoiceNumber: pi.PreInvoiceNumber,
		NewDiscrepancies: count,
	}
}

// PreInvoiceValidatedEvent is published on client validation
type PreInvoiceValidatedEvent struct {
	shared.BaseDomainEvent
	PreInvoiceNumber string `json:"pre_invoice_number"`
	ValidatedBy      string `json:"validated_by"`
}

// NewPreInvoiceValidatedEvent creates a new PreInvoiceValidatedEvent
func NewPreInvoiceValidatedEvent(pi *PreInvoice) *PreInvoiceValidatedEvent {
	e := &PreInvoiceValidatedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventPreInvoiceValidated, "PreInvoice", pi.GetID(), pi.OrgID),
		PreInvoiceNumber: pi.PreInvoiceNumber,
	}
	if pi.IndustrialValidation != nil {
		e.ValidatedBy = pi.IndustrialValidation.ValidatedBy
	}
	return e
}

// PreInvoiceContestedEvent is published when a client contests post-validation
type PreInvoiceContestedEvent struct {
	shared.BaseDomainEvent
	PreInvoiceNumber string `json:"pre_invoice_number"`
	Reason           string `json:"reason"`
}

// NewPreInvoiceContestedEvent creates a new PreInvoiceContestedEvent
func NewPreInvoiceContestedEvent(pi *PreInvoice, reason string) *PreInvoiceContestedEvent {
	return &PreInvoiceContestedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventPreInvoiceContested, "PreInvoice", pi.GetID(), pi.OrgID),
		PreInvoiceNumber: pi.PreInvoiceNumber,
		Reason:           reason,
	}
}

// ConflictClosedEvent is published when every dispute on an invoice resolves
type ConflictClosedEvent struct {
	shared.BaseDomainEvent
	PreInvoiceNumber string           `json:"pre_invoice_number"`
	SettledAmount    *decimal.Decimal `json:"settled_amount,omitempty"`
}

// NewConflictClosedEvent creates a new ConflictClosedEvent
func NewConflictClosedEvent(pi *PreInvoice) *ConflictClosedEvent {
	e := &ConflictClosedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventConflictClosed, "PreInvoice", pi.GetID(), pi.OrgID),
		PreInvoiceNumber: pi.PreInvoiceNumber,
	}
	if pi.InvoiceControl != nil {
		e.SettledAmount = pi.InvoiceControl.SettledAmount
	}
	return e
}

// PreInvoiceFinalizedEvent is published when the final invoice is assigned
type PreInvoiceFinalizedEvent struct {
	shared.BaseDomainEvent
	PreInvoiceNumber string          `json:"pre_invoice_number"`
	InvoiceNumber    string          `json:"invoice_number"`
	TotalTTC         decimal.Decimal `json:"total_ttc"`
}

// NewPreInvoiceFinalizedEvent creates a new PreInvoiceFinalizedEvent
func NewPreInvoiceFinalizedEvent(pi *PreInvoice) *PreInvoiceFinalizedEvent {
	e := &PreInvoiceFinalizedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventPreInvoiceFinalized, "PreInvoice", pi.GetID(), pi.OrgID),
		PreInvoiceNumber: pi.PreInvoiceNumber,
		TotalTTC:         pi.Totals.TotalTTC,
	}
	if pi.FinalInvoice != nil {
		e.InvoiceNumber = pi.FinalInvoice.InvoiceNumber
	}
	return e
}

// PreInvoiceExportedEvent is published after ERP acknowledgment
type PreInvoiceExportedEvent struct {
	shared.BaseDomainEvent
	PreInvoiceNumber string `json:"pre_invoice_number"`
	ExternalRef      string `json:"external_ref,omitempty"`
}

// NewPreInvoiceExportedEvent creates a new PreInvoiceExportedEvent
func NewPreInvoiceExportedEvent(pi *PreInvoice) *PreInvoiceExportedEvent {
	e := &PreInvoiceExportedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventPreInvoiceExported, "PreInvoice", pi.GetID(), pi.OrgID),
		PreInvoiceNumber: pi.PreInvoiceNumber,
	}
	if ack := pi.AcknowledgedExport(); ack != nil {
		e.ExternalRef = ack.ExternalRef
	}
	return e
}

// PreInvoiceArchivedEvent is published on entering the terminal state
type PreInvoiceArchivedEvent struct {
	shared.BaseDomainEvent
	PreInvoiceNumber string `json:"pre_invoice_number"`
}

// NewPreInvoiceArchivedEvent creates a new PreInvoiceArchivedEvent
func NewPreInvoiceArchivedEvent(pi *PreInvoice) *PreInvoiceArchivedEvent {
	return &PreInvoiceArchivedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventPreInvoiceArchived, "PreInvoice", pi.GetID(), pi.OrgID),
		PreInvoiceNumber: pi.PreInvoiceNumber,
	}
}

// PreInvoiceBlockedEvent is published each time a block activates
type PreInvoiceBlockedEvent struct {
	shared.BaseDomainEvent
	PreInvoiceNumber string    `json:"pre_invoice_number"`
	BlockType        BlockType `json:"block_type"`
}

// NewPreInvoiceBlockedEvent creates a new PreInvoiceBlockedEvent
func NewPreInvoiceBlockedEvent(pi *PreInvoice, bType BlockType) *PreInvoiceBlockedEvent {
	return &PreInvoiceBlockedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventPreInvoiceBlocked, "PreInvoice", pi.GetID(), pi.OrgID),
		PreInvoiceNumber: pi.PreInvoiceNumber,
		BlockType:        bType,
	}
}

// ExportExhaustedEvent is published when the export retry cap is reached.
// Fatal: an operator must intervene before another attempt is made.
type ExportExhaustedEvent struct {
	shared.BaseDomainEvent
	PreInvoiceNumber string `json:"pre_invoice_number"`
	Attempts         int    `json:"attempts"`
	LastError        string `json:"last_error"`
}

// NewExportExhaustedEvent creates a new ExportExhaustedEvent
func NewExportExhaustedEvent(pi *PreInvoice, attempts int, lastError string) *ExportExhaustedEvent {
	return &ExportExhaustedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventExportExhausted, "PreInvoice", pi.GetID(), pi.OrgID),
		PreInvoiceNumber: pi.PreInvoiceNumber,
		Attempts:         attempts,
		LastError:        lastError,
	}
}

// DisputeResolvedEvent is published when a billing dispute settles
type DisputeResolvedEvent struct {
	shared.BaseDomainEvent
	PreInvoiceID string          `json:"pre_invoice_id"`
	FinalAmount  decimal.Decimal `json:"final_amount"`
}

// NewDisputeResolvedEvent creates a new DisputeResolvedEvent
func NewDisputeResolvedEvent(bd *BillingDispute) *DisputeResolvedEvent {
	e := &DisputeResolvedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventDisputeResolved, "BillingDispute", bd.GetID(), bd.OrgID),
		PreInvoiceID:    bd.PreInvoiceID.String(),
	}
	if bd.Resolution != nil {
		e.FinalAmount = bd.Resolution.FinalAmount
	}
	return e
}
