package billing

import (
	"time"

	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DisputeStatus tracks a billing dispute through its negotiation lifecycle
type DisputeStatus string

const (
	DisputeStatusOpen           DisputeStatus = "OPEN"
	DisputeStatusPendingCarrier DisputeStatus = "PENDING_CARRIER"
	DisputeStatusPendingClient  DisputeStatus = "PENDING_CLIENT"
	DisputeStatusNegotiation    DisputeStatus = "NEGOTIATION"
	DisputeStatusResolved       DisputeStatus = "RESOLVED"
	DisputeStatusEscalated      DisputeStatus = "ESCALATED"
	DisputeStatusClosed         DisputeStatus = "CLOSED"
)

// IsValid checks if the status is a valid DisputeStatus
func (s DisputeStatus) IsValid() bool {
	switch s {
	case DisputeStatusOpen, DisputeStatusPendingCarrier, DisputeStatusPendingClient,
		DisputeStatusNegotiation, DisputeStatusResolved, DisputeStatusEscalated, DisputeStatusClosed:
		return true
	}
	return false
}

// IsTerminal returns true when the dispute admits no further negotiation
func (s DisputeStatus) IsTerminal() bool {
	return s == DisputeStatusResolved || s == DisputeStatusClosed
}

// ResolutionType records how a dispute was settled
type ResolutionType string

const (
	ResolutionCarrierAccepted ResolutionType = "CARRIER_ACCEPTED"
	ResolutionClientAccepted  ResolutionType = "CLIENT_ACCEPTED"
	ResolutionSplit           ResolutionType = "SPLIT"
	ResolutionArbitrated      ResolutionType = "ARBITRATED"
	ResolutionWithdrawn       ResolutionType = "WITHDRAWN"
)

// IsValid checks if the value is a valid ResolutionType
func (t ResolutionType) IsValid() bool {
	switch t {
	case ResolutionCarrierAccepted, ResolutionClientAccepted, ResolutionSplit,
		ResolutionArbitrated, ResolutionWithdrawn:
		return true
	}
	return false
}

// DisputeResolution is the terminal outcome of a dispute
type DisputeResolution struct {
	Type        ResolutionType  `json:"type"`
	FinalAmount decimal.Decimal `json:"final_amount"`
	Rationale   string          `json:"rationale"`
	ResolvedBy  string          `json:"resolved_by"`
	ResolvedAt  time.Time       `json:"resolved_at"`
}

// DisputeMessage is one exchange in the negotiation thread
type DisputeMessage struct {
	ID        uuid.UUID        `json:"id"`
	Author    string           `json:"author"`
	Party     string           `json:"party"` // carrier or client
	Body      string           `json:"body"`
	Proposal  *decimal.Decimal `json:"proposal,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// BillingDispute is a tracked negotiation opened when a discrepancy exceeds
// automatic tolerance. Its resolution feeds back into the invoice control of
// the parent pre-invoice; it never rewrites the computed lines.
type BillingDispute struct {
	shared.OrgAggregateRoot
	PreInvoiceID  uuid.UUID          `json:"pre_invoice_id"`
	DiscrepancyID uuid.UUID          `json:"discrepancy_id"`
	CarrierID     uuid.UUID          `json:"carrier_id"`
	IndustrialID  uuid.UUID          `json:"industrial_id"`
	Type          DiscrepancyType    `json:"type"`
	CarrierAmount decimal.Decimal    `json:"carrier_amount"` // amount the carrier claims
	ClientAmount  decimal.Decimal    `json:"client_amount"`  // amount the client computed
	Status        DisputeStatus      `json:"status"`
	Messages      []DisputeMessage   `json:"messages"`
	Resolution    *DisputeResolution `json:"resolution,omitempty"`
}

// NewBillingDispute opens a dispute for one discrepancy
func NewBillingDispute(orgID, preInvoiceID uuid.UUID, d Discrepancy, carrierID, industrialID uuid.UUID) *BillingDispute {
	return &BillingDispute{
		OrgAggregateRoot: shared.NewOrgAggregateRoot(orgID),
		PreInvoiceID:     preInvoiceID,
		DiscrepancyID:    d.ID,
		CarrierID:        carrierID,
		IndustrialID:     industrialID,
		Type:             d.Type,
		CarrierAmount:    d.ActualAmount,
		ClientAmount:     d.ExpectedAmount,
		Status:           DisputeStatusOpen,
		Messages:         []DisputeMessage{},
	}
}

// AddMessage appends one negotiation exchange and moves the dispute into
// NEGOTIATION when both parties have spoken
func (bd *BillingDispute) AddMessage(author, party, body string, proposal *decimal.Decimal) error {
	if bd.Status.IsTerminal() {
		return shared.NewDomainError("DISPUTE_CLOSED", "Dispute is already settled")
	}
	bd.Messages = append(bd.Messages, DisputeMessage{
		ID:        uuid.New(),
		Author:    author,
		Party:     party,
		Body:      body,
		Proposal:  proposal,
		CreatedAt: time.Now(),
	})
	if bd.Status == DisputeStatusOpen {
		bd.Status = DisputeStatusNegotiation
	}
	bd.IncrementVersion()
	return nil
}

// AwaitCarrier marks the dispute waiting on the carrier
func (bd *BillingDispute) AwaitCarrier() error {
	return bd.await(DisputeStatusPendingCarrier)
}

// AwaitClient marks the dispute waiting on the client
func (bd *BillingDispute) AwaitClient() error {
	return bd.await(DisputeStatusPendingClient)
}

func (bd *BillingDispute) await(next DisputeStatus) error {
	if bd.Status.IsTerminal() || bd.Status == DisputeStatusEscalated {
		return shared.NewDomainError("DISPUTE_CLOSED", "Dispute no longer accepts party actions")
	}
	bd.Status = next
	bd.IncrementVersion()
	return nil
}

// Escalate hands the dispute to manual arbitration
func (bd *BillingDispute) Escalate(reason, by string) error {
	if bd.Status.IsTerminal() {
		return shared.NewDomainError("DISPUTE_CLOSED", "Dispute is already settled")
	}
	bd.Status = DisputeStatusEscalated
	bd.Messages = append(bd.Messages, DisputeMessage{
		ID:        uuid.New(),
		Author:    by,
		Party:     "operator",
		Body:      reason,
		CreatedAt: time.Now(),
	})
	bd.IncrementVersion()
	return nil
}

// Resolve settles the dispute with a final amount. Terminal.
func (bd *BillingDispute) Resolve(rType ResolutionType, finalAmount decimal.Decimal, rationale, resolvedBy string) error {
	if bd.Status.IsTerminal() {
		return shared.NewDomainError("DISPUTE_CLOSED", "Dispute is already settled")
	}
	if !rType.IsValid() {
		return shared.NewDomainError("INVALID_RESOLUTION_TYPE", "Unknown resolution type")
	}
	if finalAmount.IsNegative() {
		return shared.NewDomainError("INVALID_AMOUNT", "Final amount cannot be negative")
	}
	bd.Status = DisputeStatusResolved
	bd.Resolution = &DisputeResolution{
		Type:        rType,
		FinalAmount: finalAmount,
		Rationale:   rationale,
		ResolvedBy:  resolvedBy,
		ResolvedAt:  time.Now(),
	}
	bd.IncrementVersion()
	bd.AddDomainEvent(NewDisputeResolvedEvent(bd))
	return nil
}

// Close withdraws the dispute without a settlement amount change
func (bd *BillingDispute) Close(rationale, by string) error {
	if bd.Status.IsTerminal() {
		return shared.NewDomainError("DISPUTE_CLOSED", "Dispute is already settled")
	}
	bd.Status = DisputeStatusClosed
	bd.Resolution = &DisputeResolution{
		Type:        ResolutionWithdrawn,
		FinalAmount: bd.ClientAmount,
		Rationale:   rationale,
		ResolvedBy:  by,
		ResolvedAt:  time.Now(),
	}
	bd.IncrementVersion()
	return nil
}
