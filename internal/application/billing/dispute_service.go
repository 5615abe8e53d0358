package billing

import (
	"context"
	"fmt"

	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/freightbill/backend/internal/infrastructure/lock"
	"github.com/freightbill/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DisputeService runs the dispute negotiation workflow. A resolution settles
// the originating discrepancy on the parent pre-invoice; once every
// discrepancy is settled the conflict closes and the settled amounts are
// folded into the invoice control.
type DisputeService struct {
	disputes    billing.DisputeRepository
	preInvoices billing.PreInvoiceRepository
	locks       lock.Manager
	publisher   EventPublisher
	logger      *zap.Logger
}

// NewDisputeService creates a new DisputeService
func NewDisputeService(
	disputes billing.DisputeRepository,
	preInvoices billing.PreInvoiceRepository,
	locks lock.Manager,
	publisher EventPublisher,
	logger *zap.Logger,
) *DisputeService {
	return &DisputeService{
		disputes:    disputes,
		preInvoices: preInvoices,
		locks:       locks,
		publisher:   publisher,
		logger:      logger,
	}
}

// ResolutionRequest is one dispute settlement
type ResolutionRequest struct {
	Type        billing.ResolutionType
	FinalAmount decimal.Decimal
	Rationale   string
	ResolvedBy  string
}

// Resolve settles one dispute and propagates the settlement to the parent
// pre-invoice. When the last open discrepancy resolves, the parent moves to
// conflict_closed.
func (s *DisputeService) Resolve(ctx context.Context, orgID, disputeID uuid.UUID, req ResolutionRequest) (*billing.BillingDispute, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "dispute", "resolve")
	defer span.End()
	telemetry.SetAttributes(span,
		"dispute_id", disputeID.String(),
		"final_amount", req.FinalAmount.String())

	dispute, err := s.disputes.FindByID(ctx, orgID, disputeID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load dispute: %w", err)
	}
	if dispute == nil {
		return nil, shared.ErrNotFound
	}

	if err := dispute.Resolve(req.Type, req.FinalAmount, req.Rationale, req.ResolvedBy); err != nil {
		telemetry.RecordError(span, err)
		return dispute, err
	}
	if err := s.disputes.Save(ctx, dispute); err != nil {
		telemetry.RecordError(span, err)
		return dispute, fmt.Errorf("failed to save dispute: %w", err)
	}
	s.publisher.Publish(ctx, dispute.GetDomainEvents()...)
	dispute.ClearDomainEvents()

	if err := s.settleOnParent(ctx, dispute, req); err != nil {
		telemetry.RecordError(span, err)
		return dispute, err
	}
	s.logger.Info("dispute resolved",
		zap.String("dispute_id", disputeID.String()),
		zap.String("final_amount", req.FinalAmount.String()))
	return dispute, nil
}

// settleOnParent resolves the originating discrepancy under the parent's
// lock and closes the conflict when nothing stays open
func (s *DisputeService) settleOnParent(ctx context.Context, dispute *billing.BillingDispute, req ResolutionRequest) error {
	release, err := s.locks.Acquire(ctx, lockKey(dispute.PreInvoiceID.String()))
	if err != nil {
		return fmt.Errorf("failed to acquire pre-invoice lock: %w", err)
	}
	defer release()

	pi, err := s.preInvoices.FindByID(ctx, dispute.OrgID, dispute.PreInvoiceID)
	if err != nil {
		return fmt.Errorf("failed to load pre-invoice: %w", err)
	}
	if pi == nil {
		return shared.ErrNotFound
	}

	if err := pi.ResolveDiscrepancy(dispute.DiscrepancyID, req.FinalAmount, req.Rationale, req.ResolvedBy); err != nil {
		return err
	}

	if len(pi.UnresolvedDiscrepancies()) == 0 {
		if err := pi.CloseConflict(settledAmount(pi), req.ResolvedBy); err != nil {
			return err
		}
	}

	if err := s.preInvoices.Save(ctx, pi); err != nil {
		return fmt.Errorf("failed to save pre-invoice: %w", err)
	}
	s.publisher.Publish(ctx, pi.GetDomainEvents()...)
	pi.ClearDomainEvents()
	return nil
}

// settledAmount derives the settled invoice total from the resolved
// discrepancies. The global resolution wins when present; category
// settlements are informational breakdowns of the same gap.
func settledAmount(pi *billing.PreInvoice) decimal.Decimal {
	settled := pi.Totals.SubtotalHT
	for _, d := range pi.Discrepancies {
		if d.Type == billing.DiscrepancyPriceGlobal && d.ResolvedAmount != nil {
			settled = *d.ResolvedAmount
		}
	}
	return settled
}

// AddMessage appends one negotiation exchange
func (s *DisputeService) AddMessage(ctx context.Context, orgID, disputeID uuid.UUID, author, party, body string, proposal *decimal.Decimal) (*billing.BillingDispute, error) {
	dispute, err := s.disputes.FindByID(ctx, orgID, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute == nil {
		return nil, shared.ErrNotFound
	}
	if err := dispute.AddMessage(author, party, body, proposal); err != nil {
		return dispute, err
	}
	if err := s.disputes.Save(ctx, dispute); err != nil {
		return dispute, fmt.Errorf("failed to save dispute: %w", err)
	}
	return dispute, nil
}

// Escalate hands the dispute to manual arbitration
func (s *DisputeService) Escalate(ctx context.Context, orgID, disputeID uuid.UUID, reason, by string) (*billing.BillingDispute, error) {
	dispute, err := s.disputes.FindByID(ctx, orgID, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute == nil {
		return nil, shared.ErrNotFound
	}
	if err := dispute.Escalate(reason, by); err != nil {
		return dispute, err
	}
	if err := s.disputes.Save(ctx, dispute); err != nil {
		return dispute, fmt.Errorf("failed to save dispute: %w", err)
	}
	return dispute, nil
}

// Get loads one dispute
func (s *DisputeService) Get(ctx context.Context, orgID, disputeID uuid.UUID) (*billing.BillingDispute, error) {
	dispute, err := s.disputes.FindByID(ctx, orgID, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute == nil {
		return nil, shared.ErrNotFound
	}
	return dispute, nil
}

// ListByPreInvoice returns every dispute of one pre-invoice
func (s *DisputeService) ListByPreInvoice(ctx context.Context, orgID, preInvoiceID uuid.UUID) ([]billing.BillingDispute, error) {
	return s.disputes.ListByPreInvoice(ctx, orgID, preInvoiceID)
}

// List returns a filtered page of disputes
func (s *DisputeService) List(ctx context.Context, orgID uuid.UUID, filter billing.DisputeFilter) (*shared.Paginated[billing.BillingDispute], error) {
	return s.disputes.List(ctx, orgID, filter)
}
