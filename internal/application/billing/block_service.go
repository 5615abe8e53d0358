package billing

import (
	"context"
	"fmt"

	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/freightbill/backend/internal/infrastructure/lock"
	"github.com/freightbill/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BlockService exposes manual holds and on-demand blocking re-evaluation.
// Automatic rules run whenever an upstream fact changes; manual blocks exist
// only through explicit operator action.
type BlockService struct {
	preInvoices billing.PreInvoiceRepository
	orders      billing.OrderSource
	vigilance   billing.VigilanceSource
	pallets     billing.PalletLedger
	blocking    *billing.BlockingEngine
	locks       lock.Manager
	publisher   EventPublisher
	logger      *zap.Logger
}

// NewBlockService creates a new BlockService
func NewBlockService(
	preInvoices billing.PreInvoiceRepository,
	orders billing.OrderSource,
	vigilance billing.VigilanceSource,
	pallets billing.PalletLedger,
	locks lock.Manager,
	publisher EventPublisher,
	logger *zap.Logger,
	settings Settings,
) *BlockService {
	return &BlockService{
		preInvoices: preInvoices,
		orders:      orders,
		vigilance:   vigilance,
		pallets:     pallets,
		blocking:    billing.NewBlockingEngine(billing.BlockingPolicy{LateThresholdHours: settings.LateThresholdHours}),
		locks:       locks,
		publisher:   publisher,
		logger:      logger,
	}
}

func (s *BlockService) withPreInvoice(ctx context.Context, orgID, id uuid.UUID, fn func(pi *billing.PreInvoice) error) (*billing.PreInvoice, error) {
	release, err := s.locks.Acquire(ctx, lockKey(id.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire pre-invoice lock: %w", err)
	}
	defer release()

	pi, err := s.preInvoices.FindByID(ctx, orgID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load pre-invoice: %w", err)
	}
	if pi == nil {
		return nil, shared.ErrNotFound
	}
	if err := fn(pi); err != nil {
		return pi, err
	}
	if err := s.preInvoices.Save(ctx, pi); err != nil {
		return pi, fmt.Errorf("failed to save pre-invoice: %w", err)
	}
	s.publisher.Publish(ctx, pi.GetDomainEvents()...)
	pi.ClearDomainEvents()
	return pi, nil
}

// ForceBlock applies a manual hold
func (s *BlockService) ForceBlock(ctx context.Context, orgID, preInvoiceID uuid.UUID, reason, actor string) (*billing.PreInvoice, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "block", "force")
	defer span.End()
	telemetry.SetAttribute(span, "pre_invoice_id", preInvoiceID.String())

	pi, err := s.withPreInvoice(ctx, orgID, preInvoiceID, func(pi *billing.PreInvoice) error {
		_, err := pi.ApplyBlock(billing.BlockManual, reason, actor, nil)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return pi, err
	}
	s.logger.Info("manual block applied",
		zap.String("pre_invoice", pi.PreInvoiceNumber),
		zap.String("reason", reason))
	return pi, nil
}

// LiftBlock lifts one block by ID, keeping it as history
func (s *BlockService) LiftBlock(ctx context.Context, orgID, preInvoiceID, blockID uuid.UUID, actor, reason string) (*billing.PreInvoice, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "block", "lift")
	defer span.End()
	telemetry.SetAttribute(span, "block_id", blockID.String())

	pi, err := s.withPreInvoice(ctx, orgID, preInvoiceID, func(pi *billing.PreInvoice) error {
		return pi.LiftBlock(blockID, actor, reason)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return pi, err
	}
	s.logger.Info("block lifted",
		zap.String("pre_invoice", pi.PreInvoiceNumber),
		zap.String("block_id", blockID.String()))
	return pi, nil
}

// Reevaluate re-runs every automatic rule against fresh upstream facts.
// Called when a document arrives, vigilance refreshes or pallets settle.
func (s *BlockService) Reevaluate(ctx context.Context, orgID, preInvoiceID uuid.UUID) (*billing.PreInvoice, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "block", "reevaluate")
	defer span.End()
	telemetry.SetAttribute(span, "pre_invoice_id", preInvoiceID.String())

	pi, err := s.withPreInvoice(ctx, orgID, preInvoiceID, func(pi *billing.PreInvoice) error {
		facts, err := s.assembleFacts(ctx, pi)
		if err != nil {
			return err
		}
		applied, lifted := s.blocking.Evaluate(pi, facts)
		telemetry.SetAttributes(span, "applied", applied, "lifted", lifted)
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return pi, err
	}
	return pi, nil
}

// assembleFacts gathers the current upstream facts for the invoice's lines
func (s *BlockService) assembleFacts(ctx context.Context, pi *billing.PreInvoice) (billing.BlockingFacts, error) {
	orderIDs := make([]uuid.UUID, 0, len(pi.Lines))
	for _, line := range pi.Lines {
		orderIDs = append(orderIDs, line.OrderID)
	}

	orders, err := s.orders.GetOrders(ctx, pi.OrgID, orderIDs)
	if err != nil {
		return billing.BlockingFacts{}, fmt.Errorf("failed to load orders: %w", err)
	}
	facts := billing.BlockingFacts{Orders: orders}

	if v, err := s.vigilance.GetCarrierVigilance(ctx, pi.OrgID, pi.CarrierID); err != nil {
		s.logger.Warn("vigilance lookup failed, skipping vigilance rule", zap.Error(err))
	} else {
		facts.Vigilance = v
	}
	if balance, err := s.pallets.Balance(ctx, pi.OrgID, pi.CarrierID, orderIDs); err != nil {
		s.logger.Warn("pallet balance lookup failed, skipping pallets rule", zap.Error(err))
	} else {
		facts.PalletBalance = balance
	}
	return facts, nil
}
