package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/freightbill/backend/internal/domain/tariff"
	"github.com/freightbill/backend/internal/infrastructure/lock"
	"github.com/freightbill/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReconciliationService drives the pre-invoice lifecycle from carrier and
// client actions: carrier invoice upload with discrepancy detection, client
// validation, contests and finalization. Every action returns the current
// aggregate even when rejected, so the caller can reconcile its view.
type ReconciliationService struct {
	preInvoices billing.PreInvoiceRepository
	disputes    billing.DisputeRepository
	resolver    *tariff.Resolver
	detector    *billing.Detector
	locks       lock.Manager
	publisher   EventPublisher
	logger      *zap.Logger
	settings    Settings
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(
	preInvoices billing.PreInvoiceRepository,
	disputes billing.DisputeRepository,
	resolver *tariff.Resolver,
	locks lock.Manager,
	publisher EventPublisher,
	logger *zap.Logger,
	settings Settings,
) *ReconciliationService {
	return &ReconciliationService{
		preInvoices: preInvoices,
		disputes:    disputes,
		resolver:    resolver,
		detector:    billing.NewDetector(settings.TolerancePercent),
		locks:       locks,
		publisher:   publisher,
		logger:      logger,
		settings:    settings,
	}
}

// withPreInvoice runs fn against the locked, freshly loaded aggregate and
// saves it when fn succeeds. The lock covers the whole read-modify-write.
// The aggregate is returned in both outcomes so rejected actions still carry
// the authoritative state.
func (s *ReconciliationService) withPreInvoice(ctx context.Context, orgID, id uuid.UUID, fn func(pi *billing.PreInvoice) error) (*billing.PreInvoice, error) {
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

// Validate records the client's acceptance, optionally with line adjustments
func (s *ReconciliationService) Validate(ctx context.Context, orgID, preInvoiceID uuid.UUID, validatedBy string, adjustments []billing.LineAdjustment, comment string) (*billing.PreInvoice, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "validate")
	defer span.End()
	telemetry.SetAttribute(span, "pre_invoice_id", preInvoiceID.String())

	pi, err := s.withPreInvoice(ctx, orgID, preInvoiceID, func(pi *billing.PreInvoice) error {
		return pi.Validate(validatedBy, adjustments, comment)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return pi, err
	}
	s.logger.Info("pre-invoice validated",
		zap.String("pre_invoice", pi.PreInvoiceNumber),
		zap.String("validated_by", validatedBy))
	return pi, nil
}

// Contest records a post-validation client contest
func (s *ReconciliationService) Contest(ctx context.Context, orgID, preInvoiceID uuid.UUID, reason, actor string) (*billing.PreInvoice, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "contest")
	defer span.End()
	telemetry.SetAttribute(span, "pre_invoice_id", preInvoiceID.String())

	pi, err := s.withPreInvoice(ctx, orgID, preInvoiceID, func(pi *billing.PreInvoice) error {
		return pi.Contest(reason, actor)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return pi, err
	}
	s.logger.Info("pre-invoice contested",
		zap.String("pre_invoice", pi.PreInvoiceNumber),
		zap.String("reason", reason))
	return pi, nil
}

// UploadCarrierInvoice attaches the carrier-submitted invoice and runs
// discrepancy detection. Above-tolerance mismatches open one dispute per
// discrepancy; within-tolerance invoices are auto-accepted.
func (s *ReconciliationService) UploadCarrierInvoice(ctx context.Context, orgID, preInvoiceID uuid.UUID, invoice billing.CarrierInvoice, actor string) (*billing.PreInvoice, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "upload_carrier_invoice")
	defer span.End()
	telemetry.SetAttributes(span,
		"pre_invoice_id", preInvoiceID.String(),
		"invoice_amount", invoice.InvoiceAmount.String())

	// Disputes are saved inside the lock, before the invoice, so a stored
	// DETECTED discrepancy always has its dispute. A dispute-save failure
	// aborts the whole action and leaves the invoice untouched.
	var opened []*billing.BillingDispute
	pi, err := s.withPreInvoice(ctx, orgID, preInvoiceID, func(pi *billing.PreInvoice) error {
		if err := pi.AttachCarrierInvoice(invoice, actor); err != nil {
			return err
		}

		result := s.detector.Detect(pi, s.gridTolerance(ctx, pi))
		if result.AutoAccepted {
			pi.RecordAutoAccepted(result.Difference, result.DifferencePercent)
			if pi.Status == billing.PreInvoiceStatusGenerated {
				return pi.MarkPendingValidation("system", "carrier invoice within tolerance")
			}
			return nil
		}

		if err := pi.MarkDiscrepancyDetected(result.Discrepancies, "system"); err != nil {
			return err
		}
		for _, d := range result.Discrepancies {
			opened = append(opened, billing.NewBillingDispute(orgID, pi.GetID(), d, pi.CarrierID, pi.IndustrialID))
		}
		for _, dispute := range opened {
			if err := s.disputes.Save(ctx, dispute); err != nil {
				return fmt.Errorf("failed to open dispute: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return pi, err
	}

	if len(opened) > 0 {
		s.logger.Info("discrepancies detected, disputes opened",
			zap.String("pre_invoice", pi.PreInvoiceNumber),
			zap.Int("disputes", len(opened)))
	}
	return pi, nil
}

// Finalize assigns the final invoice number once every hold is cleared.
// Losing the invoice-number unique index to a concurrent allocator retries
// once with a fresh number.
func (s *ReconciliationService) Finalize(ctx context.Context, orgID, preInvoiceID uuid.UUID, actor string) (*billing.PreInvoice, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "finalize")
	defer span.End()
	telemetry.SetAttribute(span, "pre_invoice_id", preInvoiceID.String())

	finalize := func(pi *billing.PreInvoice) error {
		number, err := s.preInvoices.NextFinalNumber(ctx, orgID)
		if err != nil {
			return fmt.Errorf("failed to allocate invoice number: %w", err)
		}
		return pi.Finalize(number, s.settings.PaymentTermsDays, actor)
	}
	pi, err := s.withPreInvoice(ctx, orgID, preInvoiceID, finalize)
	if errors.Is(err, shared.ErrConcurrencyConflict) {
		pi, err = s.withPreInvoice(ctx, orgID, preInvoiceID, finalize)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return pi, err
	}
	s.logger.Info("pre-invoice finalized",
		zap.String("pre_invoice", pi.PreInvoiceNumber),
		zap.String("invoice_number", pi.FinalInvoice.InvoiceNumber))
	return pi, nil
}

// RecordPayment marks the finalized invoice paid
func (s *ReconciliationService) RecordPayment(ctx context.Context, orgID, preInvoiceID uuid.UUID, paidAt time.Time, actor string) (*billing.PreInvoice, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "record_payment")
	defer span.End()
	telemetry.SetAttribute(span, "pre_invoice_id", preInvoiceID.String())

	pi, err := s.withPreInvoice(ctx, orgID, preInvoiceID, func(pi *billing.PreInvoice) error {
		return pi.RecordPayment(paidAt, actor)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return pi, err
	}
	s.logger.Info("payment recorded",
		zap.String("pre_invoice", pi.PreInvoiceNumber),
		zap.Time("paid_at", paidAt))
	return pi, nil
}

// Get loads one aggregate
func (s *ReconciliationService) Get(ctx context.Context, orgID, preInvoiceID uuid.UUID) (*billing.PreInvoice, error) {
	pi, err := s.preInvoices.FindByID(ctx, orgID, preInvoiceID)
	if err != nil {
		return nil, err
	}
	if pi == nil {
		return nil, shared.ErrNotFound
	}
	return pi, nil
}

// List returns a filtered page of pre-invoices
func (s *ReconciliationService) List(ctx context.Context, orgID uuid.UUID, filter billing.PreInvoiceFilter) (*shared.Paginated[billing.PreInvoice], error) {
	return s.preInvoices.List(ctx, orgID, filter)
}

// gridTolerance returns the per-grid tolerance override when the pair's grid
// defines one. Lookup failures fall back to the engine default.
func (s *ReconciliationService) gridTolerance(ctx context.Context, pi *billing.PreInvoice) *decimal.Decimal {
	lookupCtx, cancel := context.WithTimeout(ctx, s.settings.GridLookupTimeout)
	defer cancel()

	grid, err := s.resolver.Resolve(lookupCtx, pi.OrgID, pi.CarrierID, pi.IndustrialID, pi.Period.EndDate.Add(-1))
	if err != nil {
		return nil
	}
	return grid.TolerancePercent
}
