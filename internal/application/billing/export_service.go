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

// ExportService delivers finalized invoices to the configured ERP target.
// Failed attempts are retried in later windows up to the configured cap;
// reaching the cap surfaces a fatal exhaustion condition and stops automatic
// attempts. A finalized invoice is never silently dropped.
type ExportService struct {
	preInvoices billing.PreInvoiceRepository
	gateway     ERPGateway
	locks       lock.Manager
	publisher   EventPublisher
	logger      *zap.Logger
	settings    Settings
}

// NewExportService creates a new ExportService
func NewExportService(
	preInvoices billing.PreInvoiceRepository,
	gateway ERPGateway,
	locks lock.Manager,
	publisher EventPublisher,
	logger *zap.Logger,
	settings Settings,
) *ExportService {
	return &ExportService{
		preInvoices: preInvoices,
		gateway:     gateway,
		locks:       locks,
		publisher:   publisher,
		logger:      logger,
		settings:    settings,
	}
}

// Export makes one delivery attempt for a finalized pre-invoice. On
// acknowledgment the invoice advances to exported; on failure the attempt is
// recorded and the invoice stays finalized for the next window.
func (s *ExportService) Export(ctx context.Context, orgID, preInvoiceID uuid.UUID) (*billing.PreInvoice, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "export", "export")
	defer span.End()
	telemetry.SetAttribute(span, "pre_invoice_id", preInvoiceID.String())

	release, err := s.locks.Acquire(ctx, lockKey(preInvoiceID.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire pre-invoice lock: %w", err)
	}
	defer release()

	pi, err := s.preInvoices.FindByID(ctx, orgID, preInvoiceID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load pre-invoice: %w", err)
	}
	if pi == nil {
		return nil, shared.ErrNotFound
	}

	exportErr := s.attempt(ctx, pi)
	if err := s.preInvoices.Save(ctx, pi); err != nil {
		telemetry.RecordError(span, err)
		return pi, fmt.Errorf("failed to save pre-invoice: %w", err)
	}
	s.publisher.Publish(ctx, pi.GetDomainEvents()...)
	pi.ClearDomainEvents()

	if exportErr != nil {
		telemetry.RecordError(span, exportErr)
		return pi, exportErr
	}
	return pi, nil
}

// attempt runs one delivery attempt against the locked aggregate
func (s *ExportService) attempt(ctx context.Context, pi *billing.PreInvoice) error {
	export, err := pi.AddExportAttempt(s.settings.ExportTarget, s.settings.ExportMaxAttempts)
	if err != nil {
		return err
	}

	exportCtx, cancel := context.WithTimeout(ctx, s.settings.ExportTimeout)
	defer cancel()

	externalRef, ackPayload, gatewayErr := s.gateway.Export(exportCtx, pi, s.settings.ExportTarget)
	if gatewayErr != nil {
		if err := export.MarkFailed(gatewayErr.Error()); err != nil {
			return err
		}
		s.logger.Warn("ERP export attempt failed",
			zap.String("pre_invoice", pi.PreInvoiceNumber),
			zap.Int("attempt", export.Attempt),
			zap.Int("max_attempts", s.settings.ExportMaxAttempts),
			zap.Error(gatewayErr))

		// The final attempt stays FAILED; only earlier attempts are
		// rescheduled for the next window.
		if export.Attempt >= s.settings.ExportMaxAttempts {
			s.reportExhausted(ctx, pi)
			return billing.ErrExportExhausted
		}
		if err := export.MarkRetryScheduled(); err != nil {
			return err
		}
		return fmt.Errorf("ERP export failed: %w", gatewayErr)
	}

	if err := export.MarkSent(externalRef); err != nil {
		return err
	}
	if err := export.MarkAcknowledged(ackPayload); err != nil {
		return err
	}
	if err := pi.MarkExported("system"); err != nil {
		return err
	}
	s.logger.Info("pre-invoice exported",
		zap.String("pre_invoice", pi.PreInvoiceNumber),
		zap.String("external_ref", externalRef),
		zap.Int("attempt", export.Attempt))
	return nil
}

// reportExhausted surfaces the fatal condition to operators
func (s *ExportService) reportExhausted(ctx context.Context, pi *billing.PreInvoice) {
	lastError := ""
	if n := len(pi.Exports); n > 0 {
		lastError = pi.Exports[n-1].LastError
	}
	s.publisher.Publish(ctx, billing.NewExportExhaustedEvent(pi, len(pi.Exports), lastError))
	s.logger.Error("ERP export exhausted, manual intervention required",
		zap.String("pre_invoice", pi.PreInvoiceNumber),
		zap.Int("attempts", len(pi.Exports)),
		zap.String("last_error", lastError))
}

// RunPending makes one attempt for every finalized invoice still awaiting
// acknowledgment. Exhausted invoices are skipped until an operator acts.
func (s *ExportService) RunPending(ctx context.Context, batchSize int) (exported, failed int, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "export", "run_pending")
	defer span.End()

	pending, err := s.preInvoices.ListPendingExport(ctx, batchSize)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, 0, fmt.Errorf("failed to list pending exports: %w", err)
	}

	for i := range pending {
		pi := &pending[i]
		if len(pi.Exports) >= s.settings.ExportMaxAttempts {
			continue
		}
		if _, err := s.Export(ctx, pi.OrgID, pi.GetID()); err != nil {
			failed++
			continue
		}
		exported++
	}
	telemetry.SetAttributes(span, "exported", exported, "failed", failed)
	return exported, failed, nil
}
