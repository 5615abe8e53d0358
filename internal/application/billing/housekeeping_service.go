package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/freightbill/backend/internal/infrastructure/lock"
	"github.com/freightbill/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// HousekeepingService runs the daily maintenance pass: payment countdown
// recomputation for open invoices and archival of acknowledged exports. The
// run is idempotent per calendar day through a persisted marker.
type HousekeepingService struct {
	preInvoices billing.PreInvoiceRepository
	jobRuns     billing.JobRunRepository
	locks       lock.Manager
	publisher   EventPublisher
	logger      *zap.Logger
	settings    Settings
}

// NewHousekeepingService creates a new HousekeepingService
func NewHousekeepingService(
	preInvoices billing.PreInvoiceRepository,
	jobRuns billing.JobRunRepository,
	locks lock.Manager,
	publisher EventPublisher,
	logger *zap.Logger,
	settings Settings,
) *HousekeepingService {
	return &HousekeepingService{
		preInvoices: preInvoices,
		jobRuns:     jobRuns,
		locks:       locks,
		publisher:   publisher,
		logger:      logger,
		settings:    settings,
	}
}

// DailyRunJob is the job name of the daily housekeeping marker
const DailyRunJob = "daily_housekeeping"

// housekeepingBatch bounds one pass so a huge backlog cannot stall the run
const housekeepingBatch = 500

// RunDaily recomputes payment countdowns and archives settled exports. A
// second invocation on the same day is a no-op.
func (s *HousekeepingService) RunDaily(ctx context.Context, now time.Time) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "housekeeping", "run_daily")
	defer span.End()

	run := billing.NewJobRun(DailyRunJob, now.UTC().Format("2006-01-02"))
	claimed, err := s.jobRuns.Claim(ctx, run)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to claim run marker: %w", err)
	}
	if !claimed {
		s.logger.Info("daily housekeeping already ran, skipping",
			zap.String("day", run.PeriodKey))
		return nil
	}

	recomputed, err := s.recomputeCountdowns(ctx, now)
	if err != nil {
		run.Complete(false, err.Error())
		if uerr := s.jobRuns.Update(ctx, run); uerr != nil {
			s.logger.Warn("failed to record run outcome", zap.Error(uerr))
		}
		telemetry.RecordError(span, err)
		return err
	}

	archived, err := s.archiveExported(ctx, now)
	if err != nil {
		run.Complete(false, err.Error())
		if uerr := s.jobRuns.Update(ctx, run); uerr != nil {
			s.logger.Warn("failed to record run outcome", zap.Error(uerr))
		}
		telemetry.RecordError(span, err)
		return err
	}

	run.Complete(true, fmt.Sprintf("%d countdowns recomputed, %d archived", recomputed, archived))
	if err := s.jobRuns.Update(ctx, run); err != nil {
		s.logger.Warn("failed to record run outcome", zap.Error(err))
	}
	s.logger.Info("daily housekeeping complete",
		zap.Int("countdowns_recomputed", recomputed),
		zap.Int("archived", archived))
	return nil
}

// recomputeCountdowns refreshes daysRemaining for every open payment
func (s *HousekeepingService) recomputeCountdowns(ctx context.Context, now time.Time) (int, error) {
	open, err := s.preInvoices.ListWithOpenPayment(ctx, housekeepingBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list open payments: %w", err)
	}

	recomputed := 0
	for i := range open {
		id := open[i].GetID()
		orgID := open[i].OrgID

		err := func() error {
			release, err := s.locks.Acquire(ctx, lockKey(id.String()))
			if err != nil {
				return err
			}
			defer release()

			pi, err := s.preInvoices.FindByID(ctx, orgID, id)
			if err != nil || pi == nil {
				return err
			}
			if !pi.RecomputePaymentCountdown(now) {
				return nil
			}
			if err := s.preInvoices.Save(ctx, pi); err != nil {
				return err
			}
			recomputed++
			return nil
		}()
		if err != nil {
			s.logger.Warn("countdown recomputation failed",
				zap.String("pre_invoice_id", id.String()), zap.Error(err))
		}
	}
	return recomputed, nil
}

// archiveExported moves acknowledged exports past the retention window into
// the terminal archived state
func (s *HousekeepingService) archiveExported(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.AddDate(0, 0, -s.settings.ArchiveAfterDays)
	exported, err := s.preInvoices.ListExportedBefore(ctx, cutoff, housekeepingBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list exported invoices: %w", err)
	}

	archived := 0
	for i := range exported {
		id := exported[i].GetID()
		orgID := exported[i].OrgID

		err := func() error {
			release, err := s.locks.Acquire(ctx, lockKey(id.String()))
			if err != nil {
				return err
			}
			defer release()

			pi, err := s.preInvoices.FindByID(ctx, orgID, id)
			if err != nil || pi == nil {
				return err
			}
			if pi.Status != billing.PreInvoiceStatusExported {
				return nil
			}
			if err := pi.Archive("system"); err != nil {
				return err
			}
			if err := s.preInvoices.Save(ctx, pi); err != nil {
				return err
			}
			s.publisher.Publish(ctx, pi.GetDomainEvents()...)
			pi.ClearDomainEvents()
			archived++
			return nil
		}()
		if err != nil {
			s.logger.Warn("archival failed",
				zap.String("pre_invoice_id", id.String()), zap.Error(err))
		}
	}
	return archived, nil
}
