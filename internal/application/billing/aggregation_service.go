package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/freightbill/backend/internal/domain/tariff"
	"github.com/freightbill/backend/internal/infrastructure/lock"
	"github.com/freightbill/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AggregationService materializes pre-invoices from completed orders: one
// aggregate per (carrier, industrial, period). The monthly run is idempotent
// under at-least-once invocation through a persisted period-keyed marker.
type AggregationService struct {
	preInvoices billing.PreInvoiceRepository
	jobRuns     billing.JobRunRepository
	orders      billing.OrderSource
	vigilance   billing.VigilanceSource
	pallets     billing.PalletLedger
	resolver    *tariff.Resolver
	calculator  *billing.Calculator
	detector    *billing.Detector
	blocking    *billing.BlockingEngine
	locks       lock.Manager
	publisher   EventPublisher
	logger      *zap.Logger
	settings    Settings
}

// NewAggregationService creates a new AggregationService
func NewAggregationService(
	preInvoices billing.PreInvoiceRepository,
	jobRuns billing.JobRunRepository,
	orders billing.OrderSource,
	vigilance billing.VigilanceSource,
	pallets billing.PalletLedger,
	resolver *tariff.Resolver,
	locks lock.Manager,
	publisher EventPublisher,
	logger *zap.Logger,
	settings Settings,
) *AggregationService {
	return &AggregationService{
		preInvoices: preInvoices,
		jobRuns:     jobRuns,
		orders:      orders,
		vigilance:   vigilance,
		pallets:     pallets,
		resolver:    resolver,
		calculator:  billing.NewCalculator(),
		detector:    billing.NewDetector(settings.TolerancePercent),
		blocking:    billing.NewBlockingEngine(billing.BlockingPolicy{LateThresholdHours: settings.LateThresholdHours}),
		locks:       locks,
		publisher:   publisher,
		logger:      logger,
		settings:    settings,
	}
}

// MonthlyRunJob is the job name of the monthly aggregation marker
const MonthlyRunJob = "monthly_aggregation"

// PairResult is the aggregation outcome for one (carrier, industrial) pair
type PairResult struct {
	CarrierID        uuid.UUID `json:"carrier_id"`
	IndustrialID     uuid.UUID `json:"industrial_id"`
	PreInvoiceID     uuid.UUID `json:"pre_invoice_id,omitempty"`
	PreInvoiceNumber string    `json:"pre_invoice_number,omitempty"`
	Lines            int       `json:"lines"`
	Skipped          int       `json:"skipped"`
	Outcome          string    `json:"outcome"` // generated, empty, already_generated, failed
	Error            string    `json:"error,omitempty"`
}

// RunReport summarizes one monthly run
type RunReport struct {
	PeriodKey string       `json:"period_key"`
	Claimed   bool         `json:"claimed"`
	Pairs     []PairResult `json:"pairs"`
}

// RunMonthly aggregates every billable pair of the organization for the
// period. A second invocation in the same period is a no-op unless force is
// set; force releases the idempotency marker and re-claims it.
func (s *AggregationService) RunMonthly(ctx context.Context, orgID uuid.UUID, period billing.Period, force bool) (*RunReport, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "aggregation", "run_monthly")
	defer span.End()
	telemetry.SetAttributes(span, "org_id", orgID.String(), "period", period.Key(), "force", force)

	report := &RunReport{PeriodKey: period.Key()}
	jobName := fmt.Sprintf("%s:%s", MonthlyRunJob, orgID)

	if force {
		if err := s.jobRuns.Release(ctx, jobName, period.Key()); err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("failed to release run marker: %w", err)
		}
	}

	run := billing.NewJobRun(jobName, period.Key())
	claimed, err := s.jobRuns.Claim(ctx, run)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to claim run marker: %w", err)
	}
	if !claimed {
		s.logger.Info("monthly aggregation already ran for period, skipping",
			zap.String("org_id", orgID.String()),
			zap.String("period", period.Key()))
		return report, nil
	}
	report.Claimed = true

	pairs, err := s.orders.ListBillablePairs(ctx, orgID, period.StartDate, period.EndDate)
	if err != nil {
		run.Complete(false, err.Error())
		if uerr := s.jobRuns.Update(ctx, run); uerr != nil {
			s.logger.Warn("failed to record run outcome", zap.Error(uerr))
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list billable pairs: %w", err)
	}

	failures := 0
	for _, pair := range pairs {
		result := s.aggregatePair(ctx, orgID, pair, period, force)
		if result.Outcome == "failed" {
			failures++
		}
		report.Pairs = append(report.Pairs, result)
	}

	run.Complete(failures == 0, fmt.Sprintf("%d pairs, %d failures", len(pairs), failures))
	if err := s.jobRuns.Update(ctx, run); err != nil {
		s.logger.Warn("failed to record run outcome", zap.Error(err))
	}

	s.logger.Info("monthly aggregation complete",
		zap.String("org_id", orgID.String()),
		zap.String("period", period.Key()),
		zap.Int("pairs", len(pairs)),
		zap.Int("failures", failures))
	return report, nil
}

// aggregatePair builds or refreshes the pre-invoice for one pair. The whole
// read-modify-write runs under the aggregate's exclusive lock.
func (s *AggregationService) aggregatePair(ctx context.Context, orgID uuid.UUID, pair billing.BillablePair, period billing.Period, force bool) PairResult {
	result := PairResult{CarrierID: pair.CarrierID, IndustrialID: pair.IndustrialID}

	scopeKey := fmt.Sprintf("scope:%s:%s:%s:%s", orgID, pair.CarrierID, pair.IndustrialID, period.Key())
	release, err := s.locks.Acquire(ctx, scopeKey)
	if err != nil {
		result.Outcome = "failed"
		result.Error = err.Error()
		return result
	}
	defer release()

	pi, err := s.preInvoices.FindByScope(ctx, orgID, pair.CarrierID, pair.IndustrialID, period.Key())
	if err != nil {
		result.Outcome = "failed"
		result.Error = err.Error()
		return result
	}

	if pi != nil && pi.Status != billing.PreInvoiceStatusDraft {
		if !force || pi.Status != billing.PreInvoiceStatusGenerated {
			result.PreInvoiceID = pi.GetID()
			result.PreInvoiceNumber = pi.PreInvoiceNumber
			result.Outcome = "already_generated"
			return result
		}
	}

	orders, err := s.orders.ListDeliverableOrders(ctx, orgID, pair.CarrierID, pair.IndustrialID, period.StartDate, period.EndDate)
	if err != nil {
		result.Outcome = "failed"
		result.Error = err.Error()
		return result
	}

	lines, skipped := s.priceOrders(ctx, orgID, pair, orders)
	result.Lines = len(lines)
	result.Skipped = len(skipped)

	created := false
	if pi == nil {
		number, err := s.preInvoices.NextNumber(ctx, orgID, period.Key())
		if err != nil {
			result.Outcome = "failed"
			result.Error = err.Error()
			return result
		}
		pi, err = billing.NewPreInvoice(orgID, number, period,
			pair.CarrierID, pair.CarrierName, pair.IndustrialID, pair.IndustrialName)
		if err != nil {
			result.Outcome = "failed"
			result.Error = err.Error()
			return result
		}
		created = true
	}
	result.PreInvoiceID = pi.GetID()
	result.PreInvoiceNumber = pi.PreInvoiceNumber

	if err := pi.Reaggregate(lines, skipped, s.settings.TVARatePercent, "system"); err != nil {
		result.Outcome = "failed"
		result.Error = err.Error()
		return result
	}

	if len(lines) == 0 {
		// zero eligible orders: the draft stays, reported rather than failed
		if err := s.savePreInvoice(ctx, pi, period.Key(), created); err != nil {
			result.Outcome = "failed"
			result.Error = err.Error()
			return result
		}
		result.PreInvoiceNumber = pi.PreInvoiceNumber
		result.Outcome = "empty"
		return result
	}

	if pi.Status == billing.PreInvoiceStatusDraft {
		if err := pi.MarkGenerated("system"); err != nil {
			result.Outcome = "failed"
			result.Error = err.Error()
			return result
		}
		// no carrier invoice exists this early; the invoice goes straight
		// out for client validation
		if err := pi.MarkPendingValidation("system", "generated by monthly run"); err != nil {
			result.Outcome = "failed"
			result.Error = err.Error()
			return result
		}
	}

	s.evaluateBlocks(ctx, pi, orders)

	if err := s.savePreInvoice(ctx, pi, period.Key(), created); err != nil {
		result.Outcome = "failed"
		result.Error = err.Error()
		return result
	}
	s.publisher.Publish(ctx, pi.GetDomainEvents()...)
	pi.ClearDomainEvents()

	result.PreInvoiceNumber = pi.PreInvoiceNumber
	result.Outcome = "generated"
	return result
}

// savePreInvoice persists the aggregate. When a freshly numbered invoice
// loses the unique-index race to a concurrent allocator, the number is
// re-allocated once and the save retried.
func (s *AggregationService) savePreInvoice(ctx context.Context, pi *billing.PreInvoice, periodKey string, freshlyNumbered bool) error {
	err := s.preInvoices.Save(ctx, pi)
	if err == nil || !freshlyNumbered || !errors.Is(err, shared.ErrConcurrencyConflict) {
		return err
	}

	number, numErr := s.preInvoices.NextNumber(ctx, pi.OrgID, periodKey)
	if numErr != nil {
		return numErr
	}
	s.logger.Warn("pre-invoice number taken by concurrent run, re-allocating",
		zap.String("previous", pi.PreInvoiceNumber),
		zap.String("next", number))
	pi.PreInvoiceNumber = number
	return s.preInvoices.Save(ctx, pi)
}

// priceOrders prices each order, excluding (and reporting) the ones that
// fail pricing so the rest of the period still invoices
func (s *AggregationService) priceOrders(ctx context.Context, orgID uuid.UUID, pair billing.BillablePair, orders []billing.TransportOrder) ([]billing.OrderBillingLine, []billing.SkippedOrder) {
	var lines []billing.OrderBillingLine
	var skipped []billing.SkippedOrder

	for _, order := range orders {
		grid, err := s.resolveGrid(ctx, orgID, pair, order)
		if err != nil {
			skipped = append(skipped, billing.SkippedOrder{
				OrderID:     order.OrderID,
				OrderNumber: order.OrderNumber,
				Reason:      err.Error(),
			})
			s.logger.Warn("order excluded from pre-invoice",
				zap.String("order", order.OrderNumber),
				zap.Error(err))
			continue
		}

		breakdown, err := s.calculator.Price(order, grid)
		if err != nil {
			skipped = append(skipped, billing.SkippedOrder{
				OrderID:     order.OrderID,
				OrderNumber: order.OrderNumber,
				Reason:      err.Error(),
			})
			continue
		}
		lines = append(lines, s.calculator.Line(order, breakdown))
	}
	return lines, skipped
}

// resolveGrid looks up the applicable grid with a bounded timeout
func (s *AggregationService) resolveGrid(ctx context.Context, orgID uuid.UUID, pair billing.BillablePair, order billing.TransportOrder) (*tariff.Grid, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.settings.GridLookupTimeout)
	defer cancel()
	return s.resolver.Resolve(lookupCtx, orgID, pair.CarrierID, pair.IndustrialID, order.DeliveredAt)
}

// evaluateBlocks runs the blocking rules with freshly assembled facts.
// Fact-source failures degrade to a partial evaluation, never abort the run.
func (s *AggregationService) evaluateBlocks(ctx context.Context, pi *billing.PreInvoice, orders []billing.TransportOrder) {
	facts := billing.BlockingFacts{Orders: orders}

	if v, err := s.vigilance.GetCarrierVigilance(ctx, pi.OrgID, pi.CarrierID); err != nil {
		s.logger.Warn("vigilance lookup failed, skipping vigilance rule",
			zap.String("carrier_id", pi.CarrierID.String()), zap.Error(err))
	} else {
		facts.Vigilance = v
	}

	orderIDs := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		orderIDs = append(orderIDs, o.OrderID)
	}
	if balance, err := s.pallets.Balance(ctx, pi.OrgID, pi.CarrierID, orderIDs); err != nil {
		s.logger.Warn("pallet balance lookup failed, skipping pallets rule",
			zap.String("carrier_id", pi.CarrierID.String()), zap.Error(err))
	} else {
		facts.PalletBalance = balance
	}

	applied, lifted := s.blocking.Evaluate(pi, facts)
	if applied > 0 || lifted > 0 {
		s.logger.Info("blocking rules re-evaluated",
			zap.String("pre_invoice", pi.PreInvoiceNumber),
			zap.Int("applied", applied),
			zap.Int("lifted", lifted))
	}
}
