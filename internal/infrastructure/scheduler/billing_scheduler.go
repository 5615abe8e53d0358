package scheduler

import (
	"context"
	"sync"
	"time"

	appbilling "github.com/freightbill/backend/internal/application/billing"
	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrgProvider lists the organizations to run scheduled billing for
type OrgProvider interface {
	GetActiveOrgIDs(ctx context.Context) ([]uuid.UUID, error)
}

// StaticOrgProvider serves a fixed organization list from configuration.
// Deployments with an org directory service replace it at wiring time.
type StaticOrgProvider struct {
	orgIDs []uuid.UUID
}

// NewStaticOrgProvider creates a provider over a fixed list
func NewStaticOrgProvider(orgIDs []uuid.UUID) *StaticOrgProvider {
	return &StaticOrgProvider{orgIDs: orgIDs}
}

// GetActiveOrgIDs returns the configured organizations
func (p *StaticOrgProvider) GetActiveOrgIDs(_ context.Context) ([]uuid.UUID, error) {
	return p.orgIDs, nil
}

// Config holds the billing scheduler knobs
type Config struct {
	// MonthlyRunDay is the day of month the aggregation runs for the
	// previous month
	MonthlyRunDay int

	// CheckInterval is how often the daily loop wakes up
	CheckInterval time.Duration

	// ExportRetryInterval is how often pending exports are retried
	ExportRetryInterval time.Duration

	// ExportBatchSize caps how many invoices one retry pass picks up
	ExportBatchSize int
}

// BillingScheduler drives the three recurring billing jobs: the monthly
// aggregation run, the daily housekeeping pass and the export retry loop.
// Each job is idempotent behind a JobRun claim or a state check, so
// overlapping instances are harmless.
type BillingScheduler struct {
	config       Config
	aggregation  *appbilling.AggregationService
	housekeeping *appbilling.HousekeepingService
	exports      *appbilling.ExportService
	orgs         OrgProvider
	logger       *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewBillingScheduler creates a new billing scheduler
func NewBillingScheduler(
	config Config,
	aggregation *appbilling.AggregationService,
	housekeeping *appbilling.HousekeepingService,
	exports *appbilling.ExportService,
	orgs OrgProvider,
	logger *zap.Logger,
) *BillingScheduler {
	return &BillingScheduler{
		config:       config,
		aggregation:  aggregation,
		housekeeping: housekeeping,
		exports:      exports,
		orgs:         orgs,
		logger:       logger,
	}
}

// Start launches the scheduler loops
func (s *BillingScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.dailyLoop(ctx)
	go s.exportLoop(ctx)

	s.logger.Info("billing scheduler started",
		zap.Int("monthly_run_day", s.config.MonthlyRunDay),
		zap.Duration("check_interval", s.config.CheckInterval),
		zap.Duration("export_retry_interval", s.config.ExportRetryInterval),
	)
	return nil
}

// Stop stops the scheduler gracefully
func (s *BillingScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("billing scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dailyLoop wakes up periodically, runs housekeeping and, on the configured
// day of month, the monthly aggregation for the previous month. The JobRun
// claim inside each service makes repeated ticks on the same day no-ops.
func (s *BillingScheduler) dailyLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now())
		}
	}
}

func (s *BillingScheduler) tick(ctx context.Context, now time.Time) {
	if err := s.housekeeping.RunDaily(ctx, now); err != nil {
		s.logger.Error("daily housekeeping failed", zap.Error(err))
	}

	if now.Day() == s.config.MonthlyRunDay {
		s.runMonthly(ctx, now)
	}
}

// runMonthly aggregates the previous calendar month for every organization
func (s *BillingScheduler) runMonthly(ctx context.Context, now time.Time) {
	prev := now.AddDate(0, -1, 0)
	period := billing.NewPeriod(prev.Year(), prev.Month())

	orgIDs, err := s.orgs.GetActiveOrgIDs(ctx)
	if err != nil {
		s.logger.Error("failed to list organizations for monthly run", zap.Error(err))
		return
	}

	for _, orgID := range orgIDs {
		report, err := s.aggregation.RunMonthly(ctx, orgID, period, false)
		if err != nil {
			s.logger.Error("monthly aggregation failed",
				zap.String("org_id", orgID.String()),
				zap.String("period", period.Key()),
				zap.Error(err),
			)
			continue
		}
		if report != nil {
			s.logger.Info("monthly aggregation finished",
				zap.String("org_id", orgID.String()),
				zap.String("period", period.Key()),
				zap.Int("pairs", len(report.Pairs)),
			)
		}
	}
}

// exportLoop retries pending exports at a fixed interval
func (s *BillingScheduler) exportLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ExportRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			exported, failed, err := s.exports.RunPending(ctx, s.config.ExportBatchSize)
			if err != nil {
				s.logger.Error("export retry pass failed", zap.Error(err))
				continue
			}
			if exported > 0 || failed > 0 {
				s.logger.Info("export retry pass finished",
					zap.Int("exported", exported),
					zap.Int("failed", failed),
				)
			}
		}
	}
}
