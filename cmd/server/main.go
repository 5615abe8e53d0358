package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appbilling "github.com/freightbill/backend/internal/application/billing"
	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/freightbill/backend/internal/domain/tariff"
	"github.com/freightbill/backend/internal/infrastructure/auth"
	"github.com/freightbill/backend/internal/infrastructure/compliance"
	"github.com/freightbill/backend/internal/infrastructure/config"
	"github.com/freightbill/backend/internal/infrastructure/erp"
	"github.com/freightbill/backend/internal/infrastructure/event"
	"github.com/freightbill/backend/internal/infrastructure/lock"
	"github.com/freightbill/backend/internal/infrastructure/logger"
	"github.com/freightbill/backend/internal/infrastructure/orders"
	"github.com/freightbill/backend/internal/infrastructure/persistence"
	"github.com/freightbill/backend/internal/infrastructure/scheduler"
	"github.com/freightbill/backend/internal/infrastructure/telemetry"
	"github.com/freightbill/backend/internal/interfaces/http/handler"
	"github.com/freightbill/backend/internal/interfaces/http/router"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			log.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	}()

	db, err := persistence.NewDatabaseWithLogger(&cfg.Database,
		logger.NewGormLogger(log, gormlogger.Warn))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := telemetry.RegisterDBTracing(db.DB, cfg.Telemetry.DBTraceEnabled, log); err != nil {
		return fmt.Errorf("failed to register database tracing: %w", err)
	}

	preInvoiceRepo := persistence.NewGormPreInvoiceRepository(db.DB)
	disputeRepo := persistence.NewGormDisputeRepository(db.DB)
	gridRepo := persistence.NewGormGridRepository(db.DB)
	jobRunRepo := persistence.NewGormJobRunRepository(db.DB)

	var locks lock.Manager
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() { _ = redisClient.Close() }()
		locks = lock.NewRedisManager(redisClient, log)
		log.Info("using redis lock manager",
			zap.String("addr", fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)))
	} else {
		locks = lock.NewMemoryManager()
		log.Info("using in-process lock manager")
	}

	bus := event.NewInMemoryEventBus(log)
	bus.Subscribe(event.NewAuditLogHandler(log))

	ordersClient := orders.NewClient(cfg.Upstream.OrdersBaseURL, cfg.Upstream.RequestTimeout, log)
	complianceClient := compliance.NewClient(cfg.Upstream.ComplianceBaseURL, cfg.Upstream.RequestTimeout, log)
	erpGateway := erp.NewHTTPGateway(cfg.Upstream.ERPBaseURL, cfg.Billing.ExportTimeout, log)

	resolver := tariff.NewResolver(gridRepo)
	settings := billingSettings(cfg.Billing)

	aggregationSvc := appbilling.NewAggregationService(
		preInvoiceRepo, jobRunRepo, ordersClient, complianceClient, ordersClient,
		resolver, locks, bus, log, settings)
	reconciliationSvc := appbilling.NewReconciliationService(
		preInvoiceRepo, disputeRepo, resolver, locks, bus, log, settings)
	disputeSvc := appbilling.NewDisputeService(disputeRepo, preInvoiceRepo, locks, bus, log)
	blockSvc := appbilling.NewBlockService(
		preInvoiceRepo, ordersClient, complianceClient, ordersClient, locks, bus, log, settings)
	exportSvc := appbilling.NewExportService(preInvoiceRepo, erpGateway, locks, bus, log, settings)
	housekeepingSvc := appbilling.NewHousekeepingService(preInvoiceRepo, jobRunRepo, locks, bus, log, settings)

	if cfg.Scheduler.Enabled {
		orgIDs, err := parseOrgIDs(cfg.Scheduler.OrgIDs)
		if err != nil {
			return fmt.Errorf("invalid scheduler.org_ids: %w", err)
		}
		sched := scheduler.NewBillingScheduler(scheduler.Config{
			MonthlyRunDay:       cfg.Scheduler.MonthlyRunDay,
			CheckInterval:       cfg.Scheduler.DailyCheckInterval,
			ExportRetryInterval: cfg.Scheduler.ExportRetryInterval,
			ExportBatchSize:     cfg.Scheduler.ExportBatchSize,
		}, aggregationSvc, housekeepingSvc, exportSvc,
			scheduler.NewStaticOrgProvider(orgIDs), log)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				log.Warn("scheduler stop timed out", zap.Error(err))
			}
		}()
	}

	jwtService := auth.NewJWTService(cfg.JWT)

	engine := router.New(cfg, log, jwtService, router.Handlers{
		System:  handler.NewSystemHandler(db.DB, version),
		Billing: handler.NewBillingHandler(aggregationSvc, reconciliationSvc, blockSvc, exportSvc),
		Dispute: handler.NewDisputeHandler(disputeSvc),
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// billingSettings maps the configuration section onto the policy knobs the
// application services consume
func billingSettings(cfg config.BillingConfig) appbilling.Settings {
	settings := appbilling.DefaultSettings()
	if cfg.TolerancePercent > 0 {
		settings.TolerancePercent = decimal.NewFromFloat(cfg.TolerancePercent)
	}
	if cfg.TVARatePercent > 0 {
		settings.TVARatePercent = decimal.NewFromFloat(cfg.TVARatePercent)
	}
	if cfg.PaymentTermsDays > 0 {
		settings.PaymentTermsDays = cfg.PaymentTermsDays
	}
	if cfg.ExportMaxAttempts > 0 {
		settings.ExportMaxAttempts = cfg.ExportMaxAttempts
	}
	if cfg.ExportTarget != "" {
		settings.ExportTarget = billing.ERPSystem(cfg.ExportTarget)
	}
	if cfg.ExportTimeout > 0 {
		settings.ExportTimeout = cfg.ExportTimeout
	}
	if cfg.GridLookupTimeout > 0 {
		settings.GridLookupTimeout = cfg.GridLookupTimeout
	}
	if cfg.LateThresholdHours > 0 {
		settings.LateThresholdHours = cfg.LateThresholdHours
	}
	if cfg.ArchiveAfterDays > 0 {
		settings.ArchiveAfterDays = cfg.ArchiveAfterDays
	}
	return settings
}

func parseOrgIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%q is not a UUID", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
