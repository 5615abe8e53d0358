package billing

import (
	"context"
	"testing"
	"time"

	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/freightbill/backend/internal/infrastructure/lock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type housekeepingFixture struct {
	service     *HousekeepingService
	preInvoices *memPreInvoiceRepo
	jobRuns     *memJobRunRepo
	publisher   *capturingPublisher
}

func newHousekeepingFixture() *housekeepingFixture {
	f := &housekeepingFixture{
		preInvoices: newMemPreInvoiceRepo(),
		jobRuns:     newMemJobRunRepo(),
		publisher:   &capturingPublisher{},
	}
	f.service = NewHousekeepingService(
		f.preInvoices,
		f.jobRuns,
		lock.NewMemoryManager(),
		f.publisher,
		testLogger(),
		DefaultSettings(),
	)
	return f
}

// seedExported stores a pre-invoice in exported state
func (f *housekeepingFixture) seedExported(t *testing.T, orgID uuid.UUID) *billing.PreInvoice {
	t.Helper()
	pi := seedPendingValidation(t, f.preInvoices, orgID, "540")
	require.NoError(t, pi.Validate("client@lactalis.fr", nil, ""))
	require.NoError(t, pi.Finalize("FAC-2025-00042", 30, "billing@freightbill.io"))
	exp, err := pi.AddExportAttempt(billing.ERPSystemSAP, 5)
	require.NoError(t, err)
	require.NoError(t, exp.MarkSent("ERP-REF-1"))
	require.NoError(t, exp.MarkAcknowledged(`{"status":"ok"}`))
	require.NoError(t, pi.MarkExported("system"))
	require.NoError(t, f.preInvoices.Save(context.Background(), pi))
	pi.ClearDomainEvents()
	return pi
}

func TestHousekeepingService_RunDaily(t *testing.T) {
	orgID := uuid.New()

	t.Run("recomputes the payment countdown", func(t *testing.T) {
		f := newHousekeepingFixture()
		pi := seedPendingValidation(t, f.preInvoices, orgID, "540")
		require.NoError(t, pi.Validate("client@lactalis.fr", nil, ""))
		require.NoError(t, pi.Finalize("FAC-2025-00042", 30, "billing@freightbill.io"))
		require.NoError(t, f.preInvoices.Save(context.Background(), pi))
		f.preInvoices.openPayment = []uuid.UUID{pi.GetID()}

		tenDaysIn := time.Now().UTC().AddDate(0, 0, 10)
		require.NoError(t, f.service.RunDaily(context.Background(), tenDaysIn))

		got, err := f.preInvoices.FindByID(context.Background(), orgID, pi.GetID())
		require.NoError(t, err)
		require.NotNil(t, got.Payment)
		assert.Equal(t, 20, got.Payment.DaysRemaining)
	})

	t.Run("archives exports past the retention window", func(t *testing.T) {
		f := newHousekeepingFixture()
		pi := f.seedExported(t, orgID)
		f.preInvoices.exportedIDs = []uuid.UUID{pi.GetID()}

		now := time.Now().UTC()
		require.NoError(t, f.service.RunDaily(context.Background(), now))

		got, err := f.preInvoices.FindByID(context.Background(), orgID, pi.GetID())
		require.NoError(t, err)
		assert.Equal(t, billing.PreInvoiceStatusArchived, got.Status)
		assert.Equal(t, 1, f.publisher.typeCount(billing.EventPreInvoiceArchived))
		// the cutoff handed to the store is the retention window
		assert.WithinDuration(t, now.AddDate(0, 0, -DefaultSettings().ArchiveAfterDays), f.preInvoices.lastCutoff, time.Second)
	})

	t.Run("second run in the same day is a no-op", func(t *testing.T) {
		f := newHousekeepingFixture()
		pi := f.seedExported(t, orgID)
		f.preInvoices.exportedIDs = []uuid.UUID{pi.GetID()}

		now := time.Now().UTC()
		require.NoError(t, f.service.RunDaily(context.Background(), now))
		require.NoError(t, f.service.RunDaily(context.Background(), now))

		assert.Equal(t, 1, f.publisher.typeCount(billing.EventPreInvoiceArchived))
	})

	t.Run("records the run marker outcome", func(t *testing.T) {
		f := newHousekeepingFixture()
		now := time.Now().UTC()
		require.NoError(t, f.service.RunDaily(context.Background(), now))

		run, err := f.jobRuns.Find(context.Background(), DailyRunJob, now.Format("2006-01-02"))
		require.NoError(t, err)
		require.NotNil(t, run)
		assert.True(t, run.Succeeded)
		assert.NotNil(t, run.CompletedAt)
	})
}
