package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/freightbill/backend/internal/domain/tariff"
	"github.com/freightbill/backend/internal/infrastructure/lock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reconciliationFixture struct {
	service     *ReconciliationService
	preInvoices *memPreInvoiceRepo
	disputes    *memDisputeRepo
	publisher   *capturingPublisher
}

func newReconciliationFixture() *reconciliationFixture {
	f := &reconciliationFixture{
		preInvoices: newMemPreInvoiceRepo(),
		disputes:    newMemDisputeRepo(),
		publisher:   &capturingPublisher{},
	}
	f.service = NewReconciliationService(
		f.preInvoices,
		f.disputes,
		tariff.NewResolver(&stubGridRepo{}),
		lock.NewMemoryManager(),
		f.publisher,
		testLogger(),
		DefaultSettings(),
	)
	return f
}

// seedPendingValidation stores a pre-invoice awaiting validation with the
// given line totals
func seedPendingValidation(t *testing.T, repo *memPreInvoiceRepo, orgID uuid.UUID, lineTotals ...string) *billing.PreInvoice {
	t.Helper()

	period := billing.NewPeriod(2025, time.March)
	pi, err := billing.NewPreInvoice(orgID, "PF-2025-03-0001", period,
		uuid.New(), "Transports Durand", uuid.New(), "Lactalis")
	require.NoError(t, err)

	var lines []billing.OrderBillingLine
	for i, total := range lineTotals {
		lines = append(lines, billing.OrderBillingLine{
			OrderID:     uuid.New(),
			OrderNumber: "ORD-00" + string(rune('1'+i)),
			BaseAmount:  dec(total),
			TotalAmount: dec(total),
		})
	}
	require.NoError(t, pi.ReplaceLines(lines, nil, dec("20"), "system"))
	require.NoError(t, pi.MarkGenerated("system"))
	require.NoError(t, pi.MarkPendingValidation("system", "generated by monthly run"))
	require.NoError(t, repo.Save(context.Background(), pi))
	pi.ClearDomainEvents()
	return pi
}

func carrierInvoice(amount string) billing.CarrierInvoice {
	return billing.CarrierInvoice{
		InvoiceNumber: "FC-2025-118",
		InvoiceDate:   time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC),
		InvoiceAmount: dec(amount),
		UploadedBy:    "compta@durand.fr",
	}
}

func TestReconciliationService_UploadCarrierInvoice(t *testing.T) {
	orgID := uuid.New()

	t.Run("within tolerance is auto-accepted", func(t *testing.T) {
		f := newReconciliationFixture()
		pi := seedPendingValidation(t, f.preInvoices, orgID, "540")

		got, err := f.service.UploadCarrierInvoice(context.Background(), orgID, pi.GetID(), carrierInvoice("545"), "compta@durand.fr")
		require.NoError(t, err)
		assert.Equal(t, billing.PreInvoiceStatusPendingValidation, got.Status)
		require.NotNil(t, got.InvoiceControl)
		assert.True(t, got.InvoiceControl.AutoAccepted)
		assert.Empty(t, got.Discrepancies)

		disputes, err := f.disputes.ListByPreInvoice(context.Background(), orgID, pi.GetID())
		require.NoError(t, err)
		assert.Empty(t, disputes)
	})

	t.Run("above tolerance opens one dispute per discrepancy", func(t *testing.T) {
		f := newReconciliationFixture()
		pi := seedPendingValidation(t, f.preInvoices, orgID, "540")

		got, err := f.service.UploadCarrierInvoice(context.Background(), orgID, pi.GetID(), carrierInvoice("600"), "compta@durand.fr")
		require.NoError(t, err)
		assert.Equal(t, billing.PreInvoiceStatusDiscrepancyDetected, got.Status)
		require.Len(t, got.Discrepancies, 1)
		assert.Equal(t, billing.DiscrepancyPriceGlobal, got.Discrepancies[0].Type)

		disputes, err := f.disputes.ListByPreInvoice(context.Background(), orgID, pi.GetID())
		require.NoError(t, err)
		require.Len(t, disputes, 1)
		assert.Equal(t, got.Discrepancies[0].ID, disputes[0].DiscrepancyID)
	})

	t.Run("corrected re-upload keeps the earlier discrepancies", func(t *testing.T) {
		f := newReconciliationFixture()
		pi := seedPendingValidation(t, f.preInvoices, orgID, "540")

		_, err := f.service.UploadCarrierInvoice(context.Background(), orgID, pi.GetID(), carrierInvoice("600"), "compta@durand.fr")
		require.NoError(t, err)

		got, err := f.service.UploadCarrierInvoice(context.Background(), orgID, pi.GetID(), carrierInvoice("650"), "compta@durand.fr")
		require.NoError(t, err)
		assert.Len(t, got.Discrepancies, 2)
	})

	t.Run("dispute save failure leaves the invoice untouched", func(t *testing.T) {
		f := newReconciliationFixture()
		pi := seedPendingValidation(t, f.preInvoices, orgID, "540")
		f.disputes.saveErr = errors.New("dispute store unavailable")

		_, err := f.service.UploadCarrierInvoice(context.Background(), orgID, pi.GetID(), carrierInvoice("600"), "compta@durand.fr")
		require.Error(t, err)

		// no dispute stored, and the detected discrepancy never persisted
		stored, err := f.preInvoices.FindByID(context.Background(), orgID, pi.GetID())
		require.NoError(t, err)
		assert.Equal(t, billing.PreInvoiceStatusPendingValidation, stored.Status)
		assert.Empty(t, stored.Discrepancies)
		assert.Nil(t, stored.CarrierInvoice)

		disputes, err := f.disputes.ListByPreInvoice(context.Background(), orgID, pi.GetID())
		require.NoError(t, err)
		assert.Empty(t, disputes)
	})

	t.Run("unknown pre-invoice", func(t *testing.T) {
		f := newReconciliationFixture()
		_, err := f.service.UploadCarrierInvoice(context.Background(), orgID, uuid.New(), carrierInvoice("545"), "compta@durand.fr")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestReconciliationService_ValidateAndFinalize(t *testing.T) {
	orgID := uuid.New()

	t.Run("validate then finalize assigns the invoice number", func(t *testing.T) {
		f := newReconciliationFixture()
		pi := seedPendingValidation(t, f.preInvoices, orgID, "540")

		validated, err := f.service.Validate(context.Background(), orgID, pi.GetID(), "client@lactalis.fr", nil, "ok")
		require.NoError(t, err)
		assert.Equal(t, billing.PreInvoiceStatusValidated, validated.Status)

		finalized, err := f.service.Finalize(context.Background(), orgID, pi.GetID(), "billing@freightbill.io")
		require.NoError(t, err)
		assert.Equal(t, billing.PreInvoiceStatusFinalized, finalized.Status)
		require.NotNil(t, finalized.FinalInvoice)
		assert.Equal(t, "FAC-2025-00001", finalized.FinalInvoice.InvoiceNumber)
		require.NotNil(t, finalized.Payment)
		assert.Equal(t, 30, finalized.Payment.TermsDays)
	})

	t.Run("finalize re-allocates after losing the number race", func(t *testing.T) {
		f := newReconciliationFixture()
		pi := seedPendingValidation(t, f.preInvoices, orgID, "540")
		_, err := f.service.Validate(context.Background(), orgID, pi.GetID(), "client@lactalis.fr", nil, "")
		require.NoError(t, err)

		// the first save loses the unique index to a concurrent allocator
		f.preInvoices.saveErrOnce = shared.ErrConcurrencyConflict

		finalized, err := f.service.Finalize(context.Background(), orgID, pi.GetID(), "billing@freightbill.io")
		require.NoError(t, err)
		assert.Equal(t, billing.PreInvoiceStatusFinalized, finalized.Status)
		require.NotNil(t, finalized.FinalInvoice)
		assert.Equal(t, "FAC-2025-00002", finalized.FinalInvoice.InvoiceNumber)
	})

	t.Run("blocked validation returns the authoritative state", func(t *testing.T) {
		f := newReconciliationFixture()
		pi := seedPendingValidation(t, f.preInvoices, orgID, "540")
		_, err := pi.ApplyBlock(billing.BlockManual, "audit in progress", "ops@freightbill.io", nil)
		require.NoError(t, err)
		require.NoError(t, f.preInvoices.Save(context.Background(), pi))

		got, err := f.service.Validate(context.Background(), orgID, pi.GetID(), "client@lactalis.fr", nil, "")
		require.Error(t, err)
		var blocked *billing.BlockedError
		require.ErrorAs(t, err, &blocked)
		require.NotNil(t, got)
		assert.Equal(t, billing.PreInvoiceStatusPendingValidation, got.Status)
	})

	t.Run("contest after validation", func(t *testing.T) {
		f := newReconciliationFixture()
		pi := seedPendingValidation(t, f.preInvoices, orgID, "540")
		_, err := f.service.Validate(context.Background(), orgID, pi.GetID(), "client@lactalis.fr", nil, "")
		require.NoError(t, err)

		got, err := f.service.Contest(context.Background(), orgID, pi.GetID(), "rate misapplied on two lines", "client@lactalis.fr")
		require.NoError(t, err)
		assert.Equal(t, billing.PreInvoiceStatusContested, got.Status)
	})
}
