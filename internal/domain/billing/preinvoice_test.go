package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validatedPreInvoice(t *testing.T) *PreInvoice {
	t.Helper()
	pi := generatedPreInvoice(t, "540")
	require.NoError(t, pi.MarkPendingValidation("system", "no carrier invoice"))
	require.NoError(t, pi.Validate("client@acme.fr", nil, ""))
	return pi
}

func finalizedPreInvoice(t *testing.T) *PreInvoice {
	t.Helper()
	pi := validatedPreInvoice(t)
	require.NoError(t, pi.Finalize("FI-202603-00001", 30, "system"))
	return pi
}

func TestNewPreInvoice(t *testing.T) {
	t.Run("creates a draft with one history entry", func(t *testing.T) {
		pi, err := NewPreInvoice(
			uuid.New(), "PF-202603-00001", NewPeriod(2026, time.March),
			uuid.New(), "Transports Durand", uuid.New(), "Acme Industrie",
		)

		require.NoError(t, err)
		assert.Equal(t, PreInvoiceStatusDraft, pi.Status)
		assert.Len(t, pi.History, 1)
		assert.Equal(t, "created", pi.History[0].Action)
	})

	t.Run("fails without a number", func(t *testing.T) {
		_, err := NewPreInvoice(
			uuid.New(), "", NewPeriod(2026, time.March),
			uuid.New(), "Transports Durand", uuid.New(), "Acme Industrie",
		)

		assert.Error(t, err)
	})

	t.Run("fails without both parties", func(t *testing.T) {
		_, err := NewPreInvoice(
			uuid.New(), "PF-202603-00001", NewPeriod(2026, time.March),
			uuid.Nil, "", uuid.New(), "Acme Industrie",
		)

		assert.Error(t, err)
	})
}

func TestPeriod(t *testing.T) {
	p := NewPeriod(2026, time.March)

	assert.Equal(t, "2026-03", p.Key())
	assert.True(t, p.Contains(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, p.Contains(time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC)))
	assert.False(t, p.Contains(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, p.Contains(time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)))
}

func TestPreInvoice_Totals(t *testing.T) {
	t.Run("subtotal is the sum of line totals and TTC follows the TVA rate", func(t *testing.T) {
		pi := generatedPreInvoice(t, "540")

		assert.True(t, pi.Totals.SubtotalHT.Equal(dec("540")), pi.Totals.SubtotalHT.String())
		assert.True(t, pi.Totals.TVAAmount.Equal(dec("108")), pi.Totals.TVAAmount.String())
		assert.True(t, pi.Totals.TotalTTC.Equal(dec("648")), pi.Totals.TotalTTC.String())
	})

	t.Run("multiple lines roll up", func(t *testing.T) {
		pi := generatedPreInvoice(t, "540", "260", "200")

		assert.True(t, pi.Totals.SubtotalHT.Equal(dec("1000")))
		assert.True(t, pi.Totals.TotalTTC.Equal(dec("1200")))
	})

	t.Run("KPIs derive from lines", func(t *testing.T) {
		pi := generatedPreInvoice(t, "540", "260")

		assert.True(t, pi.KPIs.OnTimeDeliveryRate.Equal(dec("100")))
		assert.True(t, pi.KPIs.DocumentsCompleteRate.Equal(dec("100")))
	})
}

func TestPreInvoice_StateMachine(t *testing.T) {
	t.Run("replacing lines is only allowed on a draft", func(t *testing.T) {
		pi := generatedPreInvoice(t, "540")

		err := pi.ReplaceLines([]OrderBillingLine{testLine("100")}, nil, dec("20"), "system")

		var ite *InvalidTransitionError
		require.ErrorAs(t, err, &ite)
	})

	t.Run("generation requires at least one line", func(t *testing.T) {
		pi, err := NewPreInvoice(
			uuid.New(), "PF-202603-00009", NewPeriod(2026, time.March),
			uuid.New(), "Transports Durand", uuid.New(), "Acme Industrie",
		)
		require.NoError(t, err)

		assert.Error(t, pi.MarkGenerated("system"))
		assert.Equal(t, PreInvoiceStatusDraft, pi.Status)
	})

	t.Run("happy path to archived", func(t *testing.T) {
		pi := finalizedPreInvoice(t)

		exp, err := pi.AddExportAttempt(ERPSystemSAP, 5)
		require.NoError(t, err)
		require.NoError(t, exp.MarkSent("SAP-REF-1"))
		require.NoError(t, exp.MarkAcknowledged(`{"status":"ok"}`))
		require.NoError(t, pi.MarkExported("system"))
		require.NoError(t, pi.Archive("system"))

		assert.Equal(t, PreInvoiceStatusArchived, pi.Status)
	})

	t.Run("illegal transition reports both states", func(t *testing.T) {
		pi := generatedPreInvoice(t, "540")

		err := pi.Contest("too expensive", "client@acme.fr")

		var ite *InvalidTransitionError
		require.ErrorAs(t, err, &ite)
		assert.Equal(t, PreInvoiceStatusGenerated, ite.Current)
		assert.Equal(t, PreInvoiceStatusContested, ite.Requested)
		assert.Equal(t, PreInvoiceStatusGenerated, pi.Status)
	})

	t.Run("every transition appends one history entry", func(t *testing.T) {
		pi := generatedPreInvoice(t, "540")
		before := len(pi.History)

		require.NoError(t, pi.MarkPendingValidation("system", "no carrier invoice"))

		assert.Len(t, pi.History, before+1)
	})
}

func TestPreInvoice_Validate(t *testing.T) {
	t.Run("records the validation and moves to validated", func(t *testing.T) {
		pi := generatedPreInvoice(t, "540")
		require.NoError(t, pi.MarkPendingValidation("system", ""))

		err := pi.Validate("client@acme.fr", []LineAdjustment{
			{OrderID: pi.Lines[0].OrderID, Label: "waiting contested", Amount: dec("-20"), Reason: "gate log shows 45min"},
		}, "ok with adjustment")

		require.NoError(t, err)
		assert.Equal(t, PreInvoiceStatusValidated, pi.Status)
		require.NotNil(t, pi.IndustrialValidation)
		assert.Equal(t, "client@acme.fr", pi.IndustrialValidation.ValidatedBy)
		assert.Len(t, pi.IndustrialValidation.Adjustments, 1)
	})

	t.Run("adjustments require a reason", func(t *testing.T) {
		pi := generatedPreInvoice(t, "540")
		require.NoError(t, pi.MarkPendingValidation("system", ""))

		err := pi.Validate("client@acme.fr", []LineAdjustment{
			{OrderID: pi.Lines[0].OrderID, Amount: dec("-20")},
		}, "")

		assert.Error(t, err)
		assert.Equal(t, PreInvoiceStatusPendingValidation, pi.Status)
	})

	t.Run("rejected while a block is active, succeeds after lift", func(t *testing.T) {
		pi := generatedPreInvoice(t, "540")
		require.NoError(t, pi.MarkPendingValidation("system", ""))
		block, err := pi.ApplyBlock(BlockMissingDocuments, "POD missing on ORD-1", "system", nil)
		require.NoError(t, err)

		err = pi.Validate("client@acme.fr", nil, "")

		var be *BlockedError
		require.ErrorAs(t, err, &be)
		assert.Len(t, be.Blocks, 1)
		assert.Equal(t, PreInvoiceStatusPendingValidation, pi.Status)

		require.NoError(t, pi.LiftBlock(block.ID, "ops@freightbill.io", "POD supplied"))
		require.NoError(t, pi.Validate("client@acme.fr", nil, ""))
		assert.Equal(t, PreInvoiceStatusValidated, pi.Status)
	})
}

func TestPreInvoice_DiscrepancyFlow(t *testing.T) {
	t.Run("detection moves to discrepancy_detected and appends", func(t *testing.T) {
		pi := generatedPreInvoice(t, "540")
		attachInvoice(t, pi, "600", nil)

		first := NewDiscrepancy(pi.GetID(), DiscrepancyPriceGlobal, dec("540"), dec("600"))
		require.NoError(t, pi.MarkDiscrepancyDetected([]Discrepancy{first}, "system"))
		assert.Equal(t, PreInvoiceStatusDiscrepancyDetected, pi.Status)
		assert.Len(t, pi.Discrepancies, 1)

		// re-running detection appends, never replaces
		second := NewDiscrepancy(pi.GetID(), DiscrepancyWaitingTime, dec("40"), dec("80"))
		require.NoError(t, pi.MarkDiscrepancyDetected([]Discrepancy{second}, "system"))
		assert.Len(t, pi.Discrepancies, 2)
	})

	t.Run("conflict cannot close with unresolved discrepancies", func(t *testing.T) {
		pi := generatedPreInvoice(t, "540")
		attachInvoice(t, pi, "600", nil)
		d := NewDiscrepancy(pi.GetID(), DiscrepancyPriceGlobal, dec("540"), dec("600"))
		require.NoError(t, pi.MarkDiscrepancyDetected([]Discrepancy{d}, "system"))

		err := pi.CloseConflict(dec("570"), "ops@freightbill.io")

		assert.Error(t, err)
		assert.Equal(t, PreInvoiceStatusDiscrepancyDetected, pi.Status)
	})

	t.Run("settlement is recorded on invoice control, lines untouched", func(t *testing.T) {
		pi := generatedPreInvoice(t, "540")
		attachInvoice(t, pi, "600", nil)
		d := NewDiscrepancy(pi.GetID(), DiscrepancyPriceGlobal, dec("540"), dec("600"))
		require.NoError(t, pi.MarkDiscrepancyDetected([]Discrepancy{d}, "system"))
		require.NoError(t, pi.ResolveDiscrepancy(pi.Discrepancies[0].ID, dec("570"), "split agreed", "ops@freightbill.io"))

		require.NoError(t, pi.CloseConflict(dec("570"), "ops@freightbill.io"))

		assert.Equal(t, PreInvoiceStatusConflictClosed, pi.Status)
		require.NotNil(t, pi.InvoiceControl)
		assert.True(t, pi.InvoiceControl.SettledAmount.Equal(dec("570")))
		assert.True(t, pi.InvoiceControl.Difference.Equal(dec("30")))
		assert.True(t, pi.Totals.SubtotalHT.Equal(dec("540")), "computed totals must stay untouched")

		// a conflict-closed invoice can finalize
		require.NoError(t, pi.Finalize("FI-202603-00002", 30, "system"))
	})
}

func TestPreInvoice_Finalize(t *testing.T) {
	t.Run("assigns final invoice metadata and payment countdown", func(t *testing.T) {
		pi := validatedPreInvoice(t)

		require.NoError(t, pi.Finalize("FI-202603-00001", 30, "system"))

		assert.Equal(t, PreInvoiceStatusFinalized, pi.Status)
		require.NotNil(t, pi.FinalInvoice)
		assert.Equal(t, "FI-202603-00001", pi.FinalInvoice.InvoiceNumber)
		require.NotNil(t, pi.Payment)
		assert.Equal(t, 30, pi.Payment.TermsDays)
		assert.Equal(t, 30, pi.Payment.DaysRemaining)
	})

	t.Run("re-entry is rejected with AlreadyFinalized", func(t *testing.T) {
		pi := finalizedPreInvoice(t)
		number := pi.FinalInvoice.InvoiceNumber

		err := pi.Finalize("FI-202603-00099", 30, "system")

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAlreadyFinalized))
		assert.Equal(t, number, pi.FinalInvoice.InvoiceNumber)
	})

	t.Run("rejected under an active block without mutating status", func(t *testing.T) {
		pi := validatedPreInvoice(t)
		_, err := pi.ApplyBlock(BlockManual, "quality review", "ops@freightbill.io", nil)
		require.NoError(t, err)

		err = pi.Finalize("FI-202603-00001", 30, "system")

		var be *BlockedError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, PreInvoiceStatusValidated, pi.Status)
		assert.Nil(t, pi.FinalInvoice)
	})
}

func TestPreInvoice_ExportAttempts(t *testing.T) {
	t.Run("retry cap surfaces export exhaustion, invoice stays finalized", func(t *testing.T) {
		pi := finalizedPreInvoice(t)

		for i := 1; i <= 5; i++ {
			exp, err := pi.AddExportAttempt(ERPSystemSAP, 5)
			require.NoError(t, err)
			assert.Equal(t, i, exp.Attempt)
			require.NoError(t, exp.MarkSent("SAP-REF"))
			require.NoError(t, exp.MarkFailed("connection reset"))
		}

		_, err := pi.AddExportAttempt(ERPSystemSAP, 5)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrExportExhausted))
		assert.Equal(t, PreInvoiceStatusFinalized, pi.Status)
		assert.Len(t, pi.Exports, 5)
	})

	t.Run("no new attempt once acknowledged", func(t *testing.T) {
		pi := finalizedPreInvoice(t)
		exp, err := pi.AddExportAttempt(ERPSystemSAP, 5)
		require.NoError(t, err)
		require.NoError(t, exp.MarkSent("SAP-REF-1"))
		require.NoError(t, exp.MarkAcknowledged("ok"))

		_, err = pi.AddExportAttempt(ERPSystemSAP, 5)
		assert.True(t, errors.Is(err, ErrExportAcknowledged))
	})

	t.Run("cannot export before finalization", func(t *testing.T) {
		pi := validatedPreInvoice(t)

		_, err := pi.AddExportAttempt(ERPSystemSAP, 5)

		var ite *InvalidTransitionError
		require.ErrorAs(t, err, &ite)
	})

	t.Run("mark exported requires an acknowledged export", func(t *testing.T) {
		pi := finalizedPreInvoice(t)

		assert.Error(t, pi.MarkExported("system"))
	})
}

func TestPreInvoice_ArchivedImmutability(t *testing.T) {
	pi := finalizedPreInvoice(t)
	exp, err := pi.AddExportAttempt(ERPSystemSAP, 5)
	require.NoError(t, err)
	require.NoError(t, exp.MarkSent("SAP-REF-1"))
	require.NoError(t, exp.MarkAcknowledged("ok"))
	require.NoError(t, pi.MarkExported("system"))
	require.NoError(t, pi.Archive("system"))

	subtotal := pi.Totals.SubtotalHT
	lineCount := len(pi.Lines)

	assert.Error(t, pi.Validate("client@acme.fr", nil, ""))
	assert.Error(t, pi.Contest("late contest", "client@acme.fr"))
	assert.Error(t, pi.ReplaceLines(nil, nil, dec("20"), "system"))
	assert.Error(t, pi.AttachCarrierInvoice(CarrierInvoice{InvoiceAmount: dec("1")}, "carrier"))
	_, err = pi.ApplyBlock(BlockManual, "x", "ops", nil)
	assert.Error(t, err)
	assert.Error(t, pi.Archive("system"))

	assert.Equal(t, PreInvoiceStatusArchived, pi.Status)
	assert.True(t, pi.Totals.SubtotalHT.Equal(subtotal))
	assert.Len(t, pi.Lines, lineCount)
}

func TestPreInvoice_PaymentCountdown(t *testing.T) {
	pi := finalizedPreInvoice(t)

	t.Run("recomputes whole days remaining", func(t *testing.T) {
		changed := pi.RecomputePaymentCountdown(pi.FinalInvoice.GeneratedAt.AddDate(0, 0, 10))

		assert.True(t, changed)
		assert.Equal(t, 20, pi.Payment.DaysRemaining)
	})

	t.Run("goes negative when overdue", func(t *testing.T) {
		changed := pi.RecomputePaymentCountdown(pi.Payment.DueDate.AddDate(0, 0, 3))

		assert.True(t, changed)
		assert.Equal(t, -3, pi.Payment.DaysRemaining)
	})

	t.Run("stops once paid", func(t *testing.T) {
		require.NoError(t, pi.RecordPayment(time.Now(), "ops@freightbill.io"))

		assert.False(t, pi.RecomputePaymentCountdown(time.Now().AddDate(0, 0, 5)))
		assert.Equal(t, 0, pi.Payment.DaysRemaining)
	})
}
