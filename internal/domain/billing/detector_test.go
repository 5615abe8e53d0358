package billing

import (
	"testing"
	"time"

	"github.com/freightbill/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLine(total string) OrderBillingLine {
	return OrderBillingLine{
		OrderID:     uuid.New(),
		OrderNumber: "ORD-20260310-00001",
		BaseAmount:  dec("500"),
		WaitingAmount: func() decimal.Decimal {
			if total == "540" {
				return dec("40")
			}
			return decimal.Zero
		}(),
		TotalAmount:  dec(total),
		CMRValidated: true,
		KPIs: LineKPIs{
			OnTimePickup:      true,
			OnTimeDelivery:    true,
			DocumentsComplete: true,
			IncidentFree:      true,
		},
	}
}

func generatedPreInvoice(t *testing.T, lineTotals ...string) *PreInvoice {
	t.Helper()
	pi, err := NewPreInvoice(
		uuid.New(), "PF-202603-00001", NewPeriod(2026, time.March),
		uuid.New(), "Transports Durand", uuid.New(), "Acme Industrie",
	)
	require.NoError(t, err)

	lines := make([]OrderBillingLine, 0, len(lineTotals))
	for _, total := range lineTotals {
		lines = append(lines, testLine(total))
	}
	require.NoError(t, pi.ReplaceLines(lines, nil, dec("20"), "system"))
	require.NoError(t, pi.MarkGenerated("system"))
	return pi
}

func attachInvoice(t *testing.T, pi *PreInvoice, amount string, breakdown *CarrierBreakdown) {
	t.Helper()
	err := pi.AttachCarrierInvoice(CarrierInvoice{
		InvoiceNumber: "FD-2026-117",
		InvoiceDate:   time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		InvoiceAmount: dec(amount),
		Breakdown:     breakdown,
		UploadedBy:    "carrier",
	}, "carrier")
	require.NoError(t, err)
}

func TestDetector_Detect(t *testing.T) {
	detector := NewDetector(dec("2"))

	t.Run("no carrier invoice is auto-accepted", func(t *testing.T) {
		pi := generatedPreInvoice(t, "540")

		result := detector.Detect(pi, nil)

		assert.True(t, result.AutoAccepted)
		assert.Empty(t, result.Discrepancies)
	})

	t.Run("within tolerance is auto-accepted", func(t *testing.T) {
		// 545 against 540 is roughly 0.93%
		pi := generatedPreInvoice(t, "540")
		attachInvoice(t, pi, "545", nil)

		result := detector.Detect(pi, nil)

		assert.True(t, result.AutoAccepted)
		assert.Empty(t, result.Discrepancies)
		assert.True(t, result.Difference.Equal(dec("5")))
	})

	t.Run("exactly at tolerance is auto-accepted", func(t *testing.T) {
		// 550.80 against 540 is exactly 2.00%
		pi := generatedPreInvoice(t, "540")
		attachInvoice(t, pi, "550.80", nil)

		result := detector.Detect(pi, nil)

		assert.True(t, result.AutoAccepted)
		assert.Empty(t, result.Discrepancies)
	})

	t.Run("above tolerance creates one global discrepancy", func(t *testing.T) {
		// 551 against 540 is roughly 2.04%
		pi := generatedPreInvoice(t, "540")
		attachInvoice(t, pi, "551", nil)

		result := detector.Detect(pi, nil)

		assert.False(t, result.AutoAccepted)
		require.Len(t, result.Discrepancies, 1)
		d := result.Discrepancies[0]
		assert.Equal(t, DiscrepancyPriceGlobal, d.Type)
		assert.True(t, d.ExpectedAmount.Equal(dec("540")))
		assert.True(t, d.ActualAmount.Equal(dec("551")))
		assert.True(t, d.Difference.Equal(dec("11")))
		assert.Equal(t, DiscrepancyStatusDetected, d.Status)
		assert.Equal(t, valueobject.EUR, d.GetDifferenceMoney().Currency())
		assert.True(t, d.GetDifferenceMoney().Equals(valueobject.NewMoneyEUR(dec("11"))))
	})

	t.Run("under-billing beyond tolerance is also flagged", func(t *testing.T) {
		pi := generatedPreInvoice(t, "540")
		attachInvoice(t, pi, "500", nil)

		result := detector.Detect(pi, nil)

		assert.False(t, result.AutoAccepted)
		require.Len(t, result.Discrepancies, 1)
		assert.True(t, result.Discrepancies[0].Difference.Equal(dec("-40")))
	})

	t.Run("itemized breakdown produces category sub-discrepancies", func(t *testing.T) {
		pi := generatedPreInvoice(t, "540")
		attachInvoice(t, pi, "600", &CarrierBreakdown{
			Distance:    decPtr("560"), // computed base is 500
			WaitingTime: decPtr("40"),  // matches computed waiting
		})

		result := detector.Detect(pi, nil)

		assert.False(t, result.AutoAccepted)
		require.Len(t, result.Discrepancies, 2)
		assert.Equal(t, DiscrepancyPriceGlobal, result.Discrepancies[0].Type)
		assert.Equal(t, DiscrepancyDistance, result.Discrepancies[1].Type)
		assert.True(t, result.Discrepancies[1].ActualAmount.Equal(dec("560")))
	})

	t.Run("zero computed amount with non-zero claim is a full discrepancy", func(t *testing.T) {
		pi, err := NewPreInvoice(
			uuid.New(), "PF-202603-00002", NewPeriod(2026, time.March),
			uuid.New(), "Transports Durand", uuid.New(), "Acme Industrie",
		)
		require.NoError(t, err)
		require.NoError(t, pi.ReplaceLines([]OrderBillingLine{testLine("0")}, nil, dec("20"), "system"))
		require.NoError(t, pi.MarkGenerated("system"))
		attachInvoice(t, pi, "300", nil)

		result := detector.Detect(pi, nil)

		assert.False(t, result.AutoAccepted)
		require.Len(t, result.Discrepancies, 1)
		assert.True(t, result.DifferencePercent.Equal(dec("100")))
	})

	t.Run("grid tolerance override widens acceptance", func(t *testing.T) {
		pi := generatedPreInvoice(t, "540")
		attachInvoice(t, pi, "551", nil)

		result := detector.Detect(pi, decPtr("5"))

		assert.True(t, result.AutoAccepted)
		assert.Empty(t, result.Discrepancies)
	})
}
