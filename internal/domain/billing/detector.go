package billing

import (
	"github.com/shopspring/decimal"
)

// DefaultTolerancePercent is the engine-wide discrepancy tolerance used when
// neither configuration nor the tariff grid overrides it.
var DefaultTolerancePercent = decimal.NewFromInt(2)

// DetectionResult is the outcome of comparing a carrier invoice against the
// computed totals.
type DetectionResult struct {
	AutoAccepted      bool
	Difference        decimal.Decimal
	DifferencePercent decimal.Decimal
	Discrepancies     []Discrepancy
}

// Detector compares the computed pre-invoice totals against a
// carrier-submitted invoice and produces a typed, quantified discrepancy
// list. A detected discrepancy is expected domain output, not a failure.
type Detector struct {
	tolerancePercent decimal.Decimal
}

// NewDetector creates a detector with the given default tolerance (percent)
func NewDetector(tolerancePercent decimal.Decimal) *Detector {
	if tolerancePercent.IsNegative() {
		tolerancePercent = DefaultTolerancePercent
	}
	return &Detector{tolerancePercent: tolerancePercent}
}

// Detect runs the comparison. The tolerance may be overridden per tariff
// grid; pass nil to use the detector default. The global comparison is
// against totals.SubtotalHT; when the carrier itemizes a breakdown, each
// itemized category is compared independently with the same tolerance.
func (d *Detector) Detect(pi *PreInvoice, toleranceOverride *decimal.Decimal) DetectionResult {
	tolerance := d.tolerancePercent
	if toleranceOverride != nil {
		tolerance = *toleranceOverride
	}

	result := DetectionResult{}
	if pi.CarrierInvoice == nil {
		result.AutoAccepted = true
		return result
	}

	computed := pi.Totals.SubtotalHT
	claimed := pi.CarrierInvoice.InvoiceAmount
	result.Difference = claimed.Sub(computed)
	result.DifferencePercent = differencePercent(computed, claimed)

	if result.DifferencePercent.Abs().LessThanOrEqual(tolerance) {
		result.AutoAccepted = true
		return result
	}

	result.Discrepancies = append(result.Discrepancies,
		NewDiscrepancy(pi.GetID(), DiscrepancyPriceGlobal, computed, claimed))

	if b := pi.CarrierInvoice.Breakdown; b != nil {
		result.Discrepancies = append(result.Discrepancies,
			d.categoryDiscrepancies(pi, b, tolerance)...)
	}
	return result
}

// categoryDiscrepancies compares each carrier-itemized category against the
// computed rollup for that category
func (d *Detector) categoryDiscrepancies(pi *PreInvoice, b *CarrierBreakdown, tolerance decimal.Decimal) []Discrepancy {
	type comparison struct {
		dType    DiscrepancyType
		computed decimal.Decimal
		claimed  *decimal.Decimal
	}
	comparisons := []comparison{
		{DiscrepancyDistance, pi.Totals.BaseAmount, b.Distance},
		{DiscrepancyOptions, pi.Totals.OptionsAmount, b.Options},
		{DiscrepancyPallets, pi.Totals.PalletExchangeAmount, b.Pallets},
		{DiscrepancyWaitingTime, pi.Totals.WaitingAmount, b.WaitingTime},
	}

	var found []Discrepancy
	for _, cmp := range comparisons {
		if cmp.claimed == nil {
			continue
		}
		pct := differencePercent(cmp.computed, *cmp.claimed)
		if pct.Abs().GreaterThan(tolerance) {
			found = append(found, NewDiscrepancy(pi.GetID(), cmp.dType, cmp.computed, *cmp.claimed))
		}
	}
	return found
}

// differencePercent computes (claimed - computed) / computed * 100 with a
// division-by-zero guard: a non-zero claim against a zero computed amount is
// a full 100% discrepancy.
func differencePercent(computed, claimed decimal.Decimal) decimal.Decimal {
	if computed.IsZero() {
		if claimed.IsZero() {
			return decimal.Zero
		}
		return decimal.NewFromInt(100)
	}
	return claimed.Sub(computed).Div(computed).Mul(decimal.NewFromInt(100))
}
