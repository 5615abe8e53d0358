package billing

import (
	"time"

	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/freightbill/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscrepancyType categorizes a detected mismatch between computed and
// carrier-submitted amounts
type DiscrepancyType string

const (
	DiscrepancyPriceGlobal DiscrepancyType = "PRICE_GLOBAL"
	DiscrepancyDistance    DiscrepancyType = "DISTANCE"
	DiscrepancyOptions     DiscrepancyType = "OPTIONS"
	DiscrepancyPallets     DiscrepancyType = "PALLETS"
	DiscrepancyWaitingTime DiscrepancyType = "WAITING_TIME"
	DiscrepancyVolume      DiscrepancyType = "VOLUME"
	DiscrepancyOther       DiscrepancyType = "OTHER"
)

// IsValid checks if the type is a valid DiscrepancyType
func (t DiscrepancyType) IsValid() bool {
	switch t {
	case DiscrepancyPriceGlobal, DiscrepancyDistance, DiscrepancyOptions,
		DiscrepancyPallets, DiscrepancyWaitingTime, DiscrepancyVolume, DiscrepancyOther:
		return true
	}
	return false
}

// DiscrepancyStatus tracks the resolution lifecycle of one discrepancy
type DiscrepancyStatus string

const (
	DiscrepancyStatusDetected  DiscrepancyStatus = "DETECTED"
	DiscrepancyStatusJustified DiscrepancyStatus = "JUSTIFIED"
	DiscrepancyStatusContested DiscrepancyStatus = "CONTESTED"
	DiscrepancyStatusResolved  DiscrepancyStatus = "RESOLVED"
)

// IsValid checks if the status is a valid DiscrepancyStatus
func (s DiscrepancyStatus) IsValid() bool {
	switch s {
	case DiscrepancyStatusDetected, DiscrepancyStatusJustified,
		DiscrepancyStatusContested, DiscrepancyStatusResolved:
		return true
	}
	return false
}

// IsTerminal returns true when the discrepancy needs no further action
func (s DiscrepancyStatus) IsTerminal() bool {
	return s == DiscrepancyStatusResolved
}

// Discrepancy is one detected, quantified mismatch between the computed
// pre-invoice amount and the carrier's submitted amount. It is owned by its
// PreInvoice and immutable once created except for status and resolution
// fields.
type Discrepancy struct {
	ID                uuid.UUID         `json:"id"`
	PreInvoiceID      uuid.UUID         `json:"pre_invoice_id"`
	Type              DiscrepancyType   `json:"type"`
	ExpectedAmount    decimal.Decimal   `json:"expected_amount"` // what the engine computed
	ActualAmount      decimal.Decimal   `json:"actual_amount"`   // what the carrier claims
	Difference        decimal.Decimal   `json:"difference"`
	DifferencePercent decimal.Decimal   `json:"difference_percent"`
	Status            DiscrepancyStatus `json:"status"`
	ResolutionNote    string            `json:"resolution_note,omitempty"`
	ResolvedAmount    *decimal.Decimal  `json:"resolved_amount,omitempty"`
	ResolvedBy        string            `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time        `json:"resolved_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// NewDiscrepancy creates a new discrepancy in DETECTED status
func NewDiscrepancy(preInvoiceID uuid.UUID, dType DiscrepancyType, expected, actual decimal.Decimal) Discrepancy {
	diff := actual.Sub(expected)
	var pct decimal.Decimal
	if expected.IsZero() {
		// Division-by-zero guard: a non-zero claim against a zero computed
		// amount is flagged as a full 100% discrepancy.
		pct = decimal.NewFromInt(100)
		if actual.IsZero() {
			pct = decimal.Zero
		}
	} else {
		pct = diff.Div(expected).Mul(decimal.NewFromInt(100))
	}
	return Discrepancy{
		ID:                uuid.New(),
		PreInvoiceID:      preInvoiceID,
		Type:              dType,
		ExpectedAmount:    expected,
		ActualAmount:      actual,
		Difference:        diff,
		DifferencePercent: pct,
		Status:            DiscrepancyStatusDetected,
		CreatedAt:         time.Now(),
	}
}

// GetExpectedMoney returns the engine-computed amount as Money
func (d *Discrepancy) GetExpectedMoney() valueobject.Money {
	return valueobject.NewMoneyEUR(d.ExpectedAmount)
}

// GetActualMoney returns the carrier-claimed amount as Money
func (d *Discrepancy) GetActualMoney() valueobject.Money {
	return valueobject.NewMoneyEUR(d.ActualAmount)
}

// GetDifferenceMoney returns the claimed-minus-computed difference as Money
func (d *Discrepancy) GetDifferenceMoney() valueobject.Money {
	return d.GetActualMoney().MustSubtract(d.GetExpectedMoney())
}

// Resolve marks the discrepancy resolved with the settled amount
func (d *Discrepancy) Resolve(amount decimal.Decimal, note, resolvedBy string) error {
	if d.Status == DiscrepancyStatusResolved {
		return shared.NewDomainError("DISCREPANCY_RESOLVED", "Discrepancy is already resolved")
	}
	now := time.Now()
	d.Status = DiscrepancyStatusResolved
	d.ResolvedAmount = &amount
	d.ResolutionNote = note
	d.ResolvedBy = resolvedBy
	d.ResolvedAt = &now
	return nil
}

// MarkJustified records that the carrier supplied an accepted justification
func (d *Discrepancy) MarkJustified(note string) error {
	if d.Status.IsTerminal() {
		return shared.NewDomainError("DISCREPANCY_RESOLVED", "Discrepancy is already resolved")
	}
	d.Status = DiscrepancyStatusJustified
	d.ResolutionNote = note
	return nil
}

// MarkContested records that a party rejects the detected difference
func (d *Discrepancy) MarkContested(note string) error {
	if d.Status.IsTerminal() {
		return shared.NewDomainError("DISCREPANCY_RESOLVED", "Discrepancy is already resolved")
	}
	d.Status = DiscrepancyStatusContested
	d.ResolutionNote = note
	return nil
}
