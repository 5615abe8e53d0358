package billing

import (
	"fmt"
	"time"

	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/freightbill/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PreInvoiceStatus is the reconciliation state machine position
type PreInvoiceStatus string

const (
	PreInvoiceStatusDraft                PreInvoiceStatus = "DRAFT"
	PreInvoiceStatusGenerated            PreInvoiceStatus = "GENERATED"
	PreInvoiceStatusDiscrepancyDetected  PreInvoiceStatus = "DISCREPANCY_DETECTED"
	PreInvoiceStatusPendingValidation    PreInvoiceStatus = "PENDING_VALIDATION"
	PreInvoiceStatusValidated            PreInvoiceStatus = "VALIDATED"
	PreInvoiceStatusContested            PreInvoiceStatus = "CONTESTED"
	PreInvoiceStatusConflictClosed       PreInvoiceStatus = "CONFLICT_CLOSED"
	PreInvoiceStatusFinalized            PreInvoiceStatus = "FINALIZED"
	PreInvoiceStatusExported             PreInvoiceStatus = "EXPORTED"
	PreInvoiceStatusArchived             PreInvoiceStatus = "ARCHIVED"
)

// IsValid checks if the status is a valid PreInvoiceStatus
func (s PreInvoiceStatus) IsValid() bool {
	switch s {
	case PreInvoiceStatusDraft, PreInvoiceStatusGenerated, PreInvoiceStatusDiscrepancyDetected,
		PreInvoiceStatusPendingValidation, PreInvoiceStatusValidated, PreInvoiceStatusContested,
		PreInvoiceStatusConflictClosed, PreInvoiceStatusFinalized, PreInvoiceStatusExported,
		PreInvoiceStatusArchived:
		return true
	}
	return false
}

// IsTerminal returns true for the archived state
func (s PreInvoiceStatus) IsTerminal() bool {
	return s == PreInvoiceStatusArchived
}

// AtOrPastFinalized returns true once the final invoice number is assigned
func (s PreInvoiceStatus) AtOrPastFinalized() bool {
	return s == PreInvoiceStatusFinalized || s == PreInvoiceStatusExported || s == PreInvoiceStatusArchived
}

// String returns the string representation
func (s PreInvoiceStatus) String() string {
	return string(s)
}

// allowedTransitions lists the legal state machine edges. Anything not
// listed is rejected with InvalidTransitionError.
var allowedTransitions = map[PreInvoiceStatus][]PreInvoiceStatus{
	PreInvoiceStatusDraft:               {PreInvoiceStatusGenerated},
	PreInvoiceStatusGenerated:           {PreInvoiceStatusPendingValidation, PreInvoiceStatusDiscrepancyDetected},
	PreInvoiceStatusPendingValidation:   {PreInvoiceStatusValidated, PreInvoiceStatusDiscrepancyDetected},
	PreInvoiceStatusDiscrepancyDetected: {PreInvoiceStatusConflictClosed},
	PreInvoiceStatusValidated:           {PreInvoiceStatusContested, PreInvoiceStatusFinalized},
	PreInvoiceStatusContested:           {PreInvoiceStatusConflictClosed},
	PreInvoiceStatusConflictClosed:      {PreInvoiceStatusFinalized},
	PreInvoiceStatusFinalized:           {PreInvoiceStatusExported},
	PreInvoiceStatusExported:            {PreInvoiceStatusArchived},
	PreInvoiceStatusArchived:            {},
}

// CanTransitionTo reports whether the edge from s to next is legal
func (s PreInvoiceStatus) CanTransitionTo(next PreInvoiceStatus) bool {
	for _, t := range allowedTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Period is one billing month with its half-open instant window
type Period struct {
	Year      int       `json:"year"`
	Month     time.Month `json:"month"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"` // exclusive
}

// NewPeriod builds the billing period for one calendar month in UTC
func NewPeriod(year int, month time.Month) Period {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Period{
		Year:      year,
		Month:     month,
		StartDate: start,
		EndDate:   start.AddDate(0, 1, 0),
	}
}

// Key returns the period in YYYY-MM form, used for idempotency markers
func (p Period) Key() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Contains reports whether t falls within [StartDate, EndDate)
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.StartDate) && t.Before(p.EndDate)
}

// LineKPIs are the per-order execution quality flags
type LineKPIs struct {
	OnTimePickup      bool `json:"on_time_pickup"`
	OnTimeDelivery    bool `json:"on_time_delivery"`
	DocumentsComplete bool `json:"documents_complete"`
	IncidentFree      bool `json:"incident_free"`
}

// OrderBillingLine is one priced order inside a pre-invoice
type OrderBillingLine struct {
	OrderID              uuid.UUID       `json:"order_id"`
	OrderNumber          string          `json:"order_number"`
	PickupAt             time.Time       `json:"pickup_at"`
	DeliveredAt          time.Time       `json:"delivered_at"`
	DistanceKm           float64         `json:"distance_km"`
	BaseAmount           decimal.Decimal `json:"base_amount"`
	WaitingAmount        decimal.Decimal `json:"waiting_amount"`
	OptionsAmount        decimal.Decimal `json:"options_amount"`
	PalletExchangeAmount decimal.Decimal `json:"pallet_exchange_amount"`
	DelayPenaltyAmount   decimal.Decimal `json:"delay_penalty_amount"`
	OtherPenaltyAmount   decimal.Decimal `json:"other_penalty_amount"`
	FuelSurchargeAmount  decimal.Decimal `json:"fuel_surcharge_amount"`
	TollsAmount          decimal.Decimal `json:"tolls_amount"`
	OtherAmount          decimal.Decimal `json:"other_amount"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	CMRValidated         bool            `json:"cmr_validated"`
	KPIs                 LineKPIs        `json:"kpis"`
}

// InvoiceTotals is the rollup of every line category plus tax
type InvoiceTotals struct {
	BaseAmount           decimal.Decimal `json:"base_amount"`
	WaitingAmount        decimal.Decimal `json:"waiting_amount"`
	OptionsAmount        decimal.Decimal `json:"options_amount"`
	PalletExchangeAmount decimal.Decimal `json:"pallet_exchange_amount"`
	DelayPenaltyAmount   decimal.Decimal `json:"delay_penalty_amount"`
	OtherPenaltyAmount   decimal.Decimal `json:"other_penalty_amount"`
	FuelSurchargeAmount  decimal.Decimal `json:"fuel_surcharge_amount"`
	TollsAmount          decimal.Decimal `json:"tolls_amount"`
	OtherAmount          decimal.Decimal `json:"other_amount"`
	SubtotalHT           decimal.Decimal `json:"subtotal_ht"`
	TVARate              decimal.Decimal `json:"tva_rate"`
	TVAAmount            decimal.Decimal `json:"tva_amount"`
	TotalTTC             decimal.Decimal `json:"total_ttc"`
}

// computeTotals rolls lines up into totals with the given TVA rate
func computeTotals(lines []OrderBillingLine, tvaRate decimal.Decimal) InvoiceTotals {
	t := InvoiceTotals{TVARate: tvaRate}
	for _, l := range lines {
		t.BaseAmount = t.BaseAmount.Add(l.BaseAmount)
		t.WaitingAmount = t.WaitingAmount.Add(l.WaitingAmount)
		t.OptionsAmount = t.OptionsAmount.Add(l.OptionsAmount)
		t.PalletExchangeAmount = t.PalletExchangeAmount.Add(l.PalletExchangeAmount)
		t.DelayPenaltyAmount = t.DelayPenaltyAmount.Add(l.DelayPenaltyAmount)
		t.OtherPenaltyAmount = t.OtherPenaltyAmount.Add(l.OtherPenaltyAmount)
		t.FuelSurchargeAmount = t.FuelSurchargeAmount.Add(l.FuelSurchargeAmount)
		t.TollsAmount = t.TollsAmount.Add(l.TollsAmount)
		t.OtherAmount = t.OtherAmount.Add(l.OtherAmount)
		t.SubtotalHT = t.SubtotalHT.Add(l.TotalAmount)
	}
	t.TVAAmount = t.SubtotalHT.Mul(tvaRate).Div(decimal.NewFromInt(100)).Round(2)
	t.TotalTTC = t.SubtotalHT.Add(t.TVAAmount)
	return t
}

// InvoiceKPIs are the derived execution quality rates, always recomputable
// from the lines
type InvoiceKPIs struct {
	OnTimePickupRate      decimal.Decimal `json:"on_time_pickup_rate"`
	OnTimeDeliveryRate    decimal.Decimal `json:"on_time_delivery_rate"`
	DocumentsCompleteRate decimal.Decimal `json:"documents_complete_rate"`
	IncidentFreeRate      decimal.Decimal `json:"incident_free_rate"`
}

// computeKPIs derives the quality rates (percentages) from the lines
func computeKPIs(lines []OrderBillingLine) InvoiceKPIs {
	if len(lines) == 0 {
		return InvoiceKPIs{}
	}
	var pickup, delivery, docs, incident int
	for _, l := range lines {
		if l.KPIs.OnTimePickup {
			pickup++
		}
		if l.KPIs.OnTimeDelivery {
			delivery++
		}
		if l.KPIs.DocumentsComplete {
			docs++
		}
		if l.KPIs.IncidentFree {
			incident++
		}
	}
	total := decimal.NewFromInt(int64(len(lines)))
	rate := func(n int) decimal.Decimal {
		return decimal.NewFromInt(int64(n)).Div(total).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return InvoiceKPIs{
		OnTimePickupRate:      rate(pickup),
		OnTimeDeliveryRate:    rate(delivery),
		DocumentsCompleteRate: rate(docs),
		IncidentFreeRate:      rate(incident),
	}
}

// LineAdjustment is one client-side correction applied during validation.
// Adjustments never rewrite the computed line amounts; they are recorded on
// the validation record and folded into the invoice control.
type LineAdjustment struct {
	OrderID uuid.UUID       `json:"order_id"`
	Label   string          `json:"label"`
	Amount  decimal.Decimal `json:"amount"` // signed delta
	Reason  string          `json:"reason"`
}

// IndustrialValidation records the client's acceptance of the pre-invoice
type IndustrialValidation struct {
	ValidatedBy string           `json:"validated_by"`
	ValidatedAt time.Time        `json:"validated_at"`
	Adjustments []LineAdjustment `json:"adjustments,omitempty"`
	Comment     string           `json:"comment,omitempty"`
}

// CarrierBreakdown is the optional per-category split the carrier itemizes
// on its own invoice. Nil categories mean the carrier did not itemize them.
type CarrierBreakdown struct {
	Distance    *decimal.Decimal `json:"distance,omitempty"`
	Options     *decimal.Decimal `json:"options,omitempty"`
	Pallets     *decimal.Decimal `json:"pallets,omitempty"`
	WaitingTime *decimal.Decimal `json:"waiting_time,omitempty"`
}

// CarrierInvoice is the carrier-submitted invoice, extracted upstream
type CarrierInvoice struct {
	InvoiceNumber string            `json:"invoice_number"`
	InvoiceDate   time.Time         `json:"invoice_date"`
	InvoiceAmount decimal.Decimal   `json:"invoice_amount"`
	Breakdown     *CarrierBreakdown `json:"breakdown,omitempty"`
	DocumentRef   string            `json:"document_ref,omitempty"`
	UploadedBy    string            `json:"uploaded_by"`
	UploadedAt    time.Time         `json:"uploaded_at"`
}

// InvoiceControl is the reconciliation verdict for the carrier invoice. The
// computed lines are never rewritten; settled amounts live here.
type InvoiceControl struct {
	AutoAccepted      bool             `json:"auto_accepted"`
	Difference        decimal.Decimal  `json:"difference"`
	DifferencePercent decimal.Decimal  `json:"difference_percent"`
	SettledAmount     *decimal.Decimal `json:"settled_amount,omitempty"`
	ControlledAt      *time.Time       `json:"controlled_at,omitempty"`
}

// PaymentInfo tracks the payment countdown once the invoice is finalized
type PaymentInfo struct {
	TermsDays     int        `json:"terms_days"`
	DueDate       time.Time  `json:"due_date"`
	DaysRemaining int        `json:"days_remaining"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

// FinalInvoice is the metadata assigned exactly once at finalization
type FinalInvoice struct {
	InvoiceNumber string    `json:"invoice_number"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// HistoryEntry is one immutable audit record. Every transition appends
// exactly one.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Details   string    `json:"details,omitempty"`
}

// PreInvoice is the central billing aggregate: the computed, not-yet-final
// invoice for one carrier/client/period. It owns its lines, totals,
// discrepancies, blocks, exports and audit history, and is mutated only
// through its methods. It is never deleted, only archived.
type PreInvoice struct {
	shared.OrgAggregateRoot
	PreInvoiceNumber string           `json:"pre_invoice_number"`
	Period           Period           `json:"period"`
	CarrierID        uuid.UUID        `json:"carrier_id"`
	CarrierName      string           `json:"carrier_name"`
	IndustrialID     uuid.UUID        `json:"industrial_id"`
	IndustrialName   string           `json:"industrial_name"`
	Status           PreInvoiceStatus `json:"status"`
	Lines            []OrderBillingLine `json:"lines"`
	Totals           InvoiceTotals    `json:"totals"`
	KPIs             InvoiceKPIs      `json:"kpis"`
	// Orders that could not be priced during aggregation; reported, never
	// silently zero-priced.
	SkippedOrders []SkippedOrder `json:"skipped_orders,omitempty"`

	IndustrialValidation *IndustrialValidation `json:"industrial_validation,omitempty"`
	CarrierInvoice       *CarrierInvoice       `json:"carrier_invoice,omitempty"`
	InvoiceControl       *InvoiceControl       `json:"invoice_control,omitempty"`
	Payment              *PaymentInfo          `json:"payment,omitempty"`
	FinalInvoice         *FinalInvoice         `json:"final_invoice,omitempty"`

	Discrepancies []Discrepancy  `json:"discrepancies"`
	Blocks        []Block        `json:"blocks"`
	Exports       []ERPExport    `json:"exports"`
	History       []HistoryEntry `json:"history"`
}

// SkippedOrder records an order excluded from aggregation with its cause
type SkippedOrder struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Reason      string    `json:"reason"`
}

// NewPreInvoice creates a draft pre-invoice for one carrier/client/period
func NewPreInvoice(orgID uuid.UUID, number string, period Period, carrierID uuid.UUID, carrierName string, industrialID uuid.UUID, industrialName string) (*PreInvoice, error) {
	if number == "" {
		return nil, shared.NewDomainError("INVALID_NUMBER", "Pre-invoice number is required")
	}
	if carrierID == uuid.Nil || industrialID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_PARTY", "Carrier and industrial are required")
	}
	pi := &PreInvoice{
		OrgAggregateRoot: shared.NewOrgAggregateRoot(orgID),
		PreInvoiceNumber: number,
		Period:           period,
		CarrierID:        carrierID,
		CarrierName:      carrierName,
		IndustrialID:     industrialID,
		IndustrialName:   industrialName,
		Status:           PreInvoiceStatusDraft,
		Lines:            []OrderBillingLine{},
		Discrepancies:    []Discrepancy{},
		Blocks:           []Block{},
		Exports:          []ERPExport{},
		History:          []HistoryEntry{},
	}
	pi.appendHistory("created", "system", "pre-invoice created for period "+period.Key())
	return pi, nil
}

func (pi *PreInvoice) appendHistory(action, actor, details string) {
	pi.History = append(pi.History, HistoryEntry{
		Timestamp: time.Now(),
		Action:    action,
		Actor:     actor,
		Details:   details,
	})
}

// guardMutable rejects any mutation once archived
func (pi *PreInvoice) guardMutable() error {
	if pi.Status == PreInvoiceStatusArchived {
		return ErrArchived
	}
	return nil
}

// transitionTo moves the state machine along a legal edge, appending one
// history entry. Illegal edges return InvalidTransitionError.
func (pi *PreInvoice) transitionTo(next PreInvoiceStatus, actor, details string) error {
	if !pi.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{Current: pi.Status, Requested: next}
	}
	prev := pi.Status
	pi.Status = next
	pi.appendHistory("status_changed", actor, string(prev)+" -> "+string(next)+": "+details)
	pi.IncrementVersion()
	return nil
}

// ActiveBlocks returns the currently active blocks
func (pi *PreInvoice) ActiveBlocks() []Block {
	var active []Block
	for _, b := range pi.Blocks {
		if b.Active {
			active = append(active, b)
		}
	}
	return active
}

// HasActiveBlockOfType reports whether a block of the given type is active
func (pi *PreInvoice) HasActiveBlockOfType(t BlockType) bool {
	for _, b := range pi.Blocks {
		if b.Active && b.Type == t {
			return true
		}
	}
	return false
}

// ReplaceLines fully replaces the draft's lines, totals and KPIs. Only a
// draft may be re-aggregated this way.
func (pi *PreInvoice) ReplaceLines(lines []OrderBillingLine, skipped []SkippedOrder, tvaRate decimal.Decimal, actor string) error {
	if err := pi.guardMutable(); err != nil {
		return err
	}
	if pi.Status != PreInvoiceStatusDraft {
		return &InvalidTransitionError{Current: pi.Status, Requested: PreInvoiceStatusDraft}
	}
	pi.Lines = lines
	pi.SkippedOrders = skipped
	pi.Totals = computeTotals(lines, tvaRate)
	pi.KPIs = computeKPIs(lines)
	pi.appendHistory("lines_replaced", actor, fmt.Sprintf("%d lines, %d skipped", len(lines), len(skipped)))
	pi.IncrementVersion()
	return nil
}

// Reaggregate replaces lines on a forced re-run. Unlike ReplaceLines it is
// also allowed on a GENERATED pre-invoice, where no downstream workflow data
// exists yet; anything past generation keeps its lines.
func (pi *PreInvoice) Reaggregate(lines []OrderBillingLine, skipped []SkippedOrder, tvaRate decimal.Decimal, actor string) error {
	if err := pi.guardMutable(); err != nil {
		return err
	}
	if pi.Status != PreInvoiceStatusDraft && pi.Status != PreInvoiceStatusGenerated {
		return &InvalidTransitionError{Current: pi.Status, Requested: PreInvoiceStatusGenerated}
	}
	pi.Lines = lines
	pi.SkippedOrders = skipped
	pi.Totals = computeTotals(lines, tvaRate)
	pi.KPIs = computeKPIs(lines)
	pi.appendHistory("reaggregated", actor, fmt.Sprintf("%d lines, %d skipped", len(lines), len(skipped)))
	pi.IncrementVersion()
	return nil
}

// MarkGenerated completes aggregation. A draft with zero lines stays a
// draft; callers report the empty period instead of generating.
func (pi *PreInvoice) MarkGenerated(actor string) error {
	if len(pi.Lines) == 0 {
		return shared.NewDomainError("NO_BILLABLE_LINES", "Cannot generate a pre-invoice with no lines")
	}
	if err := pi.transitionTo(PreInvoiceStatusGenerated, actor, "aggregation complete"); err != nil {
		return err
	}
	pi.AddDomainEvent(NewPreInvoiceGeneratedEvent(pi))
	return nil
}

// AttachCarrierInvoice records the carrier-submitted invoice. Allowed until
// validation; the caller re-runs detection afterwards.
func (pi *PreInvoice) AttachCarrierInvoice(ci CarrierInvoice, actor string) error {
	if err := pi.guardMutable(); err != nil {
		return err
	}
	switch pi.Status {
	case PreInvoiceStatusGenerated, PreInvoiceStatusPendingValidation, PreInvoiceStatusDiscrepancyDetected:
	default:
		return &InvalidTransitionError{Current: pi.Status, Requested: PreInvoiceStatusDiscrepancyDetected}
	}
	if ci.InvoiceAmount.IsNegative() {
		return shared.NewDomainError("INVALID_AMOUNT", "Carrier invoice amount cannot be negative")
	}
	ci.UploadedAt = time.Now()
	pi.CarrierInvoice = &ci
	pi.appendHistory("carrier_invoice_uploaded", actor, "invoice "+ci.InvoiceNumber)
	pi.IncrementVersion()
	return nil
}

// MarkPendingValidation sends the pre-invoice to the client for validation.
// Reached when no carrier invoice exists or it matched within tolerance.
func (pi *PreInvoice) MarkPendingValidation(actor, details string) error {
	if err := pi.transitionTo(PreInvoiceStatusPendingValidation, actor, details); err != nil {
		return err
	}
	pi.AddDomainEvent(NewPreInvoiceSentForValidationEvent(pi))
	return nil
}

// MarkDiscrepancyDetected appends newly detected discrepancies and moves the
// pre-invoice into reconciliation. Existing unresolved discrepancies are kept.
func (pi *PreInvoice) MarkDiscrepancyDetected(found []Discrepancy, actor string) error {
	if len(found) == 0 {
		return shared.NewDomainError("NO_DISCREPANCIES", "At least one discrepancy is required")
	}
	if pi.Status != PreInvoiceStatusDiscrepancyDetected {
		if err := pi.transitionTo(PreInvoiceStatusDiscrepancyDetected, actor, fmt.Sprintf("%d discrepancies detected", len(found))); err != nil {
			return err
		}
	} else {
		pi.appendHistory("discrepancies_appended", actor, fmt.Sprintf("%d discrepancies detected", len(found)))
		pi.IncrementVersion()
	}
	pi.Discrepancies = append(pi.Discrepancies, found...)
	pi.AddDomainEvent(NewDiscrepancyDetectedEvent(pi, len(found)))
	return nil
}

// RecordAutoAccepted stores the within-tolerance verdict on invoice control
func (pi *PreInvoice) RecordAutoAccepted(difference, differencePercent decimal.Decimal) {
	now := time.Now()
	pi.InvoiceControl = &InvoiceControl{
		AutoAccepted:      true,
		Difference:        difference,
		DifferencePercent: differencePercent,
		ControlledAt:      &now,
	}
}

// Validate records the client's acceptance. Rejected while any block is
// active so that blocked invoices cannot advance through validation.
func (pi *PreInvoice) Validate(validatedBy string, adjustments []LineAdjustment, comment string) error {
	if err := pi.guardMutable(); err != nil {
		return err
	}
	if active := pi.ActiveBlocks(); len(active) > 0 {
		return &BlockedError{Blocks: active}
	}
	for _, adj := range adjustments {
		if adj.Reason == "" {
			return shared.NewDomainError("ADJUSTMENT_REASON_REQUIRED", "Every line adjustment requires a reason")
		}
	}
	if err := pi.transitionTo(PreInvoiceStatusValidated, validatedBy, "client validation"); err != nil {
		return err
	}
	pi.IndustrialValidation = &IndustrialValidation{
		ValidatedBy: validatedBy,
		ValidatedAt: time.Now(),
		Adjustments: adjustments,
		Comment:     comment,
	}
	pi.AddDomainEvent(NewPreInvoiceValidatedEvent(pi))
	return nil
}

// Contest records a late client contest and returns to negotiation
func (pi *PreInvoice) Contest(reason, actor string) error {
	if reason == "" {
		return shared.NewDomainError("CONTEST_REASON_REQUIRED", "A contest requires a reason")
	}
	if err := pi.transitionTo(PreInvoiceStatusContested, actor, reason); err != nil {
		return err
	}
	pi.AddDomainEvent(NewPreInvoiceContestedEvent(pi, reason))
	return nil
}

// CloseConflict folds the settled amounts back into invoice control once
// every dispute is resolved. The computed lines and totals are untouched;
// the control records the settled gap.
func (pi *PreInvoice) CloseConflict(settledAmount decimal.Decimal, actor string) error {
	if err := pi.guardMutable(); err != nil {
		return err
	}
	for _, d := range pi.Discrepancies {
		if !d.Status.IsTerminal() {
			return shared.NewDomainError("UNRESOLVED_DISCREPANCIES", "All discrepancies must be resolved before closing the conflict")
		}
	}
	if err := pi.transitionTo(PreInvoiceStatusConflictClosed, actor, "all disputes resolved"); err != nil {
		return err
	}
	now := time.Now()
	diff := settledAmount.Sub(pi.Totals.SubtotalHT)
	var pct decimal.Decimal
	if !pi.Totals.SubtotalHT.IsZero() {
		pct = diff.Div(pi.Totals.SubtotalHT).Mul(decimal.NewFromInt(100))
	}
	pi.InvoiceControl = &InvoiceControl{
		AutoAccepted:      false,
		Difference:        diff,
		DifferencePercent: pct,
		SettledAmount:     &settledAmount,
		ControlledAt:      &now,
	}
	pi.AddDomainEvent(NewConflictClosedEvent(pi))
	return nil
}

// ResolveDiscrepancy settles one owned discrepancy
func (pi *PreInvoice) ResolveDiscrepancy(discrepancyID uuid.UUID, amount decimal.Decimal, note, resolvedBy string) error {
	if err := pi.guardMutable(); err != nil {
		return err
	}
	for i := range pi.Discrepancies {
		if pi.Discrepancies[i].ID == discrepancyID {
			if err := pi.Discrepancies[i].Resolve(amount, note, resolvedBy); err != nil {
				return err
			}
			pi.appendHistory("discrepancy_resolved", resolvedBy, note)
			pi.IncrementVersion()
			return nil
		}
	}
	return shared.ErrNotFound
}

// UnresolvedDiscrepancies returns the discrepancies still awaiting settlement
func (pi *PreInvoice) UnresolvedDiscrepancies() []Discrepancy {
	var open []Discrepancy
	for _, d := range pi.Discrepancies {
		if !d.Status.IsTerminal() {
			open = append(open, d)
		}
	}
	return open
}

// GetSubtotalHTMoney returns the subtotal before tax as Money
func (pi *PreInvoice) GetSubtotalHTMoney() valueobject.Money {
	return valueobject.NewMoneyEUR(pi.Totals.SubtotalHT)
}

// GetTVAAmountMoney returns the TVA amount as Money
func (pi *PreInvoice) GetTVAAmountMoney() valueobject.Money {
	return valueobject.NewMoneyEUR(pi.Totals.TVAAmount)
}

// GetTotalTTCMoney returns the tax-inclusive total as Money
func (pi *PreInvoice) GetTotalTTCMoney() valueobject.Money {
	return valueobject.NewMoneyEUR(pi.Totals.TotalTTC)
}

// Finalize assigns the final invoice metadata exactly once and starts the
// payment countdown. Rejected while any block is active, and rejected with
// AlreadyFinalized on re-entry.
func (pi *PreInvoice) Finalize(invoiceNumber string, paymentTermsDays int, actor string) error {
	if pi.Status.AtOrPastFinalized() {
		return ErrAlreadyFinalized
	}
	if active := pi.ActiveBlocks(); len(active) > 0 {
		return &BlockedError{Blocks: active}
	}
	if invoiceNumber == "" {
		return shared.NewDomainError("INVALID_NUMBER", "Final invoice number is required")
	}
	if err := pi.transitionTo(PreInvoiceStatusFinalized, actor, "final invoice "+invoiceNumber); err != nil {
		return err
	}
	now := time.Now()
	pi.FinalInvoice = &FinalInvoice{
		InvoiceNumber: invoiceNumber,
		GeneratedAt:   now,
	}
	due := now.AddDate(0, 0, paymentTermsDays)
	pi.Payment = &PaymentInfo{
		TermsDays:     paymentTermsDays,
		DueDate:       due,
		DaysRemaining: daysUntil(due, now),
	}
	pi.AddDomainEvent(NewPreInvoiceFinalizedEvent(pi))
	return nil
}

// AddExportAttempt registers a new export attempt. Rejected when a previous
// attempt was already acknowledged or the retry cap is reached.
func (pi *PreInvoice) AddExportAttempt(target ERPSystem, maxAttempts int) (*ERPExport, error) {
	if err := pi.guardMutable(); err != nil {
		return nil, err
	}
	if !pi.Status.AtOrPastFinalized() {
		return nil, &InvalidTransitionError{Current: pi.Status, Requested: PreInvoiceStatusExported}
	}
	if pi.AcknowledgedExport() != nil {
		return nil, ErrExportAcknowledged
	}
	attempt := len(pi.Exports) + 1
	if attempt > maxAttempts {
		return nil, ErrExportExhausted
	}
	exp := NewERPExport(pi.GetID(), target, attempt)
	pi.Exports = append(pi.Exports, exp)
	pi.appendHistory("export_attempted", "system", fmt.Sprintf("attempt %d of %d to %s", attempt, maxAttempts, target))
	pi.IncrementVersion()
	return &pi.Exports[len(pi.Exports)-1], nil
}

// AcknowledgedExport returns the acknowledged export if one exists
func (pi *PreInvoice) AcknowledgedExport() *ERPExport {
	for i := range pi.Exports {
		if pi.Exports[i].Status == ExportStatusAcknowledged {
			return &pi.Exports[i]
		}
	}
	return nil
}

// MarkExported advances the pre-invoice once an export is acknowledged
func (pi *PreInvoice) MarkExported(actor string) error {
	if pi.AcknowledgedExport() == nil {
		return shared.NewDomainError("EXPORT_NOT_ACKNOWLEDGED", "No acknowledged export exists")
	}
	if err := pi.transitionTo(PreInvoiceStatusExported, actor, "ERP acknowledged"); err != nil {
		return err
	}
	pi.AddDomainEvent(NewPreInvoiceExportedEvent(pi))
	return nil
}

// Archive moves the pre-invoice into its terminal state. Archived invoices
// retain full history and accept no further mutation.
func (pi *PreInvoice) Archive(actor string) error {
	if err := pi.transitionTo(PreInvoiceStatusArchived, actor, "archived after export"); err != nil {
		return err
	}
	pi.AddDomainEvent(NewPreInvoiceArchivedEvent(pi))
	return nil
}

// ApplyBlock activates a block of the given type if none is active, and
// appends one history entry. Returns the created block.
func (pi *PreInvoice) ApplyBlock(bType BlockType, reason, createdBy string, details map[string]string) (*Block, error) {
	if err := pi.guardMutable(); err != nil {
		return nil, err
	}
	if pi.HasActiveBlockOfType(bType) {
		return nil, shared.NewDomainError("BLOCK_ALREADY_ACTIVE", "An active block of this type already exists")
	}
	b := NewBlock(pi.GetID(), bType, reason, createdBy, details)
	pi.Blocks = append(pi.Blocks, b)
	pi.appendHistory("block_applied", createdBy, string(bType)+": "+reason)
	pi.IncrementVersion()
	pi.AddDomainEvent(NewPreInvoiceBlockedEvent(pi, bType))
	return &pi.Blocks[len(pi.Blocks)-1], nil
}

// LiftBlock deactivates one block by ID, keeping it as history
func (pi *PreInvoice) LiftBlock(blockID uuid.UUID, liftedBy, reason string) error {
	if err := pi.guardMutable(); err != nil {
		return err
	}
	for i := range pi.Blocks {
		if pi.Blocks[i].ID == blockID {
			if !pi.Blocks[i].Active {
				return shared.NewDomainError("BLOCK_NOT_ACTIVE", "Block is already lifted")
			}
			pi.Blocks[i].Lift(liftedBy, reason)
			pi.appendHistory("block_lifted", liftedBy, string(pi.Blocks[i].Type)+": "+reason)
			pi.IncrementVersion()
			return nil
		}
	}
	return shared.ErrNotFound
}

// LiftBlocksOfType deactivates every active block of one type. Used by the
// blocking engine when a condition clears.
func (pi *PreInvoice) LiftBlocksOfType(bType BlockType, liftedBy, reason string) int {
	lifted := 0
	for i := range pi.Blocks {
		if pi.Blocks[i].Active && pi.Blocks[i].Type == bType {
			pi.Blocks[i].Lift(liftedBy, reason)
			lifted++
		}
	}
	if lifted > 0 {
		pi.appendHistory("block_lifted", liftedBy, string(bType)+": "+reason)
		pi.IncrementVersion()
	}
	return lifted
}

// RecordPayment marks the final invoice paid
func (pi *PreInvoice) RecordPayment(paidAt time.Time, actor string) error {
	if err := pi.guardMutable(); err != nil {
		return err
	}
	if pi.Payment == nil {
		return shared.NewDomainError("NOT_FINALIZED", "Payment tracking starts at finalization")
	}
	if pi.Payment.PaidAt != nil {
		return shared.NewDomainError("ALREADY_PAID", "Payment is already recorded")
	}
	pi.Payment.PaidAt = &paidAt
	pi.Payment.DaysRemaining = 0
	pi.appendHistory("payment_recorded", actor, "paid on "+paidAt.Format("2006-01-02"))
	pi.IncrementVersion()
	return nil
}

// RecomputePaymentCountdown refreshes DaysRemaining against now. Whole days
// in UTC; negative means overdue.
func (pi *PreInvoice) RecomputePaymentCountdown(now time.Time) bool {
	if pi.Payment == nil || pi.Payment.PaidAt != nil {
		return false
	}
	remaining := daysUntil(pi.Payment.DueDate, now)
	if remaining == pi.Payment.DaysRemaining {
		return false
	}
	pi.Payment.DaysRemaining = remaining
	return true
}

// daysUntil returns the count of whole UTC days from now until due
func daysUntil(due, now time.Time) int {
	d := due.UTC().Truncate(24 * time.Hour)
	n := now.UTC().Truncate(24 * time.Hour)
	return int(d.Sub(n) / (24 * time.Hour))
}
