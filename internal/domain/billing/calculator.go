package billing

import (
	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/freightbill/backend/internal/domain/tariff"
	"github.com/shopspring/decimal"
)

// PriceBreakdown is the itemized result of pricing one order against a grid.
// Penalty categories are present even when zero so lines stay auditable.
type PriceBreakdown struct {
	Zone                 string          `json:"zone"`
	BaseAmount           decimal.Decimal `json:"base_amount"`
	WaitingAmount        decimal.Decimal `json:"waiting_amount"`
	BillableWaitingHours int             `json:"billable_waiting_hours"`
	OptionsAmount        decimal.Decimal `json:"options_amount"`
	PalletExchangeAmount decimal.Decimal `json:"pallet_exchange_amount"`
	DelayPenaltyAmount   decimal.Decimal `json:"delay_penalty_amount"`
	OtherPenaltyAmount   decimal.Decimal `json:"other_penalty_amount"`
	FuelSurchargeAmount  decimal.Decimal `json:"fuel_surcharge_amount"`
	TollsAmount          decimal.Decimal `json:"tolls_amount"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
}

// Calculator prices one completed order against a resolved tariff grid.
// Pure and deterministic; no side effects.
type Calculator struct{}

// NewCalculator creates a new price calculator
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Price computes the itemized breakdown for one order. Fails with
// NO_BAND_FOR_DISTANCE when the grid defines no band covering the order's
// distance; the caller excludes the order and reports it, never pricing at
// zero.
func (c *Calculator) Price(order TransportOrder, grid *tariff.Grid) (PriceBreakdown, error) {
	band, ok := grid.MatchBand(order.DistanceKm)
	if !ok {
		return PriceBreakdown{}, shared.NewDomainError("NO_BAND_FOR_DISTANCE", "No distance band covers this order")
	}

	bd := PriceBreakdown{Zone: band.Zone}

	if band.FixedPrice != nil {
		bd.BaseAmount = *band.FixedPrice
	} else {
		bd.BaseAmount = band.PricePerKm.Mul(decimal.NewFromFloat(order.DistanceKm)).Round(2)
	}

	bd.BillableWaitingHours = billableWaitingHours(order.WaitingMinutes, grid.Waiting.FreeMinutes)
	bd.WaitingAmount = grid.Waiting.PricePerHour.Mul(decimal.NewFromInt(int64(bd.BillableWaitingHours)))

	bd.OptionsAmount = optionsAmount(order.Options, grid.Options)
	if order.Options.PalletExchangeCount > 0 {
		bd.PalletExchangeAmount = grid.Options.PalletExchangePerPallet.
			Mul(decimal.NewFromInt(int64(order.Options.PalletExchangeCount)))
	}

	// Penalties are computed unconditionally; a justified delay zeroes the
	// delay penalty but the category stays on the line.
	if !order.DelayJustified {
		bd.DelayPenaltyAmount = grid.Penalties.LateDeliveryPerHour.
			Mul(decimal.NewFromInt(int64(order.DelayHours())))
	}
	if !order.Documents.Complete() {
		bd.OtherPenaltyAmount = bd.OtherPenaltyAmount.Add(grid.Penalties.MissingDocument)
	}
	if order.DamagedGoods {
		bd.OtherPenaltyAmount = bd.OtherPenaltyAmount.Add(grid.Penalties.DamagedGoods)
	}

	bd.FuelSurchargeAmount = order.FuelSurchargeAmount
	bd.TollsAmount = order.TollsAmount

	bd.TotalAmount = bd.BaseAmount.
		Add(bd.WaitingAmount).
		Add(bd.OptionsAmount).
		Add(bd.PalletExchangeAmount).
		Add(bd.DelayPenaltyAmount).
		Add(bd.OtherPenaltyAmount).
		Add(bd.FuelSurchargeAmount).
		Add(bd.TollsAmount)

	return bd, nil
}

// Line builds the pre-invoice billing line for one priced order
func (c *Calculator) Line(order TransportOrder, bd PriceBreakdown) OrderBillingLine {
	return OrderBillingLine{
		OrderID:              order.OrderID,
		OrderNumber:          order.OrderNumber,
		PickupAt:             order.PickupAt,
		DeliveredAt:          order.DeliveredAt,
		DistanceKm:           order.DistanceKm,
		BaseAmount:           bd.BaseAmount,
		WaitingAmount:        bd.WaitingAmount,
		OptionsAmount:        bd.OptionsAmount,
		PalletExchangeAmount: bd.PalletExchangeAmount,
		DelayPenaltyAmount:   bd.DelayPenaltyAmount,
		OtherPenaltyAmount:   bd.OtherPenaltyAmount,
		FuelSurchargeAmount:  bd.FuelSurchargeAmount,
		TollsAmount:          bd.TollsAmount,
		TotalAmount:          bd.TotalAmount,
		CMRValidated:         order.CMRValidated,
		KPIs: LineKPIs{
			OnTimePickup:      order.OnTimePickup(),
			OnTimeDelivery:    order.OnTimeDelivery(),
			DocumentsComplete: order.Documents.Complete(),
			IncidentFree:      order.IncidentFree,
		},
	}
}

// billableWaitingHours returns the waiting time beyond the free allowance,
// rounded up to whole hours
func billableWaitingHours(waitingMinutes, freeMinutes int) int {
	billable := waitingMinutes - freeMinutes
	if billable <= 0 {
		return 0
	}
	return (billable + 59) / 60
}

// optionsAmount sums the flat surcharges for the options flagged on the order
func optionsAmount(opts OrderOptions, rates tariff.OptionRates) decimal.Decimal {
	total := decimal.Zero
	if opts.ADR {
		total = total.Add(rates.ADR)
	}
	if opts.Tailgate {
		total = total.Add(rates.Tailgate)
	}
	if opts.Express {
		total = total.Add(rates.Express)
	}
	if opts.Refrigerated {
		total = total.Add(rates.Refrigerated)
	}
	if opts.SpecialHours {
		total = total.Add(rates.SpecialHours)
	}
	if opts.Weekend {
		total = total.Add(rates.Weekend)
	}
	if opts.Night {
		total = total.Add(rates.Night)
	}
	return total
}
