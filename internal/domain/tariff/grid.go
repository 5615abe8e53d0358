package tariff

import (
	"time"

	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DistanceBand is one pricing band of a grid. Matching is by
// [MinKm, MaxKm) inclusive-exclusive; the first matching band wins.
// When FixedPrice is nil the band is priced at PricePerKm * distance.
type DistanceBand struct {
	MinKm      float64          `json:"min_km"`
	MaxKm      float64          `json:"max_km"`
	Zone       string           `json:"zone"`
	FixedPrice *decimal.Decimal `json:"fixed_price,omitempty"`
	PricePerKm decimal.Decimal  `json:"price_per_km"`
}

// Matches returns true if the given distance falls within [MinKm, MaxKm)
func (b DistanceBand) Matches(distanceKm float64) bool {
	return distanceKm >= b.MinKm && distanceKm < b.MaxKm
}

// WaitingRule defines how waiting time at pickup/delivery is billed.
// Only minutes beyond FreeMinutes are billable; billable minutes are
// rounded up to the nearest whole hour before multiplying by PricePerHour.
type WaitingRule struct {
	FreeMinutes  int             `json:"free_minutes"`
	PricePerHour decimal.Decimal `json:"price_per_hour"`
}

// OptionRates holds the flat surcharges for order options. Each amount is
// applied only when the corresponding order flag is set; pallet exchange is
// billed PerPallet * count.
type OptionRates struct {
	ADR                     decimal.Decimal `json:"adr"`
	Tailgate                decimal.Decimal `json:"tailgate"`
	Express                 decimal.Decimal `json:"express"`
	Refrigerated            decimal.Decimal `json:"refrigerated"`
	SpecialHours            decimal.Decimal `json:"special_hours"`
	Weekend                 decimal.Decimal `json:"weekend"`
	Night                   decimal.Decimal `json:"night"`
	PalletExchangePerPallet decimal.Decimal `json:"pallet_exchange_per_pallet"`
}

// PenaltyRules holds the penalty amounts. Penalties are always itemized on
// the billing line, even when zero, so that lines stay auditable.
type PenaltyRules struct {
	LateDeliveryPerHour decimal.Decimal `json:"late_delivery_per_hour"`
	MissingDocument     decimal.Decimal `json:"missing_document"`
	DamagedGoods        decimal.Decimal `json:"damaged_goods"`
}

// Grid is a versioned, time-bounded pricing rule set for one
// transporter/client pair. Grids are immutable once published; a rate change
// is a new grid with a later ValidFrom.
type Grid struct {
	shared.OrgAggregateRoot
	Name             string           `json:"name"`
	CarrierID        uuid.UUID        `json:"carrier_id"`
	IndustrialID     uuid.UUID        `json:"industrial_id"`
	ValidFrom        time.Time        `json:"valid_from"`
	ValidUntil       *time.Time       `json:"valid_until,omitempty"` // nil = open-ended
	Bands            []DistanceBand   `json:"bands"`
	Waiting          WaitingRule      `json:"waiting"`
	Options          OptionRates      `json:"options"`
	Penalties        PenaltyRules     `json:"penalties"`
	TolerancePercent *decimal.Decimal `json:"tolerance_percent,omitempty"` // overrides the engine default
}

// NewGrid creates a new tariff grid
func NewGrid(
	orgID uuid.UUID,
	name string,
	carrierID, industrialID uuid.UUID,
	validFrom time.Time,
	validUntil *time.Time,
	bands []DistanceBand,
	waiting WaitingRule,
	options OptionRates,
	penalties PenaltyRules,
) (*Grid, error) {
	if name == "" {
		return nil, shared.NewDomainError("INVALID_GRID_NAME", "Grid name cannot be empty")
	}
	if carrierID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_CARRIER", "Carrier ID cannot be empty")
	}
	if industrialID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_INDUSTRIAL", "Industrial ID cannot be empty")
	}
	if validUntil != nil && !validUntil.After(validFrom) {
		return nil, shared.NewDomainError("INVALID_VALIDITY", "Grid validity end must be after its start")
	}
	if len(bands) == 0 {
		return nil, shared.NewDomainError("INVALID_BANDS", "Grid must define at least one distance band")
	}
	for _, b := range bands {
		if b.MaxKm <= b.MinKm {
			return nil, shared.NewDomainError("INVALID_BANDS", "Distance band max must be greater than min")
		}
	}
	if waiting.FreeMinutes < 0 {
		return nil, shared.NewDomainError("INVALID_WAITING_RULE", "Free minutes cannot be negative")
	}

	return &Grid{
		OrgAggregateRoot: shared.NewOrgAggregateRoot(orgID),
		Name:             name,
		CarrierID:        carrierID,
		IndustrialID:     industrialID,
		ValidFrom:        validFrom,
		ValidUntil:       validUntil,
		Bands:            bands,
		Waiting:          waiting,
		Options:          options,
		Penalties:        penalties,
	}, nil
}

// IsValidOn returns true if the grid covers the given calculation date.
// The validity window is [ValidFrom, ValidUntil).
func (g *Grid) IsValidOn(date time.Time) bool {
	if date.Before(g.ValidFrom) {
		return false
	}
	if g.ValidUntil != nil && !date.Before(*g.ValidUntil) {
		return false
	}
	return true
}

// MatchBand returns the first band matching the distance, or false when no
// band covers it.
func (g *Grid) MatchBand(distanceKm float64) (DistanceBand, bool) {
	for _, b := range g.Bands {
		if b.Matches(distanceKm) {
			return b, true
		}
	}
	return DistanceBand{}, false
}

// SetTolerance sets the per-grid discrepancy tolerance override
func (g *Grid) SetTolerance(percent decimal.Decimal) error {
	if percent.IsNegative() {
		return shared.NewDomainError("INVALID_TOLERANCE", "Tolerance percent cannot be negative")
	}
	g.TolerancePercent = &percent
	g.UpdatedAt = time.Now()
	g.IncrementVersion()
	return nil
}
