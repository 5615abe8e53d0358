package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderOptions are the option flags recorded on a transport order. Each flag
// maps to a flat surcharge in the tariff grid; pallet exchange is billed per
// pallet.
type OrderOptions struct {
	ADR                 bool `json:"adr"`
	Tailgate            bool `json:"tailgate"`
	Express             bool `json:"express"`
	Refrigerated        bool `json:"refrigerated"`
	SpecialHours        bool `json:"special_hours"`
	Weekend             bool `json:"weekend"`
	Night               bool `json:"night"`
	PalletExchangeCount int  `json:"pallet_exchange_count"`
}

// OrderDocuments tracks which proof documents the uploader/OCR step has
// registered for an order. The engine only reads these flags.
type OrderDocuments struct {
	POD  bool `json:"pod"`
	CMR  bool `json:"cmr"`
	ECMR bool `json:"ecmr"`
	BL   bool `json:"bl"`
}

// Complete returns true when every document required by policy is present.
// e-CMR substitutes for paper CMR.
func (d OrderDocuments) Complete() bool {
	return d.POD && (d.CMR || d.ECMR) && d.BL
}

// TransportOrder is the read model of one completed order as produced by the
// upstream orders service. It is consumed read-only; the engine never mutates
// order data.
type TransportOrder struct {
	OrderID            uuid.UUID       `json:"order_id"`
	OrderNumber        string          `json:"order_number"`
	OrgID              uuid.UUID       `json:"org_id"`
	CarrierID          uuid.UUID       `json:"carrier_id"`
	CarrierName        string          `json:"carrier_name"`
	IndustrialID       uuid.UUID       `json:"industrial_id"`
	IndustrialName     string          `json:"industrial_name"`
	PlannedPickupAt    time.Time       `json:"planned_pickup_at"`
	PickupAt           time.Time       `json:"pickup_at"`
	PlannedDeliveryAt  time.Time       `json:"planned_delivery_at"`
	DeliveredAt        time.Time       `json:"delivered_at"`
	DistanceKm         float64         `json:"distance_km"`
	WeightKg           float64         `json:"weight_kg"`
	VolumeM3           float64         `json:"volume_m3"`
	WaitingMinutes     int             `json:"waiting_minutes"`
	Options            OrderOptions    `json:"options"`
	Documents          OrderDocuments  `json:"documents"`
	CMRValidated       bool            `json:"cmr_validated"`
	DamagedGoods       bool            `json:"damaged_goods"`
	IncidentFree       bool            `json:"incident_free"`
	DelayJustified     bool            `json:"delay_justified"` // accepted lateness justification
	TollsAmount        decimal.Decimal `json:"tolls_amount"`
	FuelSurchargeAmount decimal.Decimal `json:"fuel_surcharge_amount"`
}

// OnTimePickup returns true if pickup happened no later than planned
func (o *TransportOrder) OnTimePickup() bool {
	return !o.PickupAt.After(o.PlannedPickupAt)
}

// OnTimeDelivery returns true if delivery happened no later than planned
func (o *TransportOrder) OnTimeDelivery() bool {
	return !o.DeliveredAt.After(o.PlannedDeliveryAt)
}

// DelayHours returns the delivery lateness rounded up to whole hours (0 when on time)
func (o *TransportOrder) DelayHours() int {
	if o.OnTimeDelivery() {
		return 0
	}
	late := o.DeliveredAt.Sub(o.PlannedDeliveryAt)
	hours := int(late / time.Hour)
	if late%time.Hour > 0 {
		hours++
	}
	return hours
}

// BillablePair is one (carrier, industrial) combination with deliveries in a
// billing period.
type BillablePair struct {
	CarrierID      uuid.UUID `json:"carrier_id"`
	CarrierName    string    `json:"carrier_name"`
	IndustrialID   uuid.UUID `json:"industrial_id"`
	IndustrialName string    `json:"industrial_name"`
}

// OrderSource is the read-only port to the upstream orders service.
type OrderSource interface {
	// ListBillablePairs returns every (carrier, industrial) pair with at
	// least one deliverable order in [start, end)
	ListBillablePairs(ctx context.Context, orgID uuid.UUID, start, end time.Time) ([]BillablePair, error)

	// ListDeliverableOrders returns the completed, not-yet-invoiced orders
	// for a pair whose delivery falls within [start, end)
	ListDeliverableOrders(ctx context.Context, orgID, carrierID, industrialID uuid.UUID, start, end time.Time) ([]TransportOrder, error)

	// GetOrders returns current order snapshots by ID, used when blocking
	// rules are re-evaluated after an upstream fact changes
	GetOrders(ctx context.Context, orgID uuid.UUID, orderIDs []uuid.UUID) ([]TransportOrder, error)
}

// VigilanceSource is the read-only port to the external compliance service.
type VigilanceSource interface {
	// GetCarrierVigilance returns the current vigilance snapshot for a carrier
	GetCarrierVigilance(ctx context.Context, orgID, carrierID uuid.UUID) (*CarrierVigilance, error)
}

// PalletLedger is the read-only port to the pallet account balances tied to
// a carrier. A non-zero unsettled balance activates the pallets block.
type PalletLedger interface {
	// Balance returns the carrier's unsettled pallet balance for the given orders
	Balance(ctx context.Context, orgID, carrierID uuid.UUID, orderIDs []uuid.UUID) (int, error)
}
