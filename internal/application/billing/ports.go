package billing

import (
	"context"
	"time"

	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// EventPublisher delivers domain events to the outside world. Delivery
// (email, webhooks) is an external responsibility; a failed publish is
// logged, never blocks a transition.
type EventPublisher interface {
	Publish(ctx context.Context, events ...shared.DomainEvent)
}

// ERPGateway is the abstract export contract. Concrete wire formats per ERP
// system live behind it; the engine only sees a reference and an
// acknowledgment payload.
type ERPGateway interface {
	Export(ctx context.Context, pi *billing.PreInvoice, target billing.ERPSystem) (externalRef, ackPayload string, err error)
}

// Settings are the configurable billing policy knobs, loaded from
// configuration at startup.
type Settings struct {
	TolerancePercent   decimal.Decimal
	TVARatePercent     decimal.Decimal
	PaymentTermsDays   int
	ExportMaxAttempts  int
	ExportTarget       billing.ERPSystem
	ExportTimeout      time.Duration
	GridLookupTimeout  time.Duration
	LateThresholdHours int
	ArchiveAfterDays   int
}

// DefaultSettings returns the standard policy defaults
func DefaultSettings() Settings {
	return Settings{
		TolerancePercent:   decimal.NewFromInt(2),
		TVARatePercent:     decimal.NewFromInt(20),
		PaymentTermsDays:   30,
		ExportMaxAttempts:  5,
		ExportTarget:       billing.ERPSystemSAP,
		ExportTimeout:      30 * time.Second,
		GridLookupTimeout:  5 * time.Second,
		LateThresholdHours: 24,
		ArchiveAfterDays:   7,
	}
}

// lockKey is the per-aggregate exclusive lock key
func lockKey(id string) string {
	return "pre-invoice:" + id
}
