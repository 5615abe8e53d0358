package event

import (
	"context"

	"github.com/freightbill/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// AuditLogHandler writes every billing event to the structured log. It is a
// wildcard subscriber and the default sink when no webhook or mail relay is
// configured.
type AuditLogHandler struct {
	logger *zap.Logger
}

var _ shared.EventHandler = (*AuditLogHandler)(nil)

// NewAuditLogHandler creates a new audit log handler
func NewAuditLogHandler(logger *zap.Logger) *AuditLogHandler {
	return &AuditLogHandler{logger: logger}
}

// Handle logs the event
func (h *AuditLogHandler) Handle(_ context.Context, ev shared.DomainEvent) error {
	h.logger.Info("domain event",
		zap.String("event_type", ev.EventType()),
		zap.String("event_id", ev.EventID().String()),
		zap.String("aggregate_type", ev.AggregateType()),
		zap.String("aggregate_id", ev.AggregateID().String()),
		zap.String("org_id", ev.OrgID().String()),
		zap.Time("occurred_at", ev.OccurredAt()),
	)
	return nil
}

// EventTypes returns nil so the handler receives every event
func (h *AuditLogHandler) EventTypes() []string {
	return nil
}
