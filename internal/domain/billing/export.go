package billing

import (
	"time"

	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// ERPSystem identifies the configured external ERP target
type ERPSystem string

const (
	ERPSystemSAP      ERPSystem = "SAP"
	ERPSystemOracle   ERPSystem = "ORACLE"
	ERPSystemDynamics ERPSystem = "DYNAMICS"
	ERPSystemOdoo     ERPSystem = "ODOO"
	ERPSystemCustom   ERPSystem = "CUSTOM"
)

// IsValid checks if the value is a valid ERPSystem
func (s ERPSystem) IsValid() bool {
	switch s {
	case ERPSystemSAP, ERPSystemOracle, ERPSystemDynamics, ERPSystemOdoo, ERPSystemCustom:
		return true
	}
	return false
}

// ExportStatus tracks one export attempt
type ExportStatus string

const (
	ExportStatusPending      ExportStatus = "PENDING"
	ExportStatusSent         ExportStatus = "SENT"
	ExportStatusAcknowledged ExportStatus = "ACKNOWLEDGED"
	ExportStatusFailed       ExportStatus = "FAILED"
	ExportStatusRetry        ExportStatus = "RETRY"
)

// IsValid checks if the status is a valid ExportStatus
func (s ExportStatus) IsValid() bool {
	switch s {
	case ExportStatusPending, ExportStatusSent, ExportStatusAcknowledged,
		ExportStatusFailed, ExportStatusRetry:
		return true
	}
	return false
}

// IsTerminal returns true when no further state change is allowed
func (s ExportStatus) IsTerminal() bool {
	return s == ExportStatusAcknowledged
}

// ERPExport is one export attempt for a finalized invoice. Multiple attempts
// may exist per invoice; only one may ever be acknowledged.
type ERPExport struct {
	ID             uuid.UUID    `json:"id"`
	PreInvoiceID   uuid.UUID    `json:"pre_invoice_id"`
	TargetSystem   ERPSystem    `json:"target_system"`
	Status         ExportStatus `json:"status"`
	Attempt        int          `json:"attempt"`
	ExternalRef    string       `json:"external_ref,omitempty"`
	AckPayload     string       `json:"ack_payload,omitempty"`
	LastError      string       `json:"last_error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	SentAt         *time.Time   `json:"sent_at,omitempty"`
	AcknowledgedAt *time.Time   `json:"acknowledged_at,omitempty"`
	FailedAt       *time.Time   `json:"failed_at,omitempty"`
}

// NewERPExport creates a new pending export attempt
func NewERPExport(preInvoiceID uuid.UUID, target ERPSystem, attempt int) ERPExport {
	return ERPExport{
		ID:           uuid.New(),
		PreInvoiceID: preInvoiceID,
		TargetSystem: target,
		Status:       ExportStatusPending,
		Attempt:      attempt,
		CreatedAt:    time.Now(),
	}
}

// MarkSent records a successful delivery awaiting acknowledgment
func (e *ERPExport) MarkSent(externalRef string) error {
	if e.Status != ExportStatusPending && e.Status != ExportStatusRetry {
		return shared.NewDomainError("INVALID_STATE", "Export can only be sent from PENDING or RETRY")
	}
	now := time.Now()
	e.Status = ExportStatusSent
	e.ExternalRef = externalRef
	e.SentAt = &now
	return nil
}

// MarkAcknowledged records the ERP acknowledgment. Acknowledged is final.
func (e *ERPExport) MarkAcknowledged(ackPayload string) error {
	if e.Status != ExportStatusSent {
		return shared.NewDomainError("INVALID_STATE", "Export can only be acknowledged from SENT")
	}
	now := time.Now()
	e.Status = ExportStatusAcknowledged
	e.AckPayload = ackPayload
	e.AcknowledgedAt = &now
	return nil
}

// MarkFailed records a failed attempt
func (e *ERPExport) MarkFailed(reason string) error {
	if e.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", "Acknowledged export cannot fail")
	}
	now := time.Now()
	e.Status = ExportStatusFailed
	e.LastError = reason
	e.FailedAt = &now
	return nil
}

// MarkRetryScheduled flags the attempt for the next retry window
func (e *ERPExport) MarkRetryScheduled() error {
	if e.Status != ExportStatusFailed {
		return shared.NewDomainError("INVALID_STATE", "Only failed exports can be scheduled for retry")
	}
	e.Status = ExportStatusRetry
	return nil
}
