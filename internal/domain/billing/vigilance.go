package billing

import (
	"time"

	"github.com/google/uuid"
)

// VigilanceStatus is the overall compliance status of a carrier
type VigilanceStatus string

const (
	VigilanceStatusValid        VigilanceStatus = "VALID"
	VigilanceStatusExpiringSoon VigilanceStatus = "EXPIRING_SOON"
	VigilanceStatusExpired      VigilanceStatus = "EXPIRED"
	VigilanceStatusIncomplete   VigilanceStatus = "INCOMPLETE"
)

// IsValid checks if the status is a valid VigilanceStatus
func (s VigilanceStatus) IsValid() bool {
	switch s {
	case VigilanceStatusValid, VigilanceStatusExpiringSoon, VigilanceStatusExpired, VigilanceStatusIncomplete:
		return true
	}
	return false
}

// Blocking returns true if the status prevents finalization.
// EXPIRING_SOON is advisory only and never blocks.
func (s VigilanceStatus) Blocking() bool {
	return s == VigilanceStatusExpired || s == VigilanceStatusIncomplete
}

// VigilanceDocumentType identifies one regulatory document kind
type VigilanceDocumentType string

const (
	VigilanceDocURSSAF    VigilanceDocumentType = "URSSAF"
	VigilanceDocInsurance VigilanceDocumentType = "INSURANCE"
	VigilanceDocLicence   VigilanceDocumentType = "TRANSPORT_LICENCE"
	VigilanceDocKbis      VigilanceDocumentType = "KBIS"
)

// VigilanceDocument is the validity window of one regulatory document
type VigilanceDocument struct {
	Type       VigilanceDocumentType `json:"type"`
	ValidFrom  time.Time             `json:"valid_from"`
	ValidUntil time.Time             `json:"valid_until"`
}

// CarrierVigilance is a read model owned by the external compliance service.
// The engine only consumes it to evaluate the vigilance block rule.
type CarrierVigilance struct {
	CarrierID   uuid.UUID           `json:"carrier_id"`
	Documents   []VigilanceDocument `json:"documents"`
	Status      VigilanceStatus     `json:"status"`
	RefreshedAt time.Time           `json:"refreshed_at"`
}
