package billing

import (
	"fmt"

	"github.com/freightbill/backend/internal/domain/shared"
)

// Common billing errors
var (
	// ErrAlreadyFinalized is returned when finalization is attempted on a
	// pre-invoice that already carries final invoice metadata.
	ErrAlreadyFinalized = shared.NewDomainError("ALREADY_FINALIZED", "Pre-invoice has already been finalized")

	// ErrExportExhausted is fatal: the retry cap was reached and the invoice
	// needs operator intervention. It is never retried automatically.
	ErrExportExhausted = shared.NewDomainError("ERP_EXPORT_EXHAUSTED", "ERP export retry cap reached, manual intervention required")

	// ErrExportAcknowledged is returned when a new export attempt is made for
	// an invoice that already has an acknowledged export.
	ErrExportAcknowledged = shared.NewDomainError("EXPORT_ACKNOWLEDGED", "Invoice already has an acknowledged ERP export")

	// ErrArchived is returned on any mutation attempt against an archived
	// pre-invoice. Archived is a true terminal state.
	ErrArchived = shared.NewDomainError("PRE_INVOICE_ARCHIVED", "Pre-invoice is archived and immutable")
)

// InvalidTransitionError reports a state machine transition attempted from an
// incompatible source state. It carries both states so callers can reconcile
// their view of the aggregate.
type InvalidTransitionError struct {
	Current   PreInvoiceStatus
	Requested PreInvoiceStatus
}

// Error implements the error interface
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.Current, e.Requested)
}

// Code returns the stable error code for transport mapping
func (e *InvalidTransitionError) Code() string {
	return "INVALID_TRANSITION"
}

// NewInvalidTransitionError creates a new InvalidTransitionError
func NewInvalidTransitionError(current, requested PreInvoiceStatus) *InvalidTransitionError {
	return &InvalidTransitionError{Current: current, Requested: requested}
}

// BlockedError reports an action rejected because the pre-invoice carries
// active blocks. The block list is included so the caller sees exactly what
// is holding the invoice.
type BlockedError struct {
	Blocks []Block
}

// Error implements the error interface
func (e *BlockedError) Error() string {
	if len(e.Blocks) == 1 {
		return fmt.Sprintf("pre-invoice is blocked: %s", e.Blocks[0].Type)
	}
	return fmt.Sprintf("pre-invoice is blocked by %d active blocks", len(e.Blocks))
}

// Code returns the stable error code for transport mapping
func (e *BlockedError) Code() string {
	return "PRE_INVOICE_BLOCKED"
}

// NewBlockedError creates a new BlockedError from the active block list
func NewBlockedError(blocks []Block) *BlockedError {
	return &BlockedError{Blocks: blocks}
}
