package billing

import (
	"time"

	"github.com/google/uuid"
)

// BlockType identifies an independent hold condition. Any active block
// prevents finalization regardless of the reconciliation state.
type BlockType string

const (
	BlockMissingDocuments BlockType = "MISSING_DOCUMENTS"
	BlockVigilance        BlockType = "VIGILANCE"
	BlockPallets          BlockType = "PALLETS"
	BlockLate             BlockType = "LATE"
	BlockManual           BlockType = "MANUAL"
)

// IsValid checks if the type is a valid BlockType
func (t BlockType) IsValid() bool {
	switch t {
	case BlockMissingDocuments, BlockVigilance, BlockPallets, BlockLate, BlockManual:
		return true
	}
	return false
}

// Automatic returns true for block types the blocking engine manages itself.
// MANUAL blocks are created and lifted only by explicit operator action.
func (t BlockType) Automatic() bool {
	return t != BlockManual
}

// Block is one active or historical hold reason on a pre-invoice. Blocks are
// never deleted: lifting marks them inactive and keeps the lift metadata.
type Block struct {
	ID           uuid.UUID         `json:"id"`
	PreInvoiceID uuid.UUID         `json:"pre_invoice_id"`
	Type         BlockType         `json:"type"`
	Reason       string            `json:"reason"`
	Details      map[string]string `json:"details,omitempty"`
	Active       bool              `json:"active"`
	CreatedBy    string            `json:"created_by"`
	CreatedAt    time.Time         `json:"created_at"`
	LiftedBy     string            `json:"lifted_by,omitempty"`
	LiftedAt     *time.Time        `json:"lifted_at,omitempty"`
	LiftReason   string            `json:"lift_reason,omitempty"`
}

// NewBlock creates a new active block
func NewBlock(preInvoiceID uuid.UUID, bType BlockType, reason, createdBy string, details map[string]string) Block {
	return Block{
		ID:           uuid.New(),
		PreInvoiceID: preInvoiceID,
		Type:         bType,
		Reason:       reason,
		Details:      details,
		Active:       true,
		CreatedBy:    createdBy,
		CreatedAt:    time.Now(),
	}
}

// Lift deactivates the block, preserving it as history
func (b *Block) Lift(liftedBy, reason string) {
	now := time.Now()
	b.Active = false
	b.LiftedBy = liftedBy
	b.LiftedAt = &now
	b.LiftReason = reason
}
