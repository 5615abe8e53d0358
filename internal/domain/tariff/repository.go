package tariff

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// GridRepository defines the interface for tariff grid persistence
type GridRepository interface {
	// FindByID finds a grid by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Grid, error)

	// FindByIDForOrg finds a grid by ID for a specific organization
	FindByIDForOrg(ctx context.Context, orgID, id uuid.UUID) (*Grid, error)

	// FindForPair returns all grids for a carrier/industrial pair, newest ValidFrom first
	FindForPair(ctx context.Context, orgID, carrierID, industrialID uuid.UUID) ([]Grid, error)

	// FindValidOn returns the grids for a carrier/industrial pair whose
	// validity window covers the given date, newest ValidFrom first
	FindValidOn(ctx context.Context, orgID, carrierID, industrialID uuid.UUID, date time.Time) ([]Grid, error)

	// Save creates or updates a grid
	Save(ctx context.Context, grid *Grid) error
}
