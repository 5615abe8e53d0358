package tariff

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Resolver is a domain service that selects the applicable tariff grid for a
// transporter/client pair on a calculation date. When several grids cover the
// date, the one with the latest ValidFrom wins.
type Resolver struct {
	grids GridRepository
}

// NewResolver creates a new tariff resolver
func NewResolver(grids GridRepository) *Resolver {
	return &Resolver{grids: grids}
}

// Resolve returns the applicable grid, or ErrNoApplicableGrid when the pair
// has no grid covering the date.
func (r *Resolver) Resolve(ctx context.Context, orgID, carrierID, industrialID uuid.UUID, date time.Time) (*Grid, error) {
	grids, err := r.grids.FindValidOn(ctx, orgID, carrierID, industrialID, date)
	if err != nil {
		return nil, err
	}

	var best *Grid
	for i := range grids {
		g := &grids[i]
		if !g.IsValidOn(date) {
			continue
		}
		if best == nil || g.ValidFrom.After(best.ValidFrom) {
			best = g
		}
	}
	if best == nil {
		return nil, ErrNoApplicableGrid
	}
	return best, nil
}
