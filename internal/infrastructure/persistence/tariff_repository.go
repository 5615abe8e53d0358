package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freightbill/backend/internal/domain/tariff"
	"github.com/freightbill/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormGridRepository implements tariff.GridRepository using GORM
type GormGridRepository struct {
	db *gorm.DB
}

var _ tariff.GridRepository = (*GormGridRepository)(nil)

// NewGormGridRepository creates a new GormGridRepository
func NewGormGridRepository(db *gorm.DB) *GormGridRepository {
	return &GormGridRepository{db: db}
}

// FindByID finds a grid by ID. Returns (nil, nil) when it does not exist.
func (r *GormGridRepository) FindByID(ctx context.Context, id uuid.UUID) (*tariff.Grid, error) {
	var model models.GridModel
	if err := r.db.WithContext(ctx).
		First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find grid: %w", err)
	}
	return model.ToDomain()
}

// FindByIDForOrg finds a grid by ID within an organization.
// Returns (nil, nil) when it does not exist.
func (r *GormGridRepository) FindByIDForOrg(ctx context.Context, orgID, id uuid.UUID) (*tariff.Grid, error) {
	var model models.GridModel
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find grid: %w", err)
	}
	return model.ToDomain()
}

// FindForPair returns all grids for a carrier/industrial pair, newest
// ValidFrom first
func (r *GormGridRepository) FindForPair(ctx context.Context, orgID, carrierID, industrialID uuid.UUID) ([]tariff.Grid, error) {
	var rows []models.GridModel
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND carrier_id = ? AND industrial_id = ?", orgID, carrierID, industrialID).
		Order("valid_from DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list grids: %w", err)
	}
	return gridsToDomain(rows)
}

// FindValidOn returns the grids for a pair whose validity window covers the
// given date, newest ValidFrom first
func (r *GormGridRepository) FindValidOn(ctx context.Context, orgID, carrierID, industrialID uuid.UUID, date time.Time) ([]tariff.Grid, error) {
	var rows []models.GridModel
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND carrier_id = ? AND industrial_id = ?", orgID, carrierID, industrialID).
		Where("valid_from <= ? AND (valid_until IS NULL OR valid_until > ?)", date, date).
		Order("valid_from DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list valid grids: %w", err)
	}
	return gridsToDomain(rows)
}

// Save creates or updates a grid
func (r *GormGridRepository) Save(ctx context.Context, grid *tariff.Grid) error {
	var model models.GridModel
	if err := model.FromDomain(grid); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("failed to save grid: %w", err)
	}
	return nil
}

func gridsToDomain(rows []models.GridModel) ([]tariff.Grid, error) {
	out := make([]tariff.Grid, 0, len(rows))
	for i := range rows {
		g, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, nil
}
