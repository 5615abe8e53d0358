package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/freightbill/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormJobRunRepository implements billing.JobRunRepository using GORM
type GormJobRunRepository struct {
	db *gorm.DB
}

var _ billing.JobRunRepository = (*GormJobRunRepository)(nil)

// NewGormJobRunRepository creates a new GormJobRunRepository
func NewGormJobRunRepository(db *gorm.DB) *GormJobRunRepository {
	return &GormJobRunRepository{db: db}
}

// Claim atomically inserts the run marker. The insert is ON CONFLICT DO
// NOTHING on (job_name, period_key), so exactly one claimant wins even with
// concurrent instances.
func (r *GormJobRunRepository) Claim(ctx context.Context, run *billing.JobRun) (bool, error) {
	var model models.JobRunModel
	model.FromDomain(run)

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_name"}, {Name: "period_key"}},
			DoNothing: true,
		}).
		Create(&model)
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim job run: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Release deletes the marker so a forced re-run can claim it again
func (r *GormJobRunRepository) Release(ctx context.Context, jobName, periodKey string) error {
	if err := r.db.WithContext(ctx).
		Where("job_name = ? AND period_key = ?", jobName, periodKey).
		Delete(&models.JobRunModel{}).Error; err != nil {
		return fmt.Errorf("failed to release job run: %w", err)
	}
	return nil
}

// Update persists the completion fields
func (r *GormJobRunRepository) Update(ctx context.Context, run *billing.JobRun) error {
	var model models.JobRunModel
	model.FromDomain(run)
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("failed to update job run: %w", err)
	}
	return nil
}

// Find returns the marker for one (job, period).
// Returns (nil, nil) when it does not exist.
func (r *GormJobRunRepository) Find(ctx context.Context, jobName, periodKey string) (*billing.JobRun, error) {
	var model models.JobRunModel
	if err := r.db.WithContext(ctx).
		Where("job_name = ? AND period_key = ?", jobName, periodKey).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find job run: %w", err)
	}
	return model.ToDomain(), nil
}
