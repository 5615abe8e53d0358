package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/freightbill/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormDisputeRepository implements billing.DisputeRepository using GORM
type GormDisputeRepository struct {
	db *gorm.DB
}

var _ billing.DisputeRepository = (*GormDisputeRepository)(nil)

// NewGormDisputeRepository creates a new GormDisputeRepository
func NewGormDisputeRepository(db *gorm.DB) *GormDisputeRepository {
	return &GormDisputeRepository{db: db}
}

var disputeSortColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"status":     true,
}

// FindByID finds a dispute by ID within an organization.
// Returns (nil, nil) when it does not exist.
func (r *GormDisputeRepository) FindByID(ctx context.Context, orgID, id uuid.UUID) (*billing.BillingDispute, error) {
	var model models.BillingDisputeModel
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find dispute: %w", err)
	}
	return model.ToDomain()
}

// ListByPreInvoice returns all disputes attached to one pre-invoice
func (r *GormDisputeRepository) ListByPreInvoice(ctx context.Context, orgID, preInvoiceID uuid.UUID) ([]billing.BillingDispute, error) {
	var rows []models.BillingDisputeModel
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND pre_invoice_id = ?", orgID, preInvoiceID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list disputes: %w", err)
	}

	out := make([]billing.BillingDispute, 0, len(rows))
	for i := range rows {
		d, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

// List returns a filtered, paginated page of disputes
func (r *GormDisputeRepository) List(ctx context.Context, orgID uuid.UUID, filter billing.DisputeFilter) (*shared.Paginated[billing.BillingDispute], error) {
	query := r.db.WithContext(ctx).
		Model(&models.BillingDisputeModel{}).
		Where("org_id = ?", orgID)

	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	if filter.PreInvoiceID != nil {
		query = query.Where("pre_invoice_id = ?", *filter.PreInvoiceID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count disputes: %w", err)
	}

	query = applySort(query, filter.Filter, disputeSortColumns)
	if filter.Page > 0 && filter.PageSize > 0 {
		query = query.Offset((filter.Page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var rows []models.BillingDisputeModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list disputes: %w", err)
	}

	items := make([]billing.BillingDispute, 0, len(rows))
	for i := range rows {
		d, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		items = append(items, *d)
	}

	page := shared.NewPaginated(items, total, filter.Page, filter.PageSize)
	return &page, nil
}

// Save creates or updates a dispute
func (r *GormDisputeRepository) Save(ctx context.Context, d *billing.BillingDispute) error {
	var model models.BillingDisputeModel
	if err := model.FromDomain(d); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("failed to save dispute: %w", err)
	}
	return nil
}
