package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/freightbill/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormPreInvoiceRepository implements billing.PreInvoiceRepository using GORM
type GormPreInvoiceRepository struct {
	db *gorm.DB
}

var _ billing.PreInvoiceRepository = (*GormPreInvoiceRepository)(nil)

// NewGormPreInvoiceRepository creates a new GormPreInvoiceRepository
func NewGormPreInvoiceRepository(db *gorm.DB) *GormPreInvoiceRepository {
	return &GormPreInvoiceRepository{db: db}
}

// preInvoiceSortColumns is the allowlist for user-supplied ordering
var preInvoiceSortColumns = map[string]bool{
	"created_at":         true,
	"updated_at":         true,
	"pre_invoice_number": true,
	"period_key":         true,
	"status":             true,
	"subtotal_ht":        true,
	"total_ttc":          true,
	"payment_due_date":   true,
}

// FindByID finds a pre-invoice by ID within an organization.
// Returns (nil, nil) when it does not exist.
func (r *GormPreInvoiceRepository) FindByID(ctx context.Context, orgID, id uuid.UUID) (*billing.PreInvoice, error) {
	var model models.PreInvoiceModel
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find pre-invoice: %w", err)
	}
	return model.ToDomain()
}

// FindByScope finds the pre-invoice for one (carrier, industrial, period).
// Returns (nil, nil) when none exists.
func (r *GormPreInvoiceRepository) FindByScope(ctx context.Context, orgID, carrierID, industrialID uuid.UUID, periodKey string) (*billing.PreInvoice, error) {
	var model models.PreInvoiceModel
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND carrier_id = ? AND industrial_id = ? AND period_key = ?",
			orgID, carrierID, industrialID, periodKey).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find pre-invoice by scope: %w", err)
	}
	return model.ToDomain()
}

// List returns a filtered, paginated page of pre-invoices
func (r *GormPreInvoiceRepository) List(ctx context.Context, orgID uuid.UUID, filter billing.PreInvoiceFilter) (*shared.Paginated[billing.PreInvoice], error) {
	query := r.db.WithContext(ctx).
		Model(&models.PreInvoiceModel{}).
		Where("org_id = ?", orgID)

	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	if filter.CarrierID != nil {
		query = query.Where("carrier_id = ?", *filter.CarrierID)
	}
	if filter.IndustrialID != nil {
		query = query.Where("industrial_id = ?", *filter.IndustrialID)
	}
	if filter.PeriodKey != nil {
		query = query.Where("period_key = ?", *filter.PeriodKey)
	}
	if filter.Blocked != nil {
		query = query.Where("blocked = ?", *filter.Blocked)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where("pre_invoice_number ILIKE ? OR carrier_name ILIKE ? OR industrial_name ILIKE ?",
			pattern, pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count pre-invoices: %w", err)
	}

	query = applySort(query, filter.Filter, preInvoiceSortColumns)
	if filter.Page > 0 && filter.PageSize > 0 {
		query = query.Offset((filter.Page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var rows []models.PreInvoiceModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list pre-invoices: %w", err)
	}

	items := make([]billing.PreInvoice, 0, len(rows))
	for i := range rows {
		pi, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		items = append(items, *pi)
	}

	page := shared.NewPaginated(items, total, filter.Page, filter.PageSize)
	return &page, nil
}

// ListPendingExport returns finalized pre-invoices awaiting export
func (r *GormPreInvoiceRepository) ListPendingExport(ctx context.Context, limit int) ([]billing.PreInvoice, error) {
	var rows []models.PreInvoiceModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(billing.PreInvoiceStatusFinalized)).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list pre-invoices pending export: %w", err)
	}
	return toDomainSlice(rows)
}

// ListWithOpenPayment returns pre-invoices whose payment countdown is running
func (r *GormPreInvoiceRepository) ListWithOpenPayment(ctx context.Context, limit int) ([]billing.PreInvoice, error) {
	var rows []models.PreInvoiceModel
	if err := r.db.WithContext(ctx).
		Where("payment_due_date IS NOT NULL AND payment_paid_at IS NULL").
		Where("status IN ?", []string{
			string(billing.PreInvoiceStatusFinalized),
			string(billing.PreInvoiceStatusExported),
		}).
		Order("payment_due_date ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list pre-invoices with open payment: %w", err)
	}
	return toDomainSlice(rows)
}

// ListExportedBefore returns exported pre-invoices acknowledged before the
// cutoff, for archival
func (r *GormPreInvoiceRepository) ListExportedBefore(ctx context.Context, cutoff time.Time, limit int) ([]billing.PreInvoice, error) {
	var rows []models.PreInvoiceModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND exported_at < ?", string(billing.PreInvoiceStatusExported), cutoff).
		Order("exported_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list exported pre-invoices: %w", err)
	}
	return toDomainSlice(rows)
}

// Save creates or updates a pre-invoice with all its sub-documents.
// A unique-index violation (number or scope taken by a concurrent writer)
// surfaces as shared.ErrConcurrencyConflict so callers can re-allocate and
// retry.
func (r *GormPreInvoiceRepository) Save(ctx context.Context, pi *billing.PreInvoice) error {
	var model models.PreInvoiceModel
	if err := model.FromDomain(pi); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("pre-invoice save: %w", shared.ErrConcurrencyConflict)
		}
		return fmt.Errorf("failed to save pre-invoice: %w", err)
	}
	return nil
}

// NextNumber allocates the next pre-invoice number for a period.
// Format: PF-YYYY-MM-NNNN (e.g. PF-2025-03-0001).
func (r *GormPreInvoiceRepository) NextNumber(ctx context.Context, orgID uuid.UUID, periodKey string) (string, error) {
	prefix := fmt.Sprintf("PF-%s-", periodKey)
	seq, err := r.nextSequence(ctx, orgID, "pre_invoice_number", prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%04d", prefix, seq), nil
}

// NextFinalNumber allocates the next final invoice number.
// Format: FAC-YYYY-NNNNN (e.g. FAC-2025-00001).
func (r *GormPreInvoiceRepository) NextFinalNumber(ctx context.Context, orgID uuid.UUID) (string, error) {
	prefix := fmt.Sprintf("FAC-%d-", time.Now().Year())
	seq, err := r.nextSequence(ctx, orgID, "final_invoice_number", prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%05d", prefix, seq), nil
}

// nextSequence finds the highest existing number with the given prefix and
// returns the next sequence value. The unique index on the number column is
// the backstop against concurrent allocations: the losing writer gets
// shared.ErrConcurrencyConflict from Save and allocates again.
func (r *GormPreInvoiceRepository) nextSequence(ctx context.Context, orgID uuid.UUID, column, prefix string) (int64, error) {
	var last string
	err := r.db.WithContext(ctx).
		Model(&models.PreInvoiceModel{}).
		Select(column).
		Where("org_id = ? AND "+column+" LIKE ?", orgID, prefix+"%").
		Order(column + " DESC").
		Limit(1).
		Scan(&last).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("failed to allocate next number: %w", err)
	}

	var next int64 = 1
	if last != "" {
		var num int64
		if _, parseErr := fmt.Sscanf(strings.TrimPrefix(last, prefix), "%d", &num); parseErr == nil {
			next = num + 1
		}
	}
	return next, nil
}

func toDomainSlice(rows []models.PreInvoiceModel) ([]billing.PreInvoice, error) {
	out := make([]billing.PreInvoice, 0, len(rows))
	for i := range rows {
		pi, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *pi)
	}
	return out, nil
}

// applySort applies allowlisted ordering with a created_at DESC default
func applySort(query *gorm.DB, filter shared.Filter, allowed map[string]bool) *gorm.DB {
	if filter.OrderBy != "" && allowed[filter.OrderBy] {
		dir := "ASC"
		if strings.ToLower(filter.OrderDir) == "desc" {
			dir = "DESC"
		}
		return query.Order(filter.OrderBy + " " + dir)
	}
	return query.Order("created_at DESC")
}
