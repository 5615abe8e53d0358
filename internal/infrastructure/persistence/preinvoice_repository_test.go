package persistence

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newMockDB creates a GORM connection backed by sqlmock
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return gormDB, mock, mockDB
}

func TestGormPreInvoiceRepository_FindByID(t *testing.T) {
	t.Run("finds existing pre-invoice", func(t *testing.T) {
		db, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormPreInvoiceRepository(db)

		orgID := uuid.New()
		id := uuid.New()

		rows := sqlmock.NewRows([]string{
			"id", "org_id", "version", "pre_invoice_number",
			"period_year", "period_month", "period_key",
			"carrier_id", "carrier_name", "industrial_id", "industrial_name",
			"status", "lines",
		}).AddRow(
			id, orgID, 1, "PF-2025-03-0001",
			2025, 3, "2025-03",
			uuid.New(), "Transports Durand", uuid.New(), "Lactalis",
			"PENDING_VALIDATION", `[]`,
		)

		mock.ExpectQuery(`SELECT \* FROM "pre_invoices" WHERE org_id = \$1 AND id = \$2 ORDER BY .* LIMIT .*`).
			WithArgs(orgID, id, 1).
			WillReturnRows(rows)

		pi, err := repo.FindByID(context.Background(), orgID, id)

		assert.NoError(t, err)
		require.NotNil(t, pi)
		assert.Equal(t, id, pi.GetID())
		assert.Equal(t, "PF-2025-03-0001", pi.PreInvoiceNumber)
		assert.Equal(t, billing.PreInvoiceStatusPendingValidation, pi.Status)
		assert.Equal(t, "2025-03", pi.Period.Key())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns nil for non-existent pre-invoice", func(t *testing.T) {
		db, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormPreInvoiceRepository(db)

		orgID := uuid.New()
		id := uuid.New()

		mock.ExpectQuery(`SELECT \* FROM "pre_invoices" WHERE org_id = \$1 AND id = \$2 ORDER BY .* LIMIT .*`).
			WithArgs(orgID, id, 1).
			WillReturnError(gorm.ErrRecordNotFound)

		pi, err := repo.FindByID(context.Background(), orgID, id)

		assert.NoError(t, err)
		assert.Nil(t, pi)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormPreInvoiceRepository_FindByScope(t *testing.T) {
	t.Run("returns nil when scope has no pre-invoice", func(t *testing.T) {
		db, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormPreInvoiceRepository(db)

		orgID := uuid.New()
		carrierID := uuid.New()
		industrialID := uuid.New()

		mock.ExpectQuery(`SELECT \* FROM "pre_invoices" WHERE org_id = \$1 AND carrier_id = \$2 AND industrial_id = \$3 AND period_key = \$4 ORDER BY .* LIMIT .*`).
			WithArgs(orgID, carrierID, industrialID, "2025-03", 1).
			WillReturnError(gorm.ErrRecordNotFound)

		pi, err := repo.FindByScope(context.Background(), orgID, carrierID, industrialID, "2025-03")

		assert.NoError(t, err)
		assert.Nil(t, pi)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormPreInvoiceRepository_ListPendingExport(t *testing.T) {
	t.Run("lists finalized pre-invoices", func(t *testing.T) {
		db, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormPreInvoiceRepository(db)

		rows := sqlmock.NewRows([]string{"id", "org_id", "pre_invoice_number", "period_key", "status"}).
			AddRow(uuid.New(), uuid.New(), "PF-2025-03-0001", "2025-03", "FINALIZED").
			AddRow(uuid.New(), uuid.New(), "PF-2025-03-0002", "2025-03", "FINALIZED")

		mock.ExpectQuery(`SELECT \* FROM "pre_invoices" WHERE status = \$1 ORDER BY updated_at ASC LIMIT .*`).
			WithArgs("FINALIZED", 50).
			WillReturnRows(rows)

		items, err := repo.ListPendingExport(context.Background(), 50)

		assert.NoError(t, err)
		assert.Len(t, items, 2)
		assert.Equal(t, billing.PreInvoiceStatusFinalized, items[0].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormPreInvoiceRepository_NextNumber(t *testing.T) {
	t.Run("starts at one for an empty period", func(t *testing.T) {
		db, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormPreInvoiceRepository(db)

		orgID := uuid.New()

		mock.ExpectQuery(`SELECT "?pre_invoice_number"? FROM "pre_invoices" WHERE org_id = \$1 AND pre_invoice_number LIKE \$2 ORDER BY .* LIMIT .*`).
			WithArgs(orgID, "PF-2025-03-%", 1).
			WillReturnRows(sqlmock.NewRows([]string{"pre_invoice_number"}))

		number, err := repo.NextNumber(context.Background(), orgID, "2025-03")

		assert.NoError(t, err)
		assert.Equal(t, "PF-2025-03-0001", number)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("increments past the highest existing number", func(t *testing.T) {
		db, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormPreInvoiceRepository(db)

		orgID := uuid.New()

		rows := sqlmock.NewRows([]string{"pre_invoice_number"}).AddRow("PF-2025-03-0007")
		mock.ExpectQuery(`SELECT "?pre_invoice_number"? FROM "pre_invoices" WHERE org_id = \$1 AND pre_invoice_number LIKE \$2 ORDER BY .* LIMIT .*`).
			WithArgs(orgID, "PF-2025-03-%", 1).
			WillReturnRows(rows)

		number, err := repo.NextNumber(context.Background(), orgID, "2025-03")

		assert.NoError(t, err)
		assert.Equal(t, "PF-2025-03-0008", number)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormPreInvoiceRepository_Save(t *testing.T) {
	t.Run("updates an existing aggregate", func(t *testing.T) {
		db, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormPreInvoiceRepository(db)

		orgID := uuid.New()
		pi, err := billing.NewPreInvoice(
			orgID, "PF-2025-03-0001",
			billing.NewPeriod(2025, 3),
			uuid.New(), "Transports Durand",
			uuid.New(), "Lactalis",
		)
		require.NoError(t, err)

		mock.ExpectExec(`UPDATE "pre_invoices" SET .*`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err = repo.Save(context.Background(), pi)

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
