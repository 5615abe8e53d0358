package billing

import (
	"context"
	"time"

	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// PreInvoiceFilter narrows pre-invoice listings
type PreInvoiceFilter struct {
	shared.Filter
	Status       *PreInvoiceStatus
	CarrierID    *uuid.UUID
	IndustrialID *uuid.UUID
	PeriodKey    *string
	Blocked      *bool
}

// PreInvoiceRepository persists the PreInvoice aggregate with its owned
// sub-documents (lines, discrepancies, blocks, exports, history).
type PreInvoiceRepository interface {
	// FindByID loads one aggregate scoped to an organization; returns
	// (nil, nil) when it does not exist
	FindByID(ctx context.Context, orgID, id uuid.UUID) (*PreInvoice, error)

	// FindByScope loads the aggregate for one (carrier, industrial, period),
	// which is unique by construction; returns (nil, nil) when none exists
	FindByScope(ctx context.Context, orgID, carrierID, industrialID uuid.UUID, periodKey string) (*PreInvoice, error)

	// List returns a filtered, paginated page of aggregates
	List(ctx context.Context, orgID uuid.UUID, filter PreInvoiceFilter) (*shared.Paginated[PreInvoice], error)

	// ListPendingExport returns finalized aggregates with no acknowledged
	// export, for the export retry loop
	ListPendingExport(ctx context.Context, limit int) ([]PreInvoice, error)

	// ListWithOpenPayment returns finalized-or-later aggregates whose
	// payment countdown is still running
	ListWithOpenPayment(ctx context.Context, limit int) ([]PreInvoice, error)

	// ListExportedBefore returns exported aggregates whose acknowledgment is
	// older than the cutoff, for archival housekeeping
	ListExportedBefore(ctx context.Context, cutoff time.Time, limit int) ([]PreInvoice, error)

	// Save persists the aggregate and its sub-documents atomically
	Save(ctx context.Context, pi *PreInvoice) error

	// NextNumber allocates the next pre-invoice number for the period,
	// strictly unique and monotonic per organization
	NextNumber(ctx context.Context, orgID uuid.UUID, periodKey string) (string, error)

	// NextFinalNumber allocates the next final invoice number
	NextFinalNumber(ctx context.Context, orgID uuid.UUID) (string, error)
}

// DisputeFilter narrows dispute listings
type DisputeFilter struct {
	shared.Filter
	Status       *DisputeStatus
	PreInvoiceID *uuid.UUID
}

// DisputeRepository persists BillingDispute aggregates
type DisputeRepository interface {
	FindByID(ctx context.Context, orgID, id uuid.UUID) (*BillingDispute, error)
	ListByPreInvoice(ctx context.Context, orgID, preInvoiceID uuid.UUID) ([]BillingDispute, error)
	List(ctx context.Context, orgID uuid.UUID, filter DisputeFilter) (*shared.Paginated[BillingDispute], error)
	Save(ctx context.Context, d *BillingDispute) error
}

// JobRun is the persisted idempotency marker for one scheduled run, keyed by
// (job name, period key). Claiming is a single atomic conditional insert so
// correctness survives restarts and multiple instances.
type JobRun struct {
	ID          uuid.UUID  `json:"id"`
	JobName     string     `json:"job_name"`
	PeriodKey   string     `json:"period_key"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Succeeded   bool       `json:"succeeded"`
	Detail      string     `json:"detail,omitempty"`
}

// NewJobRun creates a marker for a run starting now
func NewJobRun(jobName, periodKey string) *JobRun {
	return &JobRun{
		ID:        uuid.New(),
		JobName:   jobName,
		PeriodKey: periodKey,
		StartedAt: time.Now(),
	}
}

// Complete records the run outcome
func (j *JobRun) Complete(succeeded bool, detail string) {
	now := time.Now()
	j.CompletedAt = &now
	j.Succeeded = succeeded
	j.Detail = detail
}

// JobRunRepository persists scheduled-run markers
type JobRunRepository interface {
	// Claim atomically inserts the marker; returns false when a marker for
	// the same (job, period) already exists, making the run a no-op
	Claim(ctx context.Context, run *JobRun) (bool, error)

	// Release deletes the marker so a forced re-run can claim it again
	Release(ctx context.Context, jobName, periodKey string) error

	// Update persists the completion fields
	Update(ctx context.Context, run *JobRun) error

	// Find returns the marker for one (job, period) if it exists
	Find(ctx context.Context, jobName, periodKey string) (*JobRun, error)
}
