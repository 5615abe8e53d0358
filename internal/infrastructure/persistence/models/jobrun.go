package models

import (
	"time"

	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/google/uuid"
)

// JobRunModel is the persistence model for scheduled-run idempotency markers.
// The unique index on (job_name, period_key) is what makes Claim atomic: the
// second claimant's insert fails and the run becomes a no-op.
type JobRunModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key"`
	JobName     string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_job_run_claim,priority:1"`
	PeriodKey   string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_job_run_claim,priority:2"`
	StartedAt   time.Time `gorm:"not null"`
	CompletedAt *time.Time
	Succeeded   bool   `gorm:"not null"`
	Detail      string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (JobRunModel) TableName() string {
	return "job_runs"
}

// FromDomain populates the model from a domain JobRun
func (m *JobRunModel) FromDomain(run *billing.JobRun) {
	m.ID = run.ID
	m.JobName = run.JobName
	m.PeriodKey = run.PeriodKey
	m.StartedAt = run.StartedAt
	m.CompletedAt = run.CompletedAt
	m.Succeeded = run.Succeeded
	m.Detail = run.Detail
}

// ToDomain converts the persistence model back to a domain JobRun
func (m *JobRunModel) ToDomain() *billing.JobRun {
	return &billing.JobRun{
		ID:          m.ID,
		JobName:     m.JobName,
		PeriodKey:   m.PeriodKey,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		Succeeded:   m.Succeeded,
		Detail:      m.Detail,
	}
}
