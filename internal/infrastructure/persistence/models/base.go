package models

import (
	"time"

	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// BaseModel provides common persistence fields for all models.
// It maps to the domain's BaseEntity.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// AggregateModel extends BaseModel with a version for optimistic locking
type AggregateModel struct {
	BaseModel
	Version int `gorm:"not null;default:1"`
}

// OrgAggregateModel provides common persistence fields for
// organization-scoped aggregate roots.
type OrgAggregateModel struct {
	AggregateModel
	OrgID     uuid.UUID  `gorm:"type:uuid;not null;index"`
	CreatedBy *uuid.UUID `gorm:"type:uuid"`
}

// FromDomainOrgAggregateRoot populates the model from the domain root
func (m *OrgAggregateModel) FromDomainOrgAggregateRoot(a shared.OrgAggregateRoot) {
	m.ID = a.ID
	m.CreatedAt = a.CreatedAt
	m.UpdatedAt = a.UpdatedAt
	m.Version = a.Version
	m.OrgID = a.OrgID
	m.CreatedBy = a.CreatedBy
}

// ToDomainOrgAggregateRoot converts the model fields back to a domain root
func (m *OrgAggregateModel) ToDomainOrgAggregateRoot() shared.OrgAggregateRoot {
	return shared.OrgAggregateRoot{
		BaseAggregateRoot: shared.BaseAggregateRoot{
			BaseEntity: shared.BaseEntity{
				ID:        m.ID,
				CreatedAt: m.CreatedAt,
				UpdatedAt: m.UpdatedAt,
			},
			Version: m.Version,
		},
		OrgID:     m.OrgID,
		CreatedBy: m.CreatedBy,
	}
}
