package models

import (
	"fmt"
	"time"

	"github.com/freightbill/backend/internal/domain/tariff"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GridModel is the persistence model for the tariff Grid aggregate.
// Bands and the three rule sets are JSONB; grids are small and always loaded
// whole, so per-band rows would buy nothing.
type GridModel struct {
	OrgAggregateModel
	Name             string    `gorm:"type:varchar(200);not null"`
	CarrierID        uuid.UUID `gorm:"type:uuid;not null;index:idx_tariff_grid_pair,priority:2"`
	IndustrialID     uuid.UUID `gorm:"type:uuid;not null;index:idx_tariff_grid_pair,priority:3"`
	ValidFrom        time.Time `gorm:"not null;index"`
	ValidUntil       *time.Time
	Bands            string           `gorm:"type:jsonb;not null;default:'[]'"`
	Waiting          string           `gorm:"type:jsonb;not null;default:'{}'"`
	Options          string           `gorm:"type:jsonb;not null;default:'{}'"`
	Penalties        string           `gorm:"type:jsonb;not null;default:'{}'"`
	TolerancePercent *decimal.Decimal `gorm:"type:decimal(5,2)"`
}

// TableName returns the table name for GORM
func (GridModel) TableName() string {
	return "tariff_grids"
}

// FromDomain populates the model from a domain Grid
func (m *GridModel) FromDomain(g *tariff.Grid) error {
	m.FromDomainOrgAggregateRoot(g.OrgAggregateRoot)
	m.Name = g.Name
	m.CarrierID = g.CarrierID
	m.IndustrialID = g.IndustrialID
	m.ValidFrom = g.ValidFrom
	m.ValidUntil = g.ValidUntil
	m.TolerancePercent = g.TolerancePercent

	docs := []struct {
		dst *string
		src any
	}{
		{&m.Bands, g.Bands},
		{&m.Waiting, g.Waiting},
		{&m.Options, g.Options},
		{&m.Penalties, g.Penalties},
	}
	for _, d := range docs {
		s, err := marshalDoc(d.src)
		if err != nil {
			return fmt.Errorf("failed to serialize grid document: %w", err)
		}
		*d.dst = s
	}
	return nil
}

// ToDomain converts the persistence model back to a domain Grid
func (m *GridModel) ToDomain() (*tariff.Grid, error) {
	g := &tariff.Grid{
		OrgAggregateRoot: m.ToDomainOrgAggregateRoot(),
		Name:             m.Name,
		CarrierID:        m.CarrierID,
		IndustrialID:     m.IndustrialID,
		ValidFrom:        m.ValidFrom,
		ValidUntil:       m.ValidUntil,
		TolerancePercent: m.TolerancePercent,
	}

	docs := []struct {
		src string
		dst any
	}{
		{m.Bands, &g.Bands},
		{m.Waiting, &g.Waiting},
		{m.Options, &g.Options},
		{m.Penalties, &g.Penalties},
	}
	for _, d := range docs {
		if err := unmarshalDoc(d.src, d.dst); err != nil {
			return nil, fmt.Errorf("failed to deserialize grid document: %w", err)
		}
	}
	return g, nil
}
