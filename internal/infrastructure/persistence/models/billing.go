package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PreInvoiceModel is the persistence model for the PreInvoice aggregate.
// Owned sub-documents (lines, discrepancies, blocks, exports, history) are
// stored as JSONB so the aggregate saves atomically in one row; the columns
// duplicated out of the documents exist only for querying.
type PreInvoiceModel struct {
	OrgAggregateModel
	PreInvoiceNumber string `gorm:"type:varchar(50);not null;uniqueIndex:idx_pre_invoice_org_number,priority:2"`
	PeriodYear       int    `gorm:"not null"`
	PeriodMonth      int    `gorm:"not null"`
	PeriodKey        string `gorm:"type:varchar(7);not null;index;uniqueIndex:idx_pre_invoice_scope,priority:4"`
	PeriodStart      time.Time
	PeriodEnd        time.Time
	CarrierID        uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_pre_invoice_scope,priority:2"`
	CarrierName      string    `gorm:"type:varchar(200);not null"`
	IndustrialID     uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_pre_invoice_scope,priority:3"`
	IndustrialName   string    `gorm:"type:varchar(200);not null"`
	Status           string    `gorm:"type:varchar(30);not null;index"`
	Blocked          bool      `gorm:"not null;index"`

	SubtotalHT decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	TotalTTC   decimal.Decimal `gorm:"type:decimal(18,4);not null"`

	FinalInvoiceNumber *string    `gorm:"type:varchar(50);uniqueIndex:idx_pre_invoice_org_final,priority:2"`
	PaymentDueDate     *time.Time `gorm:"index"`
	PaymentPaidAt      *time.Time `gorm:"index"`
	ExportedAt         *time.Time `gorm:"index"`

	Lines          string `gorm:"type:jsonb;default:'[]'"`
	SkippedOrders  string `gorm:"type:jsonb;default:'[]'"`
	Totals         string `gorm:"type:jsonb;default:'{}'"`
	KPIs           string `gorm:"column:kpis;type:jsonb;default:'{}'"`
	Validation     string `gorm:"type:jsonb"`
	CarrierInvoice string `gorm:"type:jsonb"`
	InvoiceControl string `gorm:"type:jsonb"`
	Payment        string `gorm:"type:jsonb"`
	FinalInvoice   string `gorm:"type:jsonb"`
	Discrepancies  string `gorm:"type:jsonb;default:'[]'"`
	Blocks         string `gorm:"type:jsonb;default:'[]'"`
	Exports        string `gorm:"type:jsonb;default:'[]'"`
	History        string `gorm:"type:jsonb;default:'[]'"`
}

// TableName returns the table name for GORM
func (PreInvoiceModel) TableName() string {
	return "pre_invoices"
}

func marshalDoc(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalDoc(s string, v any) error {
	if s == "" || s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

// FromDomain populates the model from a domain PreInvoice
func (m *PreInvoiceModel) FromDomain(pi *billing.PreInvoice) error {
	m.FromDomainOrgAggregateRoot(pi.OrgAggregateRoot)
	m.PreInvoiceNumber = pi.PreInvoiceNumber
	m.PeriodYear = pi.Period.Year
	m.PeriodMonth = int(pi.Period.Month)
	m.PeriodKey = pi.Period.Key()
	m.PeriodStart = pi.Period.StartDate
	m.PeriodEnd = pi.Period.EndDate
	m.CarrierID = pi.CarrierID
	m.CarrierName = pi.CarrierName
	m.IndustrialID = pi.IndustrialID
	m.IndustrialName = pi.IndustrialName
	m.Status = string(pi.Status)
	m.Blocked = len(pi.ActiveBlocks()) > 0
	m.SubtotalHT = pi.Totals.SubtotalHT
	m.TotalTTC = pi.Totals.TotalTTC

	m.FinalInvoiceNumber = nil
	if pi.FinalInvoice != nil {
		m.FinalInvoiceNumber = &pi.FinalInvoice.InvoiceNumber
	}
	m.PaymentDueDate = nil
	m.PaymentPaidAt = nil
	if pi.Payment != nil {
		due := pi.Payment.DueDate
		m.PaymentDueDate = &due
		m.PaymentPaidAt = pi.Payment.PaidAt
	}
	m.ExportedAt = nil
	if ack := pi.AcknowledgedExport(); ack != nil {
		m.ExportedAt = ack.AcknowledgedAt
	}

	docs := []struct {
		dst *string
		src any
	}{
		{&m.Lines, pi.Lines},
		{&m.SkippedOrders, pi.SkippedOrders},
		{&m.Totals, pi.Totals},
		{&m.KPIs, pi.KPIs},
		{&m.Validation, pi.IndustrialValidation},
		{&m.CarrierInvoice, pi.CarrierInvoice},
		{&m.InvoiceControl, pi.InvoiceControl},
		{&m.Payment, pi.Payment},
		{&m.FinalInvoice, pi.FinalInvoice},
		{&m.Discrepancies, pi.Discrepancies},
		{&m.Blocks, pi.Blocks},
		{&m.Exports, pi.Exports},
		{&m.History, pi.History},
	}
	for _, d := range docs {
		s, err := marshalDoc(d.src)
		if err != nil {
			return fmt.Errorf("failed to serialize pre-invoice document: %w", err)
		}
		*d.dst = s
	}
	return nil
}

// ToDomain converts the persistence model back to a domain PreInvoice
func (m *PreInvoiceModel) ToDomain() (*billing.PreInvoice, error) {
	pi := &billing.PreInvoice{
		OrgAggregateRoot: m.ToDomainOrgAggregateRoot(),
		PreInvoiceNumber: m.PreInvoiceNumber,
		Period: billing.Period{
			Year:      m.PeriodYear,
			Month:     time.Month(m.PeriodMonth),
			StartDate: m.PeriodStart,
			EndDate:   m.PeriodEnd,
		},
		CarrierID:      m.CarrierID,
		CarrierName:    m.CarrierName,
		IndustrialID:   m.IndustrialID,
		IndustrialName: m.IndustrialName,
		Status:         billing.PreInvoiceStatus(m.Status),
	}

	docs := []struct {
		src string
		dst any
	}{
		{m.Lines, &pi.Lines},
		{m.SkippedOrders, &pi.SkippedOrders},
		{m.Totals, &pi.Totals},
		{m.KPIs, &pi.KPIs},
		{m.Validation, &pi.IndustrialValidation},
		{m.CarrierInvoice, &pi.CarrierInvoice},
		{m.InvoiceControl, &pi.InvoiceControl},
		{m.Payment, &pi.Payment},
		{m.FinalInvoice, &pi.FinalInvoice},
		{m.Discrepancies, &pi.Discrepancies},
		{m.Blocks, &pi.Blocks},
		{m.Exports, &pi.Exports},
		{m.History, &pi.History},
	}
	for _, d := range docs {
		if err := unmarshalDoc(d.src, d.dst); err != nil {
			return nil, fmt.Errorf("failed to deserialize pre-invoice document: %w", err)
		}
	}
	return pi, nil
}

// BillingDisputeModel is the persistence model for the BillingDispute
// aggregate
type BillingDisputeModel struct {
	OrgAggregateModel
	PreInvoiceID  uuid.UUID       `gorm:"type:uuid;not null;index"`
	DiscrepancyID uuid.UUID       `gorm:"type:uuid;not null;index"`
	CarrierID     uuid.UUID       `gorm:"type:uuid;not null;index"`
	IndustrialID  uuid.UUID       `gorm:"type:uuid;not null"`
	Type          string          `gorm:"type:varchar(30);not null"`
	Status        string          `gorm:"type:varchar(20);not null;index"`
	CarrierAmount decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	ClientAmount  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Messages      string          `gorm:"type:jsonb;default:'[]'"`
	Resolution    string          `gorm:"type:jsonb"`
}

// TableName returns the table name for GORM
func (BillingDisputeModel) TableName() string {
	return "billing_disputes"
}

// FromDomain populates the model from a domain BillingDispute
func (m *BillingDisputeModel) FromDomain(d *billing.BillingDispute) error {
	m.FromDomainOrgAggregateRoot(d.OrgAggregateRoot)
	m.PreInvoiceID = d.PreInvoiceID
	m.DiscrepancyID = d.DiscrepancyID
	m.CarrierID = d.CarrierID
	m.IndustrialID = d.IndustrialID
	m.Type = string(d.Type)
	m.Status = string(d.Status)
	m.CarrierAmount = d.CarrierAmount
	m.ClientAmount = d.ClientAmount

	messages, err := marshalDoc(d.Messages)
	if err != nil {
		return fmt.Errorf("failed to serialize dispute messages: %w", err)
	}
	m.Messages = messages

	resolution, err := marshalDoc(d.Resolution)
	if err != nil {
		return fmt.Errorf("failed to serialize dispute resolution: %w", err)
	}
	m.Resolution = resolution
	return nil
}

// ToDomain converts the persistence model back to a domain BillingDispute
func (m *BillingDisputeModel) ToDomain() (*billing.BillingDispute, error) {
	d := &billing.BillingDispute{
		OrgAggregateRoot: m.ToDomainOrgAggregateRoot(),
		PreInvoiceID:     m.PreInvoiceID,
		DiscrepancyID:    m.DiscrepancyID,
		CarrierID:        m.CarrierID,
		IndustrialID:     m.IndustrialID,
		Type:             billing.DiscrepancyType(m.Type),
		Status:           billing.DisputeStatus(m.Status),
		CarrierAmount:    m.CarrierAmount,
		ClientAmount:     m.ClientAmount,
	}
	if err := unmarshalDoc(m.Messages, &d.Messages); err != nil {
		return nil, fmt.Errorf("failed to deserialize dispute messages: %w", err)
	}
	if err := unmarshalDoc(m.Resolution, &d.Resolution); err != nil {
		return nil, fmt.Errorf("failed to deserialize dispute resolution: %w", err)
	}
	return d, nil
}
