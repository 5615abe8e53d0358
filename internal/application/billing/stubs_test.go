package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/freightbill/backend/internal/domain/tariff"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// memPreInvoiceRepo is an in-memory PreInvoiceRepository for service tests
type memPreInvoiceRepo struct {
	mu          sync.Mutex
	items       map[uuid.UUID]*billing.PreInvoice
	nextSeq     int
	nextFinal   int
	saveErr     error
	saveErrOnce error // returned by the next Save, then cleared
	lastCutoff  time.Time
	exportQueue []uuid.UUID // IDs served by ListPendingExport
	openPayment []uuid.UUID // IDs served by ListWithOpenPayment
	exportedIDs []uuid.UUID // IDs served by ListExportedBefore
}

func newMemPreInvoiceRepo() *memPreInvoiceRepo {
	return &memPreInvoiceRepo{items: map[uuid.UUID]*billing.PreInvoice{}}
}

// FindByID returns a copy so callers only observe saved state, as with a
// real store
func (r *memPreInvoiceRepo) FindByID(_ context.Context, orgID, id uuid.UUID) (*billing.PreInvoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pi, ok := r.items[id]
	if !ok || pi.OrgID != orgID {
		return nil, nil
	}
	cp := *pi
	return &cp, nil
}

func (r *memPreInvoiceRepo) FindByScope(_ context.Context, orgID, carrierID, industrialID uuid.UUID, periodKey string) (*billing.PreInvoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pi := range r.items {
		if pi.OrgID == orgID && pi.CarrierID == carrierID && pi.IndustrialID == industrialID && pi.Period.Key() == periodKey {
			cp := *pi
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memPreInvoiceRepo) List(_ context.Context, orgID uuid.UUID, _ billing.PreInvoiceFilter) (*shared.Paginated[billing.PreInvoice], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []billing.PreInvoice
	for _, pi := range r.items {
		if pi.OrgID == orgID {
			items = append(items, *pi)
		}
	}
	page := shared.NewPaginated(items, int64(len(items)), 1, 20)
	return &page, nil
}

func (r *memPreInvoiceRepo) ListPendingExport(_ context.Context, _ int) ([]billing.PreInvoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []billing.PreInvoice
	for _, id := range r.exportQueue {
		if pi, ok := r.items[id]; ok && pi.Status == billing.PreInvoiceStatusFinalized {
			out = append(out, *pi)
		}
	}
	return out, nil
}

func (r *memPreInvoiceRepo) ListWithOpenPayment(_ context.Context, _ int) ([]billing.PreInvoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []billing.PreInvoice
	for _, id := range r.openPayment {
		if pi, ok := r.items[id]; ok {
			out = append(out, *pi)
		}
	}
	return out, nil
}

func (r *memPreInvoiceRepo) ListExportedBefore(_ context.Context, cutoff time.Time, _ int) ([]billing.PreInvoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCutoff = cutoff
	var out []billing.PreInvoice
	for _, id := range r.exportedIDs {
		if pi, ok := r.items[id]; ok && pi.Status == billing.PreInvoiceStatusExported {
			out = append(out, *pi)
		}
	}
	return out, nil
}

func (r *memPreInvoiceRepo) Save(_ context.Context, pi *billing.PreInvoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErrOnce != nil {
		err := r.saveErrOnce
		r.saveErrOnce = nil
		return err
	}
	if r.saveErr != nil {
		return r.saveErr
	}
	r.items[pi.GetID()] = pi
	return nil
}

func (r *memPreInvoiceRepo) NextNumber(_ context.Context, _ uuid.UUID, periodKey string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	return fmt.Sprintf("PF-%s-%04d", periodKey, r.nextSeq), nil
}

func (r *memPreInvoiceRepo) NextFinalNumber(_ context.Context, _ uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextFinal++
	return fmt.Sprintf("FAC-2025-%05d", r.nextFinal), nil
}

// memDisputeRepo is an in-memory DisputeRepository
type memDisputeRepo struct {
	mu      sync.Mutex
	items   map[uuid.UUID]*billing.BillingDispute
	saveErr error
}

func newMemDisputeRepo() *memDisputeRepo {
	return &memDisputeRepo{items: map[uuid.UUID]*billing.BillingDispute{}}
}

func (r *memDisputeRepo) FindByID(_ context.Context, orgID, id uuid.UUID) (*billing.BillingDispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.items[id]
	if !ok || d.OrgID != orgID {
		return nil, nil
	}
	return d, nil
}

func (r *memDisputeRepo) ListByPreInvoice(_ context.Context, orgID, preInvoiceID uuid.UUID) ([]billing.BillingDispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []billing.BillingDispute
	for _, d := range r.items {
		if d.OrgID == orgID && d.PreInvoiceID == preInvoiceID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *memDisputeRepo) List(_ context.Context, orgID uuid.UUID, _ billing.DisputeFilter) (*shared.Paginated[billing.BillingDispute], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []billing.BillingDispute
	for _, d := range r.items {
		if d.OrgID == orgID {
			out = append(out, *d)
		}
	}
	page := shared.NewPaginated(out, int64(len(out)), 1, 20)
	return &page, nil
}

func (r *memDisputeRepo) Save(_ context.Context, d *billing.BillingDispute) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.items[d.GetID()] = d
	return nil
}

// memJobRunRepo is an in-memory JobRunRepository with atomic claim semantics
type memJobRunRepo struct {
	mu   sync.Mutex
	runs map[string]*billing.JobRun
}

func newMemJobRunRepo() *memJobRunRepo {
	return &memJobRunRepo{runs: map[string]*billing.JobRun{}}
}

func jobKey(jobName, periodKey string) string {
	return jobName + "|" + periodKey
}

func (r *memJobRunRepo) Claim(_ context.Context, run *billing.JobRun) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := jobKey(run.JobName, run.PeriodKey)
	if _, exists := r.runs[key]; exists {
		return false, nil
	}
	r.runs[key] = run
	return true, nil
}

func (r *memJobRunRepo) Release(_ context.Context, jobName, periodKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, jobKey(jobName, periodKey))
	return nil
}

func (r *memJobRunRepo) Update(_ context.Context, run *billing.JobRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[jobKey(run.JobName, run.PeriodKey)] = run
	return nil
}

func (r *memJobRunRepo) Find(_ context.Context, jobName, periodKey string) (*billing.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[jobKey(jobName, periodKey)], nil
}

// stubOrderSource serves canned pairs and orders
type stubOrderSource struct {
	pairs  []billing.BillablePair
	orders []billing.TransportOrder
	err    error
}

func (s *stubOrderSource) ListBillablePairs(_ context.Context, _ uuid.UUID, _, _ time.Time) ([]billing.BillablePair, error) {
	return s.pairs, s.err
}

func (s *stubOrderSource) ListDeliverableOrders(_ context.Context, _, _, _ uuid.UUID, _, _ time.Time) ([]billing.TransportOrder, error) {
	return s.orders, s.err
}

func (s *stubOrderSource) GetOrders(_ context.Context, _ uuid.UUID, orderIDs []uuid.UUID) ([]billing.TransportOrder, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []billing.TransportOrder
	for _, o := range s.orders {
		for _, id := range orderIDs {
			if o.OrderID == id {
				out = append(out, o)
			}
		}
	}
	return out, nil
}

type stubVigilanceSource struct {
	vigilance *billing.CarrierVigilance
	err       error
}

func (s *stubVigilanceSource) GetCarrierVigilance(_ context.Context, _, _ uuid.UUID) (*billing.CarrierVigilance, error) {
	return s.vigilance, s.err
}

type stubPalletLedger struct {
	balance int
	err     error
}

func (s *stubPalletLedger) Balance(_ context.Context, _, _ uuid.UUID, _ []uuid.UUID) (int, error) {
	return s.balance, s.err
}

// stubGridRepo backs the tariff resolver in tests
type stubGridRepo struct {
	grids []tariff.Grid
	err   error
}

func (s *stubGridRepo) FindByID(_ context.Context, id uuid.UUID) (*tariff.Grid, error) {
	for i := range s.grids {
		if s.grids[i].GetID() == id {
			return &s.grids[i], nil
		}
	}
	return nil, s.err
}

func (s *stubGridRepo) FindByIDForOrg(ctx context.Context, _, id uuid.UUID) (*tariff.Grid, error) {
	return s.FindByID(ctx, id)
}

func (s *stubGridRepo) FindForPair(_ context.Context, _, _, _ uuid.UUID) ([]tariff.Grid, error) {
	return s.grids, s.err
}

func (s *stubGridRepo) FindValidOn(_ context.Context, _, _, _ uuid.UUID, _ time.Time) ([]tariff.Grid, error) {
	return s.grids, s.err
}

func (s *stubGridRepo) Save(_ context.Context, grid *tariff.Grid) error {
	s.grids = append(s.grids, *grid)
	return nil
}

// capturingPublisher records every published event
type capturingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *capturingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *capturingPublisher) typeCount(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

// scriptedGateway fails the first failures calls, then succeeds
type scriptedGateway struct {
	mu       sync.Mutex
	failures int
	calls    int
	failErr  error
}

func (g *scriptedGateway) Export(_ context.Context, pi *billing.PreInvoice, _ billing.ERPSystem) (string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.calls <= g.failures {
		return "", "", g.failErr
	}
	return "ERP-REF-" + pi.PreInvoiceNumber, `{"status":"ok"}`, nil
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
