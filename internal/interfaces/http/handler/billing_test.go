package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	appbilling "github.com/freightbill/backend/internal/application/billing"
	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/freightbill/backend/internal/domain/tariff"
	"github.com/freightbill/backend/internal/infrastructure/lock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memPreInvoiceRepo is an in-memory PreInvoiceRepository for handler tests
type memPreInvoiceRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*billing.PreInvoice
}

func newMemPreInvoiceRepo() *memPreInvoiceRepo {
	return &memPreInvoiceRepo{items: map[uuid.UUID]*billing.PreInvoice{}}
}

func (r *memPreInvoiceRepo) FindByID(_ context.Context, orgID, id uuid.UUID) (*billing.PreInvoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pi, ok := r.items[id]
	if !ok || pi.OrgID != orgID {
		return nil, nil
	}
	return pi, nil
}

func (r *memPreInvoiceRepo) FindByScope(_ context.Context, orgID, carrierID, industrialID uuid.UUID, periodKey string) (*billing.PreInvoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pi := range r.items {
		if pi.OrgID == orgID && pi.CarrierID == carrierID && pi.IndustrialID == industrialID && pi.Period.Key() == periodKey {
			return pi, nil
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
	return nil, nil
}

func (r *memPreInvoiceRepo) ListWithOpenPayment(_ context.Context, _ int) ([]billing.PreInvoice, error) {
	return nil, nil
}

func (r *memPreInvoiceRepo) ListExportedBefore(_ context.Context, _ time.Time, _ int) ([]billing.PreInvoice, error) {
	return nil, nil
}

func (r *memPreInvoiceRepo) Save(_ context.Context, pi *billing.PreInvoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[pi.GetID()] = pi
	return nil
}

func (r *memPreInvoiceRepo) NextNumber(_ context.Context, _ uuid.UUID, periodKey string) (string, error) {
	return "PF-" + periodKey + "-0001", nil
}

func (r *memPreInvoiceRepo) NextFinalNumber(_ context.Context, _ uuid.UUID) (string, error) {
	return "FAC-2025-00001", nil
}

// memDisputeRepo is an in-memory DisputeRepository for handler tests
type memDisputeRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*billing.BillingDispute
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
	r.items[d.GetID()] = d
	return nil
}

// emptyGridRepo backs the tariff resolver; handler tests never resolve grids
type emptyGridRepo struct{}

func (emptyGridRepo) FindByID(_ context.Context, _ uuid.UUID) (*tariff.Grid, error) {
	return nil, nil
}
func (emptyGridRepo) FindByIDForOrg(_ context.Context, _, _ uuid.UUID) (*tariff.Grid, error) {
	return nil, nil
}
func (emptyGridRepo) FindForPair(_ context.Context, _, _, _ uuid.UUID) ([]tariff.Grid, error) {
	return nil, nil
}
func (emptyGridRepo) FindValidOn(_ context.Context, _, _, _ uuid.UUID, _ time.Time) ([]tariff.Grid, error) {
	return nil, nil
}
func (emptyGridRepo) Save(_ context.Context, _ *tariff.Grid) error { return nil }

type noopPublisher struct{}

func (noopPublisher) Publish(_ context.Context, _ ...shared.DomainEvent) {}

type billingTestEnv struct {
	engine      *gin.Engine
	preInvoices *memPreInvoiceRepo
	disputes    *memDisputeRepo
	orgID       uuid.UUID
}

func newBillingTestEnv(t *testing.T) *billingTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	preInvoices := newMemPreInvoiceRepo()
	disputes := newMemDisputeRepo()
	locks := lock.NewMemoryManager()
	resolver := tariff.NewResolver(emptyGridRepo{})
	settings := appbilling.DefaultSettings()
	log := zap.NewNop()

	reconciliation := appbilling.NewReconciliationService(
		preInvoices, disputes, resolver, locks, noopPublisher{}, log, settings)
	blocks := appbilling.NewBlockService(
		preInvoices, nil, nil, nil, locks, noopPublisher{}, log, settings)
	disputeSvc := appbilling.NewDisputeService(disputes, preInvoices, locks, noopPublisher{}, log)

	billingHandler := NewBillingHandler(nil, reconciliation, blocks, nil)
	disputeHandler := NewDisputeHandler(disputeSvc)

	engine := gin.New()
	pre := engine.Group("/api/v1/billing/pre-invoices")
	pre.GET("", billingHandler.List)
	pre.GET("/:id", billingHandler.Get)
	pre.GET("/:id/history", billingHandler.History)
	pre.POST("/:id/validate", billingHandler.Validate)
	pre.POST("/:id/contest", billingHandler.Contest)
	pre.POST("/:id/blocks", billingHandler.ForceBlock)

	dis := engine.Group("/api/v1/billing/disputes")
	dis.GET("/:id", disputeHandler.Get)
	dis.POST("/:id/messages", disputeHandler.AddMessage)
	dis.POST("/:id/resolve", disputeHandler.Resolve)

	return &billingTestEnv{
		engine:      engine,
		preInvoices: preInvoices,
		disputes:    disputes,
		orgID:       uuid.New(),
	}
}

func (env *billingTestEnv) seedPreInvoice(t *testing.T) *billing.PreInvoice {
	t.Helper()
	pi, err := billing.NewPreInvoice(env.orgID, "PF-2025-03-0001",
		billing.NewPeriod(2025, time.March),
		uuid.New(), "Transports Durand", uuid.New(), "Lactalis")
	require.NoError(t, err)
	require.NoError(t, env.preInvoices.Save(context.Background(), pi))
	return pi
}

func (env *billingTestEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Org-ID", env.orgID.String())
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
	Meta *struct {
		Total int64 `json:"total"`
	} `json:"meta"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestBillingHandler_Get(t *testing.T) {
	env := newBillingTestEnv(t)
	pi := env.seedPreInvoice(t)

	t.Run("returns the aggregate", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/billing/pre-invoices/"+pi.GetID().String(), nil)

		require.Equal(t, http.StatusOK, w.Code)
		resp := decode(t, w)
		assert.True(t, resp.Success)

		var got billing.PreInvoice
		require.NoError(t, json.Unmarshal(resp.Data, &got))
		assert.Equal(t, "PF-2025-03-0001", got.PreInvoiceNumber)
		assert.Equal(t, billing.PreInvoiceStatusDraft, got.Status)
	})

	t.Run("unknown id is 404", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/billing/pre-invoices/"+uuid.NewString(), nil)

		require.Equal(t, http.StatusNotFound, w.Code)
		resp := decode(t, w)
		assert.False(t, resp.Success)
		assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	})

	t.Run("malformed id is 400", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/billing/pre-invoices/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing organization scope is 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/pre-invoices/"+pi.GetID().String(), nil)
		w := httptest.NewRecorder()
		env.engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestBillingHandler_List(t *testing.T) {
	env := newBillingTestEnv(t)
	env.seedPreInvoice(t)

	w := env.do(http.MethodGet, "/api/v1/billing/pre-invoices?page=1&page_size=20", nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(1), resp.Meta.Total)
}

func TestBillingHandler_Validate(t *testing.T) {
	env := newBillingTestEnv(t)
	pi := env.seedPreInvoice(t)

	t.Run("rejected transition carries the aggregate state", func(t *testing.T) {
		w := env.do(http.MethodPost,
			"/api/v1/billing/pre-invoices/"+pi.GetID().String()+"/validate",
			gin.H{"comment": "looks fine"})

		require.Equal(t, http.StatusConflict, w.Code)
		resp := decode(t, w)
		assert.False(t, resp.Success)
		assert.Equal(t, "INVALID_TRANSITION", resp.Error.Code)

		var state billing.PreInvoice
		require.NoError(t, json.Unmarshal(resp.Error.Details, &state))
		assert.Equal(t, billing.PreInvoiceStatusDraft, state.Status)
	})

	t.Run("malformed adjustment order id is 400", func(t *testing.T) {
		w := env.do(http.MethodPost,
			"/api/v1/billing/pre-invoices/"+pi.GetID().String()+"/validate",
			gin.H{"adjustments": []gin.H{{
				"order_id": "nope", "label": "x", "amount": "1", "reason": "r",
			}}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestBillingHandler_Contest(t *testing.T) {
	env := newBillingTestEnv(t)
	pi := env.seedPreInvoice(t)

	t.Run("missing reason is 400", func(t *testing.T) {
		w := env.do(http.MethodPost,
			"/api/v1/billing/pre-invoices/"+pi.GetID().String()+"/contest",
			gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestBillingHandler_ForceBlock(t *testing.T) {
	env := newBillingTestEnv(t)
	pi := env.seedPreInvoice(t)

	w := env.do(http.MethodPost,
		"/api/v1/billing/pre-invoices/"+pi.GetID().String()+"/blocks",
		gin.H{"reason": "pending fraud review"})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	require.True(t, resp.Success)

	var got billing.PreInvoice
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	require.Len(t, got.Blocks, 1)
	assert.Equal(t, billing.BlockManual, got.Blocks[0].Type)
	assert.True(t, got.Blocks[0].Active)
}

func TestBillingHandler_History(t *testing.T) {
	env := newBillingTestEnv(t)
	pi := env.seedPreInvoice(t)

	w := env.do(http.MethodGet,
		"/api/v1/billing/pre-invoices/"+pi.GetID().String()+"/history", nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	var history []billing.HistoryEntry
	require.NoError(t, json.Unmarshal(resp.Data, &history))
	require.NotEmpty(t, history)
	assert.Equal(t, "created", history[0].Action)
}

func TestDisputeHandler(t *testing.T) {
	env := newBillingTestEnv(t)
	pi := env.seedPreInvoice(t)

	d := billing.NewDiscrepancy(pi.GetID(), billing.DiscrepancyPriceGlobal,
		decimal.NewFromInt(1000), decimal.NewFromInt(1100))
	dispute := billing.NewBillingDispute(env.orgID, pi.GetID(), d, pi.CarrierID, pi.IndustrialID)
	require.NoError(t, env.disputes.Save(context.Background(), dispute))

	t.Run("add message", func(t *testing.T) {
		w := env.do(http.MethodPost,
			"/api/v1/billing/disputes/"+dispute.GetID().String()+"/messages",
			gin.H{"party": "carrier", "body": "toll charges were omitted", "proposal": "1080"})

		require.Equal(t, http.StatusOK, w.Code)
		resp := decode(t, w)
		require.True(t, resp.Success)

		var got billing.BillingDispute
		require.NoError(t, json.Unmarshal(resp.Data, &got))
		require.Len(t, got.Messages, 1)
		assert.Equal(t, "carrier", got.Messages[0].Party)
	})

	t.Run("invalid party is 400", func(t *testing.T) {
		w := env.do(http.MethodPost,
			"/api/v1/billing/disputes/"+dispute.GetID().String()+"/messages",
			gin.H{"party": "accountant", "body": "hello"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid resolution type is 400", func(t *testing.T) {
		w := env.do(http.MethodPost,
			"/api/v1/billing/disputes/"+dispute.GetID().String()+"/resolve",
			gin.H{"type": "COIN_FLIP", "final_amount": "1050", "rationale": "split it"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown dispute is 404", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/billing/disputes/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
