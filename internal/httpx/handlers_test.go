package httpx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/auth"
	"github.com/ariefcatur/go-marketplace-orders/internal/funds"
	"github.com/ariefcatur/go-marketplace-orders/internal/httpx"
	"github.com/ariefcatur/go-marketplace-orders/internal/memstore"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/otp"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/ariefcatur/go-marketplace-orders/internal/sweeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *inbox) SendEmail(_ context.Context, _, _ string, data map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.codes == nil {
		b.codes = map[string]string{}
	}
	b.codes[data["intent_id"].(string)] = data["code"].(string)
	return nil
}

func (b *inbox) code(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[id]
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]redisx.StatusEntry
	sets    int
}

func (c *memCache) Get(_ context.Context, id string) (redisx.StatusEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return e, ok, nil
}

func (c *memCache) SetStatus(_ context.Context, o *orders.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]redisx.StatusEntry{}
	}
	if cur, ok := c.entries[o.ID]; ok && cur.Version > o.Version {
		return
	}
	c.entries[o.ID] = redisx.EntryOf(o)
	c.sets++
}

type fixture struct {
	store   *memstore.Store
	handler http.Handler
	verify  *auth.Verifier
	inbox   *inbox
	cache   *memCache
	now     time.Time
}

func newFixture(t *testing.T, perMinute int) *fixture {
	t.Helper()

	st := memstore.New()
	st.AddUser(memstore.User{ID: "buyer", Email: "buyer@example.com", Name: "Buyer"})
	st.AddUser(memstore.User{ID: "seller", Email: "seller@example.com", Name: "Seller"})
	st.AddGig(orders.Gig{ID: "gig-1", SellerID: "seller", Title: "Logo design", Price: 1000, DeliveryDays: 5})

	f := &fixture{store: st, inbox: &inbox{}, cache: &memCache{}, now: t0}
	clock := func() time.Time { return f.now }
	f.verify = &auth.Verifier{Secret: []byte("test-secret"), Clock: clock}

	osvc := &orders.Service{Store: st, Cache: f.cache, Clock: clock}
	fsvc := &funds.Service{
		Store:   st,
		Orders:  osvc,
		Gate:    otp.Gate{Cost: bcrypt.MinCost},
		Emailer: f.inbox,
		Clock:   clock,
	}
	sw := &sweeper.Sweeper{Store: st, Orders: osvc, Clock: clock}

	f.handler = httpx.NewRouter(httpx.Deps{
		Orders:  osvc,
		Funds:   fsvc,
		Auth:    f.verify,
		Cache:   f.cache,
		Sweeper: sw,
		Limiter: httpx.NewLimiter(perMinute),
	})
	return f
}

func (f *fixture) do(t *testing.T, user, role, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		tok, err := f.verify.Issue(auth.Identity{UserID: user, Role: role}, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (f *fixture) activeOrder(t *testing.T) string {
	t.Helper()
	rec, o := f.do(t, "buyer", auth.RoleUser, http.MethodPost, "/orders/gig", map[string]string{"gig_id": "gig-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := o["id"].(string)

	rec, _ = f.do(t, "seller", auth.RoleUser, http.MethodPost, "/orders/"+id+"/accept", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return id
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)

	rec, _ := f.do(t, "", "", http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRequiresToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)

	rec, body := f.do(t, "", "", http.MethodGet, "/wallet", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", body["kind"])

	req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDepositAndPayFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	id := f.activeOrder(t)

	rec, in := f.do(t, "buyer", auth.RoleUser, http.MethodPost, "/wallet/deposits",
		map[string]any{"amount": 1000, "method": "bkash"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "pending_otp", in["status"])
	assert.NotContains(t, in, "code_hash")
	depID := in["id"].(string)

	rec, res := f.do(t, "buyer", auth.RoleUser, http.MethodPost, "/wallet/deposits/"+depID+"/verify",
		map[string]string{"otp": f.inbox.code(depID)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1000, res["balance"])

	rec, in = f.do(t, "buyer", auth.RoleUser, http.MethodPost, "/orders/"+id+"/payment",
		map[string]any{"method": "card"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	payID := in["id"].(string)

	rec, res = f.do(t, "buyer", auth.RoleUser, http.MethodPost, "/payments/"+payID+"/verify",
		map[string]string{"otp": f.inbox.code(payID)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 0, res["balance"])
	order := res["order"].(map[string]any)
	assert.Equal(t, "in_progress", order["status"])
	assert.EqualValues(t, 100, order["commission"])
	assert.EqualValues(t, 900, order["seller_amount"])

	// a resolved intent cannot be verified again
	rec, body := f.do(t, "buyer", auth.RoleUser, http.MethodPost, "/payments/"+payID+"/verify",
		map[string]string{"otp": f.inbox.code(payID)})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["kind"])
	assert.Contains(t, body["error"], "already processed")

	rec, w := f.do(t, "buyer", auth.RoleUser, http.MethodGet, "/wallet", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, w["balance"])
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	id := f.activeOrder(t)

	tests := []struct {
		name   string
		user   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"wrong party", "buyer", http.MethodPost, "/orders/" + id + "/accept", nil, http.StatusForbidden, "forbidden"},
		{"stranger", "mallory", http.MethodGet, "/orders/" + id, nil, http.StatusForbidden, "forbidden"},
		{"missing order", "buyer", http.MethodGet, "/orders/nope", nil, http.StatusNotFound, "not_found"},
		{"wrong state", "seller", http.MethodPost, "/orders/" + id + "/deliver", map[string]any{"description": "done"}, http.StatusConflict, "state_conflict"},
		{"bad json", "buyer", http.MethodPost, "/orders/gig", map[string]any{"unknown": 1}, http.StatusBadRequest, "validation"},
		{"bad party", "buyer", http.MethodGet, "/orders?as=admin", nil, http.StatusBadRequest, "validation"},
		{"bad deposit", "buyer", http.MethodPost, "/wallet/deposits", map[string]any{"amount": 5, "method": "bkash"}, http.StatusBadRequest, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := f.do(t, tt.user, auth.RoleUser, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, body["kind"])
		})
	}
}

func TestInsufficientFundsCarriesDetails(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	id := f.activeOrder(t)
	f.store.SetBalance("buyer", 500)

	rec, body := f.do(t, "buyer", auth.RoleUser, http.MethodPost, "/orders/"+id+"/payment",
		map[string]any{"method": "card"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "insufficient_funds", body["kind"])
	details := body["details"].(map[string]any)
	assert.EqualValues(t, 500, details["balance"])
	assert.EqualValues(t, 1000, details["required"])
}

func TestStatusReadThrough(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	id := f.activeOrder(t)

	f.cache.mu.Lock()
	delete(f.cache.entries, id)
	before := f.cache.sets
	f.cache.mu.Unlock()

	rec, e := f.do(t, "seller", auth.RoleUser, http.MethodGet, "/orders/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "activated", e["status"])

	f.cache.mu.Lock()
	assert.Equal(t, before+1, f.cache.sets)
	f.cache.mu.Unlock()

	rec, _ = f.do(t, "buyer", auth.RoleUser, http.MethodGet, "/orders/"+id+"/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, "mallory", auth.RoleUser, http.MethodGet, "/orders/"+id+"/status", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOTPRequestsAreRateLimited(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	body := map[string]any{"amount": 500, "method": "nagad"}

	rec, _ := f.do(t, "buyer", auth.RoleUser, http.MethodPost, "/wallet/deposits", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, out := f.do(t, "buyer", auth.RoleUser, http.MethodPost, "/wallet/deposits", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", out["kind"])

	// buckets are per user
	rec, _ = f.do(t, "seller", auth.RoleUser, http.MethodPost, "/wallet/deposits", body)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestAdminSweep(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	id := f.activeOrder(t)
	f.now = t0.Add(8 * 24 * time.Hour)

	rec, _ := f.do(t, "buyer", auth.RoleUser, http.MethodPost, "/admin/sweep", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, rep := f.do(t, "ops", auth.RoleAdmin, http.MethodPost, "/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []any{id}, rep["cancelled"])

	rec, o := f.do(t, "buyer", auth.RoleUser, http.MethodGet, "/orders/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", o["status"])
}

func TestExtensionRoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	id := f.activeOrder(t)

	rec, ext := f.do(t, "buyer", auth.RoleUser, http.MethodPost, "/orders/"+id+"/extensions",
		map[string]any{"reason": "salary day", "extension_days": 3})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	extID := ext["id"].(string)

	rec, _ = f.do(t, "buyer", auth.RoleUser, http.MethodPost, "/orders/"+id+"/extensions/"+extID+"/respond",
		map[string]any{"approved": true})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, o := f.do(t, "seller", auth.RoleUser, http.MethodPost, "/orders/"+id+"/extensions/"+extID+"/respond",
		map[string]any{"approved": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2024-03-11T10:00:00Z", o["payment_deadline"])
}
