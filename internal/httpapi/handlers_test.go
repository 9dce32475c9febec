package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"prompos/terminal/internal/cart"
	"prompos/terminal/internal/checkout"
	"prompos/terminal/internal/domain"
	"prompos/terminal/internal/identity"
	"prompos/terminal/internal/metrics"
	"prompos/terminal/internal/notify"
	"prompos/terminal/internal/persist"
	"prompos/terminal/internal/service"
	"prompos/terminal/internal/store/memory"
)

type testHarness struct {
	api    *API
	remote *memory.Store
	reach  *checkout.Switch
}

// newTestHarness wires a full API over in-memory stores so handler tests
// exercise the complete request path.
func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	remote := memory.New()
	local := persist.NewAdapter(persist.NewMemoryKV())
	reach := checkout.NewSwitch(true)
	feed := notify.NewFeed(20)
	reg := prometheus.NewRegistry()

	dir := identity.NewMemoryDirectory()
	if _, err := dir.AddUser("cashier@example.com", "secret123", "Cashier One"); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if _, err := dir.AddUser("second@example.com", "secret456", "Cashier Two"); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	ident, err := identity.New(identity.Params{Directory: dir, Guests: local})
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	svc, err := service.New(service.Params{
		ShopID:        "shop123",
		TaxRate:       decimal.RequireFromString("0.1"),
		Location:      time.FixedZone("UTC+07:00", 7*3600),
		Catalog:       cart.DefaultCatalog(),
		Persist:       local,
		Remote:        remote,
		Reachability:  reach,
		Identity:      ident,
		Notifier:      feed,
		Metrics:       metrics.NewCheckoutMetrics(reg),
		RemoteTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	api, err := New(Params{
		Service:       svc,
		Identity:      ident,
		Auth:          NewAuthManager("test-secret-key-with-enough-length", time.Hour),
		Feed:          feed,
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		AllowedOrigin: "*",
		Currency:      "THB",
	})
	if err != nil {
		t.Fatalf("api: %v", err)
	}
	return &testHarness{api: api, remote: remote, reach: reach}
}

func newTestAPI(t *testing.T) *API {
	t.Helper()
	return newTestHarness(t).api
}

// session signs in as guest and fetches a CSRF token.
type session struct {
	token string
	csrf  string
}

func newGuestSession(t *testing.T, api *API) session {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/guest", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("guest login failed, status %d (body: %s)", res.Code, res.Body.String())
	}
	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode guest login: %v", err)
	}
	return session{token: payload.AccessToken, csrf: fetchCSRFToken(t, api)}
}

func newLoginSession(t *testing.T, api *API, email string, password string) session {
	t.Helper()
	payload, _ := json.Marshal(domain.EmailLoginRequest{Email: email, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("login %s failed, status %d (body: %s)", email, res.Code, res.Body.String())
	}
	resp := decodeBody[domain.LoginResponse](t, res)
	return session{token: resp.AccessToken, csrf: fetchCSRFToken(t, api)}
}

func (s session) do(t *testing.T, api *API, method string, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("X-CSRF-Token", s.csrf)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func decodeBody[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (raw: %s)", err, res.Body.String())
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleStoreHealth(t *testing.T) {
	h := newTestHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz/store", nil)
	rec := httptest.NewRecorder()
	h.api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	h.remote.SetFailure(memory.OpPing, io.ErrUnexpectedEOF)
	rec = httptest.NewRecorder()
	h.api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/store", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the store is down, got %d", rec.Code)
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(domain.EmailLoginRequest{Email: "cashier@example.com", Password: "secret123"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	resp := decodeBody[domain.LoginResponse](t, rec)
	if resp.AccessToken == "" {
		t.Fatalf("expected access token")
	}
	if resp.Identity.Email != "cashier@example.com" || resp.Identity.IsGuest {
		t.Fatalf("unexpected identity %+v", resp.Identity)
	}

	me := session{token: resp.AccessToken}.do(t, api, http.MethodGet, "/api/v1/auth/me", nil)
	if me.Code != http.StatusOK {
		t.Fatalf("expected 200 from /me, got %d", me.Code)
	}
	body := decodeBody[map[string]domain.Identity](t, me)
	if body["identity"].DisplayName != "Cashier One" {
		t.Fatalf("unexpected /me identity %+v", body["identity"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(domain.EmailLoginRequest{Email: "cashier@example.com", Password: "wrong-pass"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleLogin_ValidationError(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"not-an-email","password":"secret123"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGoogleLogin_Disabled(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/google", strings.NewReader(`{"id_token":"abc"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without a google client id, got %d", rec.Code)
	}
}

func TestCartRequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestCartAndCheckoutFlow(t *testing.T) {
	h := newTestHarness(t)
	s := newGuestSession(t, h.api)

	menu := s.do(t, h.api, http.MethodGet, "/api/v1/menu", nil)
	if menu.Code != http.StatusOK {
		t.Fatalf("menu: expected 200, got %d", menu.Code)
	}
	if items := decodeBody[map[string][]domain.MenuItem](t, menu)["items"]; len(items) != 15 {
		t.Fatalf("expected 15 menu items, got %d", len(items))
	}

	for _, id := range []int{1, 1, 2, 3} {
		res := s.do(t, h.api, http.MethodPost, "/api/v1/cart/items", domain.AddItemRequest{ItemID: id})
		if res.Code != http.StatusOK {
			t.Fatalf("add item %d: expected 200, got %d (body: %s)", id, res.Code, res.Body.String())
		}
	}
	if res := s.do(t, h.api, http.MethodDelete, "/api/v1/cart/items/3", nil); res.Code != http.StatusOK {
		t.Fatalf("remove item: expected 200, got %d", res.Code)
	}
	dec := s.do(t, h.api, http.MethodPost, "/api/v1/cart/items/1/decrement", nil)
	if dec.Code != http.StatusOK {
		t.Fatalf("decrement: expected 200, got %d", dec.Code)
	}
	view := decodeBody[domain.CartView](t, dec)
	if view.TotalItems != 2 || !view.Subtotal.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("unexpected cart after edits: %+v", view)
	}

	res := s.do(t, h.api, http.MethodPost, "/api/v1/checkout", map[string]any{
		"payment_method": "cash",
		"tendered":       "30",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("checkout: expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	out := decodeBody[domain.CheckoutResponse](t, res)
	if out.State != "SENT" {
		t.Fatalf("expected SENT, got %s (%s)", out.State, out.Reason)
	}
	if !out.Order.TotalWithTax.Equal(decimal.RequireFromString("27.5")) {
		t.Fatalf("expected total 27.5, got %s", out.Order.TotalWithTax)
	}
	if !out.Order.PaymentDetails.Change.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("expected change 2.5, got %s", out.Order.PaymentDetails.Change)
	}

	cartRes := s.do(t, h.api, http.MethodGet, "/api/v1/cart", nil)
	if decodeBody[domain.CartView](t, cartRes).TotalItems != 0 {
		t.Fatalf("expected empty cart after checkout")
	}

	orders := decodeBody[map[string][]domain.Order](t, s.do(t, h.api, http.MethodGet, "/api/v1/orders", nil))["orders"]
	if len(orders) != 1 || orders[0].SendStatus != domain.SendStatusSent {
		t.Fatalf("unexpected local orders %+v", orders)
	}

	date := out.Order.OrderDate
	summary := decodeBody[domain.DailyAggregate](t, s.do(t, h.api, http.MethodGet, "/api/v1/summary?date="+date, nil))
	if summary.TotalOrder != 1 || !summary.GrandTotal.Equal(decimal.RequireFromString("27.5")) {
		t.Fatalf("unexpected summary %+v", summary)
	}
	remote := decodeBody[map[string][]domain.Order](t, s.do(t, h.api, http.MethodGet, "/api/v1/remote-orders?date="+date, nil))["orders"]
	if len(remote) != 1 {
		t.Fatalf("expected 1 remote order, got %d", len(remote))
	}

	notes := decodeBody[map[string][]notify.Notification](t, s.do(t, h.api, http.MethodGet, "/api/v1/notifications", nil))["notifications"]
	if len(notes) == 0 || notes[len(notes)-1].Summary != "Checkout complete" {
		t.Fatalf("expected checkout notification, got %+v", notes)
	}
}

func TestCheckoutEmptyCartConflict(t *testing.T) {
	api := newTestAPI(t)
	s := newGuestSession(t, api)

	res := s.do(t, api, http.MethodPost, "/api/v1/checkout", map[string]any{})
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409 for empty cart, got %d", res.Code)
	}
}

func TestUnknownItemReturns404(t *testing.T) {
	api := newTestAPI(t)
	s := newGuestSession(t, api)

	res := s.do(t, api, http.MethodPost, "/api/v1/cart/items", domain.AddItemRequest{ItemID: 99})
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	if res := s.do(t, api, http.MethodPost, "/api/v1/cart/items/abc/decrement", nil); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric id, got %d", res.Code)
	}
}

func TestOfflineCheckoutThenSync(t *testing.T) {
	h := newTestHarness(t)
	s := newGuestSession(t, h.api)
	h.reach.Set(false)

	s.do(t, h.api, http.MethodPost, "/api/v1/cart/items", domain.AddItemRequest{ItemID: 4})
	out := decodeBody[domain.CheckoutResponse](t, s.do(t, h.api, http.MethodPost, "/api/v1/checkout", map[string]any{"payment_method": "card"}))
	if out.State != "UNASSIGNED" || out.Order.OrderID != domain.UnassignedOrderID {
		t.Fatalf("expected offline unassigned order, got %+v", out)
	}

	h.reach.Set(true)
	res := s.do(t, h.api, http.MethodPost, "/api/v1/orders/sync", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("sync: expected 200, got %d", res.Code)
	}
	report := decodeBody[domain.ReconcileResponse](t, res)
	if report.Sent != 1 {
		t.Fatalf("expected one order sent, got %+v", report)
	}
}

func TestOrderStatusUpdate(t *testing.T) {
	api := newTestAPI(t)
	s := newGuestSession(t, api)

	s.do(t, api, http.MethodPost, "/api/v1/cart/items", domain.AddItemRequest{ItemID: 5})
	out := decodeBody[domain.CheckoutResponse](t, s.do(t, api, http.MethodPost, "/api/v1/checkout", map[string]any{}))

	path := "/api/v1/orders/" + out.Order.LocalID + "/status"
	res := s.do(t, api, http.MethodPatch, path, domain.OrderStatusUpdateRequest{OrderStatus: domain.OrderStatusPreparing})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	updated := decodeBody[map[string]domain.Order](t, res)["order"]
	if updated.OrderStatus != domain.OrderStatusPreparing || updated.OrderID != out.Order.OrderID {
		t.Fatalf("unexpected updated order %+v", updated)
	}

	if res := s.do(t, api, http.MethodPatch, path, domain.OrderStatusUpdateRequest{OrderStatus: "shipped"}); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", res.Code)
	}
	missing := "/api/v1/orders/shop123-1/status"
	if res := s.do(t, api, http.MethodPatch, missing, domain.OrderStatusUpdateRequest{OrderStatus: domain.OrderStatusCompleted}); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown order, got %d", res.Code)
	}
}

func TestSummaryCSV(t *testing.T) {
	api := newTestAPI(t)
	s := newGuestSession(t, api)

	res := s.do(t, api, http.MethodGet, "/api/v1/summary?date=2024-05-01&format=csv", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("expected csv content type, got %q", ct)
	}
	if !strings.Contains(res.Body.String(), "summary,total_orders,0") || !strings.Contains(res.Body.String(), "summary,currency,THB") {
		t.Fatalf("unexpected csv body %q", res.Body.String())
	}

	if bad := s.do(t, api, http.MethodGet, "/api/v1/summary?date=yesterday", nil); bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed date, got %d", bad.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	s := newGuestSession(t, api)

	s.do(t, api, http.MethodPost, "/api/v1/cart/items", domain.AddItemRequest{ItemID: 1})
	s.do(t, api, http.MethodPost, "/api/v1/checkout", map[string]any{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `pos_checkout_outcomes_total{state="SENT"} 1`) {
		t.Fatalf("expected checkout outcome metric, got:\n%s", rec.Body.String())
	}
}

func TestCheckoutCreditsTokenHolder(t *testing.T) {
	h := newTestHarness(t)
	one := newLoginSession(t, h.api, "cashier@example.com", "secret123")
	_ = newLoginSession(t, h.api, "second@example.com", "secret456")

	sell := func(s session) domain.PaymentDetails {
		t.Helper()
		if res := s.do(t, h.api, http.MethodPost, "/api/v1/cart/items", domain.AddItemRequest{ItemID: 1}); res.Code != http.StatusOK {
			t.Fatalf("add item: expected 200, got %d", res.Code)
		}
		res := s.do(t, h.api, http.MethodPost, "/api/v1/checkout", map[string]any{"payment_method": "card"})
		if res.Code != http.StatusOK {
			t.Fatalf("checkout: expected 200, got %d (body: %s)", res.Code, res.Body.String())
		}
		return decodeBody[domain.CheckoutResponse](t, res).Order.PaymentDetails
	}

	if got := sell(one); got.CashierName != "Cashier One" {
		t.Fatalf("expected sale credited to Cashier One after a later login, got %+v", got)
	}

	_ = newGuestSession(t, h.api)
	if got := sell(one); got.CashierName != "Cashier One" {
		t.Fatalf("expected guest sign-in elsewhere not to take over the sale, got %+v", got)
	}
}
