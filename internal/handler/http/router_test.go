package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/DinerGo/internal/auth"
	"github.com/utafrali/DinerGo/internal/cart"
	"github.com/utafrali/DinerGo/internal/checkout"
	"github.com/utafrali/DinerGo/internal/domain"
	"github.com/utafrali/DinerGo/internal/payment"
	redisrepo "github.com/utafrali/DinerGo/internal/repository/redis"
	apperrors "github.com/utafrali/DinerGo/pkg/errors"
	"github.com/utafrali/DinerGo/pkg/health"
)

// ============================================================================
// Fakes
// ============================================================================

// memOrders is an in-memory order store.
type memOrders struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	err    error
}

func newMemOrders() *memOrders { return &memOrders{orders: map[string]*domain.Order{}} }

func (m *memOrders) Create(_ context.Context, o *domain.Order) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	id := uuid.NewString()
	stored := *o
	stored.ID = id
	stored.CreatedAt = time.Now().UTC()
	m.orders[id] = &stored
	return id, nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) Ping(context.Context) error { return nil }

// memMenu is a fixed menu catalog.
type memMenu struct {
	items []domain.MenuItem
}

func newMemMenu() *memMenu {
	return &memMenu{items: []domain.MenuItem{
		{ItemID: "burger1", Name: "Burger", Category: "Burgers", UnitPrice: decimal.RequireFromString("45.00"), Available: true},
		{ItemID: "fries1", Name: "Fries", Category: "Starters", UnitPrice: decimal.NewFromInt(20), Available: true},
		{ItemID: "ribs", Name: "Ribs", Category: "Mains", UnitPrice: decimal.NewFromInt(120), Available: false},
	}}
}

func (m *memMenu) List(_ context.Context, category string) ([]domain.MenuItem, error) {
	var out []domain.MenuItem
	for _, it := range m.items {
		if it.Available && (category == "" || it.Category == category) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memMenu) GetByID(_ context.Context, id string) (*domain.MenuItem, error) {
	for _, it := range m.items {
		if it.ItemID == id {
			cp := it
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("menu item", id)
}

func (m *memMenu) Categories(context.Context) ([]string, error) {
	return []string{"Burgers", "Starters"}, nil
}

// memProfiles stores delivery addresses by user.
type memProfiles struct {
	mu        sync.Mutex
	addresses map[string]string
}

func (p *memProfiles) DeliveryAddress(_ context.Context, userID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addresses[userID], nil
}

func (p *memProfiles) SaveDeliveryAddress(_ context.Context, userID, address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addresses[userID] = address
	return nil
}

// paymentBackend creates intents and reports their status the way the
// provider would.
type paymentBackend struct {
	mu      sync.Mutex
	status  int
	creates int
	// settled is the provider status reported on lookup; empty means succeeded.
	settled string
	amounts map[string]int64
}

func (b *paymentBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.creates
}

func (b *paymentBackend) settle(status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settled = status
}

func (b *paymentBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if b.status != 0 {
		w.WriteHeader(b.status)
		_, _ = w.Write([]byte(`{"error":"backend unavailable"}`))
		return
	}

	if r.Method == http.MethodGet {
		id := strings.TrimPrefix(r.URL.Path, "/payment-intents/")
		amount, ok := b.amounts[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		status := b.settled
		if status == "" {
			status = payment.IntentStatusSucceeded
		}
		_ = json.NewEncoder(w).Encode(payment.IntentStatus{ID: id, Status: status, Amount: amount, Currency: "zar"})
		return
	}

	b.creates++
	var body struct {
		Amount decimal.Decimal `json:"amount"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if b.amounts == nil {
		b.amounts = map[string]int64{}
	}
	b.amounts["pi_123"] = payment.MinorUnits(body.Amount)
	_, _ = w.Write([]byte(`{"clientSecret":"pi_123_secret_abc"}`))
}

// ============================================================================
// Test server
// ============================================================================

type testServer struct {
	handler http.Handler
	jwt     *auth.JWTManager
	orders  *memOrders
	backend *paymentBackend
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := testLogger()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	registry := cart.NewRegistry(redisrepo.NewCartRepository(rdb, time.Hour), cart.Options{Logger: logger})

	backend := &paymentBackend{}
	backendSrv := httptest.NewServer(backend)
	t.Cleanup(backendSrv.Close)

	orders := newMemOrders()
	profiles := &memProfiles{addresses: map[string]string{}}
	menu := newMemMenu()
	orch := checkout.NewOrchestrator(checkout.Deps{
		Gateway:   payment.NewGatewayClient(payment.GatewayConfig{BaseURL: backendSrv.URL, Timeout: 5 * time.Second}, logger),
		Orders:    orders,
		Addresses: profiles,
		Logger:    logger,
	}, checkout.Config{PaymentIntentTimeout: 5 * time.Second})
	sessions := checkout.NewSessions(orch, checkout.SessionConfig{ConfirmTimeout: 10 * time.Second}, logger)
	t.Cleanup(func() { _ = sessions.Shutdown(context.Background()) })

	jwtManager := auth.NewJWTManager("handler-test-secret", "diner", time.Hour)
	h := Handlers{
		Menu:     NewMenuHandler(menu, logger),
		Cart:     NewCartHandler(registry, menu, logger),
		Checkout: NewCheckoutHandler(registry, sessions, logger),
		Orders:   NewOrderHandler(orders, logger),
		Profile:  NewProfileHandler(profiles, logger),
	}
	router := NewRouter(h, jwtManager.Validate, health.NewHandler(), RouterConfig{CheckoutPerMinute: 600, CheckoutBurst: 100}, logger)

	return &testServer{handler: router, jwt: jwtManager, orders: orders, backend: backend}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, userID, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	token := ""
	if userID != "" {
		var err error
		token, err = s.jwt.GenerateAccessToken(userID, userID+"@example.com", "customer")
		require.NoError(t, err)
	}
	return s.doWithToken(t, token, method, path, body)
}

func (s *testServer) doWithToken(t *testing.T, token, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func (s *testServer) addBurger(t *testing.T, userID string) {
	t.Helper()
	rec, _ := s.do(t, userID, http.MethodPost, "/api/v1/cart/items", `{"itemId":"burger1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

// ============================================================================
// Auth and plumbing
// ============================================================================

func TestRouter_RequiresAuth(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/v1/cart", "/api/v1/checkout/abc", "/api/v1/orders/" + uuid.NewString()} {
		rec, env := s.do(t, "", http.MethodGet, path, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		require.NotNil(t, env.Error)
		assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, "", http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrec := httptest.NewRecorder()
	s.handler.ServeHTTP(mrec, req)
	assert.Equal(t, http.StatusOK, mrec.Code)
	assert.Contains(t, mrec.Body.String(), "diner_http_requests_total")
}

func TestRouter_RejectsNonJSONBody(t *testing.T) {
	s := newTestServer(t)
	token, err := s.jwt.GenerateAccessToken("user-1", "", "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader("itemId=burger1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

// ============================================================================
// Cart endpoints
// ============================================================================

func TestCart_EmptyByDefault(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, "user-1", http.MethodGet, "/api/v1/cart", "")
	require.Equal(t, http.StatusOK, rec.Code)

	c := decodeData[CartResponse](t, env)
	assert.Empty(t, c.Lines)
	assert.NotNil(t, c.Lines)
	assert.True(t, c.Total.IsZero())
	assert.Equal(t, 0, c.ItemCount)
	assert.Contains(t, string(env.Data), `"lines":[]`)
}

func TestCart_AddRemoveDecrement(t *testing.T) {
	s := newTestServer(t)

	s.addBurger(t, "user-1")
	s.addBurger(t, "user-1")
	rec, env := s.do(t, "user-1", http.MethodPost, "/api/v1/cart/items", `{"itemId":"fries1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	c := decodeData[CartResponse](t, env)
	require.Len(t, c.Lines, 2)
	assert.Equal(t, 2, c.Lines[0].Qty)
	assert.Equal(t, "110", c.Total.String())
	assert.Equal(t, 3, c.ItemCount)

	rec, env = s.do(t, "user-1", http.MethodPost, "/api/v1/cart/items/burger1/decrement", "")
	require.Equal(t, http.StatusOK, rec.Code)
	c = decodeData[CartResponse](t, env)
	assert.Equal(t, 1, c.Lines[0].Qty)
	assert.Equal(t, "65", c.Total.String())

	rec, env = s.do(t, "user-1", http.MethodDelete, "/api/v1/cart/items/fries1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	c = decodeData[CartResponse](t, env)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, "burger1", c.Lines[0].ItemID)

	// Removing an absent item is not an error.
	rec, env = s.do(t, "user-1", http.MethodDelete, "/api/v1/cart/items/pizza", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[CartResponse](t, env).Lines, 1)

	// Other users have their own carts.
	_, env = s.do(t, "user-2", http.MethodGet, "/api/v1/cart", "")
	assert.Empty(t, decodeData[CartResponse](t, env).Lines)
}

func TestCart_AddValidation(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, "user-1", http.MethodPost, "/api/v1/cart/items", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Fields, "itemId")

	rec, env = s.do(t, "user-1", http.MethodPost, "/api/v1/cart/items", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)
}

func TestCart_AddUsesMenuPrice(t *testing.T) {
	s := newTestServer(t)

	// Client-supplied name and price are ignored.
	rec, env := s.do(t, "user-1", http.MethodPost, "/api/v1/cart/items", `{"itemId":"burger1","name":"Free Burger","unitPrice":"0.01"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c := decodeData[CartResponse](t, env)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, "Burger", c.Lines[0].Name)
	assert.Equal(t, "45", c.Lines[0].UnitPrice.String())
	assert.Equal(t, "45", c.Total.String())
}

func TestCart_AddUnknownOrUnavailableItem(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, "user-1", http.MethodPost, "/api/v1/cart/items", `{"itemId":"pizza"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	rec, env = s.do(t, "user-1", http.MethodPost, "/api/v1/cart/items", `{"itemId":"ribs"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ITEM_UNAVAILABLE", env.Error.Code)

	_, env = s.do(t, "user-1", http.MethodGet, "/api/v1/cart", "")
	assert.Empty(t, decodeData[CartResponse](t, env).Lines)
}

func TestCart_Clear(t *testing.T) {
	s := newTestServer(t)
	s.addBurger(t, "user-1")

	rec, _ := s.do(t, "user-1", http.MethodDelete, "/api/v1/cart", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, env := s.do(t, "user-1", http.MethodGet, "/api/v1/cart", "")
	assert.Empty(t, decodeData[CartResponse](t, env).Lines)
}

// ============================================================================
// Menu and profile endpoints
// ============================================================================

func TestMenu_ListByCategory(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, "user-1", http.MethodGet, "/api/v1/menu", "")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decodeData[MenuResponse](t, env)
	assert.Equal(t, "All", all.Category)
	assert.Len(t, all.Items, 2)

	_, env = s.do(t, "user-1", http.MethodGet, "/api/v1/menu?category=All", "")
	assert.Len(t, decodeData[MenuResponse](t, env).Items, 2)

	_, env = s.do(t, "user-1", http.MethodGet, "/api/v1/menu?category=Starters", "")
	starters := decodeData[MenuResponse](t, env)
	require.Len(t, starters.Items, 1)
	assert.Equal(t, "fries1", starters.Items[0].ItemID)

	_, env = s.do(t, "user-1", http.MethodGet, "/api/v1/menu?category=Desserts", "")
	desserts := decodeData[MenuResponse](t, env)
	assert.NotNil(t, desserts.Items)
	assert.Empty(t, desserts.Items)
}

func TestMenu_CategoriesAndItem(t *testing.T) {
	s := newTestServer(t)

	_, env := s.do(t, "user-1", http.MethodGet, "/api/v1/menu/categories", "")
	assert.Equal(t, []string{"All", "Burgers", "Starters"}, decodeData[[]string](t, env))

	rec, env := s.do(t, "user-1", http.MethodGet, "/api/v1/menu/ribs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ribs := decodeData[domain.MenuItem](t, env)
	assert.False(t, ribs.Available)

	rec, _ = s.do(t, "user-1", http.MethodGet, "/api/v1/menu/pizza", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProfile_SaveAddressUsedAtCheckout(t *testing.T) {
	s := newTestServer(t)

	_, env := s.do(t, "user-1", http.MethodGet, "/api/v1/profile/address", "")
	assert.Empty(t, decodeData[AddressResponse](t, env).Address)

	rec, env := s.do(t, "user-1", http.MethodPut, "/api/v1/profile/address", `{"address":"  7 Long St "}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "7 Long St", decodeData[AddressResponse](t, env).Address)

	s.addBurger(t, "user-1")
	rec, env = s.do(t, "user-1", http.MethodPost, "/api/v1/checkout", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decodeData[checkout.SessionView](t, env)

	_, env = s.do(t, "user-1", http.MethodPost, "/api/v1/checkout/"+view.ID+"/confirmation", `{"status":"succeeded"}`)
	done := decodeData[checkout.SessionView](t, env)
	require.NotNil(t, done.Receipt)
	assert.Equal(t, "7 Long St", done.Receipt.Address)
}

func TestProfile_SaveAddressValidation(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, "user-1", http.MethodPut, "/api/v1/profile/address", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	rec, env = s.do(t, "user-1", http.MethodPut, "/api/v1/profile/address", `{"address":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)
}

// ============================================================================
// Checkout endpoints
// ============================================================================

func TestCheckout_HappyPath(t *testing.T) {
	s := newTestServer(t)
	s.addBurger(t, "user-1")
	s.addBurger(t, "user-1")

	rec, env := s.do(t, "user-1", http.MethodPost, "/api/v1/checkout", `{"address":"12 Main St"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decodeData[checkout.SessionView](t, env)
	assert.Equal(t, checkout.StageConfirmingPayment, view.Stage)
	assert.Equal(t, "pi_123_secret_abc", view.ClientSecret)
	assert.Equal(t, "pi_123", view.PaymentIntentID)

	// The cart is locked while the payment sheet is up.
	rec, env = s.do(t, "user-1", http.MethodPost, "/api/v1/cart/items", `{"itemId":"fries1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CHECKOUT_IN_PROGRESS", env.Error.Code)

	_, env = s.do(t, "user-1", http.MethodGet, "/api/v1/cart", "")
	assert.True(t, decodeData[CartResponse](t, env).CheckoutInProgress)

	rec, env = s.do(t, "user-1", http.MethodPost, "/api/v1/checkout/"+view.ID+"/confirmation", `{"status":"succeeded"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decodeData[checkout.SessionView](t, env)
	assert.Equal(t, checkout.StageDone, done.Stage)
	assert.Empty(t, done.ClientSecret)
	require.NotNil(t, done.Receipt)
	assert.Equal(t, "90", done.Receipt.Total.String())
	assert.Equal(t, "12 Main St", done.Receipt.Address)

	_, env = s.do(t, "user-1", http.MethodGet, "/api/v1/cart", "")
	c := decodeData[CartResponse](t, env)
	assert.Empty(t, c.Lines)
	assert.False(t, c.CheckoutInProgress)

	rec, env = s.do(t, "user-1", http.MethodGet, "/api/v1/orders/"+done.Receipt.OrderID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	order := decodeData[domain.Order](t, env)
	assert.Equal(t, "user-1", order.UserID)
	assert.Equal(t, "user-1@example.com", order.Email)
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, "pi_123", order.PaymentIntentID)

	rec, _ = s.do(t, "user-2", http.MethodGet, "/api/v1/orders/"+done.Receipt.OrderID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = s.do(t, "user-1", http.MethodGet, "/api/v1/checkout/"+view.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, checkout.StageDone, decodeData[checkout.SessionView](t, env).Stage)
}

func TestCheckout_MissingAddress(t *testing.T) {
	s := newTestServer(t)
	s.addBurger(t, "user-1")

	rec, env := s.do(t, "user-1", http.MethodPost, "/api/v1/checkout", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "CHECKOUT_VALIDATION", env.Error.Code)
	assert.Equal(t, 0, s.backend.callCount())

	// The cart is unlocked again.
	s.addBurger(t, "user-1")
}

func TestCheckout_EmptyCart(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, "user-1", http.MethodPost, "/api/v1/checkout", `{"address":"12 Main St"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "CHECKOUT_VALIDATION", env.Error.Code)
	assert.Equal(t, "Your cart is empty.", env.Error.Message)
}

func TestCheckout_GatewayFailure(t *testing.T) {
	s := newTestServer(t)
	s.backend.status = http.StatusInternalServerError
	s.addBurger(t, "user-1")

	rec, env := s.do(t, "user-1", http.MethodPost, "/api/v1/checkout", `{"address":"12 Main St"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "PAYMENT_INTENT_FAILED", env.Error.Code)

	_, env = s.do(t, "user-1", http.MethodGet, "/api/v1/cart", "")
	c := decodeData[CartResponse](t, env)
	assert.Len(t, c.Lines, 1)
	assert.False(t, c.CheckoutInProgress)
}

func TestCheckout_Cancelled(t *testing.T) {
	s := newTestServer(t)
	s.addBurger(t, "user-1")

	_, env := s.do(t, "user-1", http.MethodPost, "/api/v1/checkout", `{"address":"12 Main St"}`)
	view := decodeData[checkout.SessionView](t, env)

	rec, env := s.do(t, "user-1", http.MethodPost, "/api/v1/checkout/"+view.ID+"/confirmation", `{"status":"cancelled","message":"closed sheet"}`)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "PAYMENT_NOT_COMPLETED", env.Error.Code)

	_, env = s.do(t, "user-1", http.MethodGet, "/api/v1/cart", "")
	assert.Len(t, decodeData[CartResponse](t, env).Lines, 1)

	rec, env = s.do(t, "user-1", http.MethodGet, "/api/v1/checkout/"+view.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	failed := decodeData[checkout.SessionView](t, env)
	assert.Equal(t, checkout.StageFailed, failed.Stage)
	require.NotNil(t, failed.Failure)
	assert.Equal(t, checkout.KindPaymentDeclinedOrCancelled, failed.Failure.Kind)
}

func TestCheckout_OrderWriteFails(t *testing.T) {
	s := newTestServer(t)
	s.orders.err = errors.New("connection reset")
	s.addBurger(t, "user-1")

	_, env := s.do(t, "user-1", http.MethodPost, "/api/v1/checkout", `{"address":"12 Main St"}`)
	view := decodeData[checkout.SessionView](t, env)

	rec, env := s.do(t, "user-1", http.MethodPost, "/api/v1/checkout/"+view.ID+"/confirmation", `{"status":"succeeded"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "ORDER_NOT_RECORDED", env.Error.Code)
	assert.Contains(t, env.Error.Message, "do not pay again")

	// The cart is kept for support to reconcile.
	_, env = s.do(t, "user-1", http.MethodGet, "/api/v1/cart", "")
	assert.Len(t, decodeData[CartResponse](t, env).Lines, 1)
}

func TestCheckout_ProviderOverridesClientOutcome(t *testing.T) {
	s := newTestServer(t)
	s.backend.settle("requires_payment_method")
	s.addBurger(t, "user-1")

	_, env := s.do(t, "user-1", http.MethodPost, "/api/v1/checkout", `{"address":"12 Main St"}`)
	view := decodeData[checkout.SessionView](t, env)

	rec, env := s.do(t, "user-1", http.MethodPost, "/api/v1/checkout/"+view.ID+"/confirmation", `{"status":"succeeded"}`)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "PAYMENT_NOT_COMPLETED", env.Error.Code)
	assert.Empty(t, s.orders.orders)

	_, env = s.do(t, "user-1", http.MethodGet, "/api/v1/cart", "")
	c := decodeData[CartResponse](t, env)
	assert.Len(t, c.Lines, 1)
	assert.False(t, c.CheckoutInProgress)
}

func TestCheckout_TokenWithoutEmail(t *testing.T) {
	s := newTestServer(t)
	s.addBurger(t, "user-1")
	token, err := s.jwt.GenerateAccessToken("user-1", "", "customer")
	require.NoError(t, err)

	rec, env := s.doWithToken(t, token, http.MethodPost, "/api/v1/checkout", `{"address":"12 Main St"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "CHECKOUT_VALIDATION", env.Error.Code)
	assert.Contains(t, env.Error.Message, "email")
	assert.Equal(t, 0, s.backend.callCount())
}

func TestCheckout_SecondStartConflicts(t *testing.T) {
	s := newTestServer(t)
	s.addBurger(t, "user-1")

	rec, _ := s.do(t, "user-1", http.MethodPost, "/api/v1/checkout", `{"address":"12 Main St"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := s.do(t, "user-1", http.MethodPost, "/api/v1/checkout", `{"address":"12 Main St"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CHECKOUT_IN_PROGRESS", env.Error.Code)
	assert.Equal(t, 1, s.backend.callCount())
}

func TestCheckout_ConfirmationValidation(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, "user-1", http.MethodPost, "/api/v1/checkout/abc/confirmation", `{"status":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	rec, env = s.do(t, "user-1", http.MethodPost, "/api/v1/checkout/abc/confirmation", `{"status":"succeeded"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestCheckout_OtherUsersSessionHidden(t *testing.T) {
	s := newTestServer(t)
	s.addBurger(t, "user-1")

	_, env := s.do(t, "user-1", http.MethodPost, "/api/v1/checkout", `{"address":"12 Main St"}`)
	view := decodeData[checkout.SessionView](t, env)

	rec, _ := s.do(t, "user-2", http.MethodGet, "/api/v1/checkout/"+view.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, "user-2", http.MethodPost, "/api/v1/checkout/"+view.ID+"/confirmation", `{"status":"succeeded"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ============================================================================
// Order endpoints
// ============================================================================

func TestOrders_InvalidAndMissing(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, "user-1", http.MethodGet, "/api/v1/orders/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PARAMETER", env.Error.Code)

	rec, env = s.do(t, "user-1", http.MethodGet, "/api/v1/orders/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}
