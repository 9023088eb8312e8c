package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-merchant-backend/internal/domain"
	"github.com/tbourn/go-merchant-backend/internal/http/middleware"
	"github.com/tbourn/go-merchant-backend/internal/repo"
	"github.com/tbourn/go-merchant-backend/internal/services"
)

// ---------- stubs ----------

type stubRotations struct {
	view func(context.Context) (services.RotationView, error)
}

func (s stubRotations) View(ctx context.Context) (services.RotationView, error) {
	if s.view != nil {
		return s.view(ctx)
	}
	return services.RotationView{}, nil
}

type stubPurchases struct {
	purchase func(context.Context, string, string) (*services.PurchaseResult, error)
	cooldown func(context.Context, string) (time.Duration, error)
}

func (s stubPurchases) Purchase(ctx context.Context, u, o string) (*services.PurchaseResult, error) {
	if s.purchase != nil {
		return s.purchase(ctx, u, o)
	}
	return &services.PurchaseResult{InstanceID: "i1"}, nil
}

func (s stubPurchases) CooldownRemaining(ctx context.Context, u string) (time.Duration, error) {
	if s.cooldown != nil {
		return s.cooldown(ctx, u)
	}
	return 0, nil
}

type stubWallets struct {
	balance func(context.Context, string) (int64, error)
	credit  func(context.Context, string, int64) (int64, error)
	page    func(context.Context, string, int, int) ([]domain.OwnedInstance, int64, error)
}

func (s stubWallets) Balance(ctx context.Context, u string) (int64, error) {
	if s.balance != nil {
		return s.balance(ctx, u)
	}
	return 0, nil
}

func (s stubWallets) Credit(ctx context.Context, u string, amount int64) (int64, error) {
	if s.credit != nil {
		return s.credit(ctx, u, amount)
	}
	return amount, nil
}

func (s stubWallets) InstancesPage(ctx context.Context, u string, p, ps int) ([]domain.OwnedInstance, int64, error) {
	if s.page != nil {
		return s.page(ctx, u, p, ps)
	}
	return []domain.OwnedInstance{}, 0, nil
}

// newPlayerRouter mounts the player routes behind the identity middleware.
func newPlayerRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Identity(), middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	g := r.Group("", middleware.RequireUser())
	g.GET("/merchant", h.GetMerchant)
	g.GET("/merchant/offers", h.SearchOffers)
	g.POST("/merchant/buy", h.Buy)
	g.GET("/me", h.GetMe)
	g.GET("/me/instances", h.ListInstances)
	return r
}

func doJSON(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return er.Code
}

var player = map[string]string{middleware.HeaderUserID: "u1"}

// ---------- helpers ----------

func Test_clampPagination_and_paginate(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?page=-5&page_size=9999", nil)
	if p, ps := clampPagination(c); p != 1 || ps != 100 {
		t.Fatalf("clamp bounds got p=%d ps=%d", p, ps)
	}
	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?page=&page_size=0", nil)
	if p, ps := clampPagination(c); p != 1 || ps != 1 {
		t.Fatalf("clamp defaults got p=%d ps=%d", p, ps)
	}

	pg := paginate(2, 10, 25)
	if pg.TotalPages != 3 || !pg.HasNext {
		t.Fatalf("paginate: %+v", pg)
	}
	if pg := paginate(3, 10, 25); pg.HasNext {
		t.Fatalf("last page must not have next: %+v", pg)
	}
}

func Test_ceilSeconds(t *testing.T) {
	cases := map[time.Duration]int{
		0:                       0,
		-time.Second:            0,
		time.Millisecond:        1,
		30 * time.Second:        30,
		29*time.Second + 100000: 30,
	}
	for d, want := range cases {
		if got := ceilSeconds(d); got != want {
			t.Fatalf("ceilSeconds(%v) = %d, want %d", d, got, want)
		}
	}
}

// ---------- GET /merchant ----------

func TestGetMerchant_ViewAndRemainingSeconds(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := New(Deps{Rotations: stubRotations{view: func(context.Context) (services.RotationView, error) {
		return services.RotationView{
			RotationID: "r1",
			Offers:     []domain.Offer{{ID: "o1", Label: "Apple", Price: 10}},
			CreatedAt:  created,
			ExpiresAt:  created.Add(30 * time.Minute),
			Remaining:  90*time.Second + time.Millisecond,
		}, nil
	}}})
	r := newPlayerRouter(h)

	w := doJSON(r, http.MethodGet, "/merchant", "", player)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var out MerchantResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.RotationID != "r1" || len(out.Offers) != 1 || out.RemainingSeconds != 91 {
		t.Fatalf("unexpected body: %+v", out)
	}
	if !out.ExpiresAt.Equal(created.Add(30 * time.Minute)) {
		t.Fatalf("expires_at = %v", out.ExpiresAt)
	}
}

func TestGetMerchant_RequiresUser(t *testing.T) {
	r := newPlayerRouter(New(Deps{Rotations: stubRotations{}}))
	if w := doJSON(r, http.MethodGet, "/merchant", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestGetMerchant_Unavailable(t *testing.T) {
	for _, err := range []error{services.ErrMerchantDisabled, services.ErrEmptyPool} {
		h := New(Deps{Rotations: stubRotations{view: func(context.Context) (services.RotationView, error) {
			return services.RotationView{}, err
		}}})
		w := doJSON(newPlayerRouter(h), http.MethodGet, "/merchant", "", player)
		if w.Code != http.StatusServiceUnavailable || errCode(t, w) != ErrCodeMerchantUnavailable {
			t.Fatalf("%v: status=%d body=%s", err, w.Code, w.Body.String())
		}
	}
}

// ---------- GET /merchant/offers ----------

func TestSearchOffers_Filters(t *testing.T) {
	h := New(Deps{Rotations: stubRotations{view: func(context.Context) (services.RotationView, error) {
		return services.RotationView{Offers: []domain.Offer{
			{ID: "1", Label: "Red Dragon", CollectibleID: "dragon_red"},
			{ID: "2", Label: "Blue Slime", CollectibleID: "slime_blue"},
		}}, nil
	}}})
	w := doJSON(newPlayerRouter(h), http.MethodGet, "/merchant/offers?q=DRAG", "", player)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var out OffersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(out.Offers) != 1 || out.Offers[0].ID != "1" {
		t.Fatalf("unexpected offers: %+v", out.Offers)
	}
}

// ---------- POST /merchant/buy ----------

func TestBuy_BadRequest(t *testing.T) {
	r := newPlayerRouter(New(Deps{Purchases: stubPurchases{}}))
	for _, body := range []string{"{bad", `{}`, `{"offer_id":"   "}`} {
		if w := doJSON(r, http.MethodPost, "/merchant/buy", body, player); w.Code != http.StatusBadRequest {
			t.Fatalf("%s -> %d", body, w.Code)
		}
	}
}

func TestBuy_Success(t *testing.T) {
	var gotUser, gotOffer string
	h := New(Deps{Purchases: stubPurchases{purchase: func(_ context.Context, u, o string) (*services.PurchaseResult, error) {
		gotUser, gotOffer = u, o
		return &services.PurchaseResult{InstanceID: "inst-1", Balance: 20}, nil
	}}})
	w := doJSON(newPlayerRouter(h), http.MethodPost, "/merchant/buy", `{"offer_id":" o1 "}`, player)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if gotUser != "u1" || gotOffer != "o1" {
		t.Fatalf("service got user=%q offer=%q", gotUser, gotOffer)
	}
	var out services.PurchaseResult
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.InstanceID != "inst-1" || out.Balance != 20 {
		t.Fatalf("unexpected body: %+v", out)
	}
}

func TestBuy_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		status     int
		code       string
		retryAfter string
	}{
		{"disabled", services.ErrMerchantDisabled, http.StatusServiceUnavailable, ErrCodeMerchantUnavailable, ""},
		{"not found", services.ErrOfferNotFound, http.StatusNotFound, ErrCodeOfferNotFound, ""},
		{"cooldown", &services.CooldownError{Remaining: 29500 * time.Millisecond}, http.StatusTooManyRequests, ErrCodeOnCooldown, "30"},
		{"funds", services.ErrInsufficientFunds, http.StatusPaymentRequired, ErrCodeInsufficientFunds, ""},
		{"tx", fmt.Errorf("%w: debit: boom", services.ErrTransactionFailed), http.StatusServiceUnavailable, ErrCodeTransactionFailed, "1"},
		{"other", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := New(Deps{Purchases: stubPurchases{purchase: func(context.Context, string, string) (*services.PurchaseResult, error) {
				return nil, tc.err
			}}})
			w := doJSON(newPlayerRouter(h), http.MethodPost, "/merchant/buy", `{"offer_id":"o1"}`, player)
			if w.Code != tc.status || errCode(t, w) != tc.code {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}
			if got := w.Header().Get("Retry-After"); got != tc.retryAfter {
				t.Fatalf("Retry-After = %q, want %q", got, tc.retryAfter)
			}
		})
	}
}

// ---------- GET /me ----------

func TestGetMe(t *testing.T) {
	h := New(Deps{
		Wallets: stubWallets{balance: func(context.Context, string) (int64, error) { return 42, nil }},
		Purchases: stubPurchases{cooldown: func(context.Context, string) (time.Duration, error) {
			return 1500 * time.Millisecond, nil
		}},
	})
	w := doJSON(newPlayerRouter(h), http.MethodGet, "/me", "", player)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var out MeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.UserID != "u1" || out.Balance != 42 || out.CooldownSeconds != 2 || out.CanPurchase {
		t.Fatalf("unexpected body: %+v", out)
	}
}

func TestGetMe_BalanceError(t *testing.T) {
	h := New(Deps{
		Wallets:   stubWallets{balance: func(context.Context, string) (int64, error) { return 0, errors.New("db down") }},
		Purchases: stubPurchases{},
	})
	if w := doJSON(newPlayerRouter(h), http.MethodGet, "/me", "", player); w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestListInstances_Paginates(t *testing.T) {
	var gotPage, gotSize int
	h := New(Deps{Wallets: stubWallets{page: func(_ context.Context, _ string, p, ps int) ([]domain.OwnedInstance, int64, error) {
		gotPage, gotSize = p, ps
		return []domain.OwnedInstance{{ID: "i1"}}, 3, nil
	}}})
	w := doJSON(newPlayerRouter(h), http.MethodGet, "/me/instances?page=1&page_size=2", "", player)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var out ListInstancesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if gotPage != 1 || gotSize != 2 || out.Pagination.TotalPages != 2 || !out.Pagination.HasNext {
		t.Fatalf("unexpected: page=%d size=%d %+v", gotPage, gotSize, out.Pagination)
	}
}

// ---------- idempotent replay over a real store ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestBuy_IdempotencyKeyReplaysPurchase(t *testing.T) {
	db := newHandlerDB(t)
	ctx := context.Background()
	store := &services.GormStore{DB: db}

	if _, err := services.NewCatalogService(db).Create(ctx, services.CatalogInput{CollectibleID: "apple", Price: 10}); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	wallets := &services.WalletService{DB: db}
	if _, err := wallets.Credit(ctx, "u1", 50); err != nil {
		t.Fatalf("credit: %v", err)
	}

	audit := services.NewAuditLog(store, 16, 1)
	t.Cleanup(func() { _ = audit.Close(context.Background()) })
	bus := services.NewBus()
	settings := services.NewSettingsCache(store, time.Second)
	rotations := services.NewRotationService(settings, store, store, audit, bus)
	purchases := services.NewPurchaseService(settings, rotations, store, store, audit, bus, time.Second)

	h := New(Deps{Rotations: rotations, Purchases: purchases, Wallets: wallets, DB: db})
	r := newPlayerRouter(h)

	view, err := rotations.View(ctx)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	body := fmt.Sprintf(`{"offer_id":%q}`, view.Offers[0].ID)
	hdr := map[string]string{middleware.HeaderUserID: "u1", middleware.HeaderIdempotencyKey: "buy-1"}

	first := doJSON(r, http.MethodPost, "/merchant/buy", body, hdr)
	if first.Code != http.StatusOK {
		t.Fatalf("first buy: %d %s", first.Code, first.Body.String())
	}
	var a services.PurchaseResult
	_ = json.Unmarshal(first.Body.Bytes(), &a)

	second := doJSON(r, http.MethodPost, "/merchant/buy", body, hdr)
	if second.Code != http.StatusOK {
		t.Fatalf("replay: %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("missing replay header")
	}
	var b services.PurchaseResult
	_ = json.Unmarshal(second.Body.Bytes(), &b)
	if a.InstanceID == "" || a.InstanceID != b.InstanceID || b.Offer.CollectibleID != "apple" {
		t.Fatalf("replay mismatch: %+v vs %+v", a, b)
	}

	if bal, _ := wallets.Balance(ctx, "u1"); bal != 40 {
		t.Fatalf("charged more than once: balance %d", bal)
	}

	// A fresh key is a new purchase and hits the cooldown.
	hdr[middleware.HeaderIdempotencyKey] = "buy-2"
	third := doJSON(r, http.MethodPost, "/merchant/buy", body, hdr)
	if third.Code != http.StatusTooManyRequests {
		t.Fatalf("new key: %d %s", third.Code, third.Body.String())
	}
}

func TestBuy_ConcurrentRetriesWithOneKeyChargeOnce(t *testing.T) {
	db := newHandlerDB(t)
	ctx := context.Background()
	store := &services.GormStore{DB: db}

	cfg := domain.DefaultSettings()
	cfg.CooldownSeconds = 0
	if _, err := repo.SaveSettings(ctx, db, cfg); err != nil {
		t.Fatalf("settings: %v", err)
	}
	if _, err := services.NewCatalogService(db).Create(ctx, services.CatalogInput{CollectibleID: "apple", Price: 10}); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	wallets := &services.WalletService{DB: db}
	if _, err := wallets.Credit(ctx, "u1", 50); err != nil {
		t.Fatalf("credit: %v", err)
	}

	audit := services.NewAuditLog(store, 16, 1)
	t.Cleanup(func() { _ = audit.Close(context.Background()) })
	bus := services.NewBus()
	rotations := services.NewRotationService(store, store, store, audit, bus)
	purchases := services.NewPurchaseService(store, rotations, store, store, audit, bus, time.Second)
	r := newPlayerRouter(New(Deps{Rotations: rotations, Purchases: purchases, Wallets: wallets, DB: db}))

	view, err := rotations.View(ctx)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	body := fmt.Sprintf(`{"offer_id":%q}`, view.Offers[0].ID)
	hdr := map[string]string{middleware.HeaderUserID: "u1", middleware.HeaderIdempotencyKey: "retry-storm"}

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := doJSON(r, http.MethodPost, "/merchant/buy", body, hdr)
			if w.Code != http.StatusOK {
				t.Errorf("buy %d: %d %s", i, w.Code, w.Body.String())
				return
			}
			var res services.PurchaseResult
			_ = json.Unmarshal(w.Body.Bytes(), &res)
			ids[i] = res.InstanceID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id == "" || id != ids[0] {
			t.Fatalf("retries returned different purchases: %v", ids)
		}
	}
	if bal, _ := wallets.Balance(ctx, "u1"); bal != 40 {
		t.Fatalf("charged more than once: balance %d", bal)
	}
	if owned, _ := repo.CountInstances(ctx, db, "u1"); owned != 1 {
		t.Fatalf("want 1 instance, got %d", owned)
	}
}
