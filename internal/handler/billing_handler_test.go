package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/memberman/internal/billing"
	"github.com/hitoshi/memberman/internal/middleware"
	"github.com/hitoshi/memberman/internal/model"
)

// --- モック定義 ---

// mockBillingClient はBillingClientInterfaceのモック実装。
type mockBillingClient struct {
	createCustomerFunc func(ctx context.Context, email string) (*billing.Customer, error)
	createCheckoutFunc func(ctx context.Context, customerID, priceID, productID, redirectURL string) (*billing.CheckoutSession, error)
	createPortalFunc   func(ctx context.Context, customerID, returnURL string) (*billing.PortalSession, error)
}

func (m *mockBillingClient) CreateCustomer(ctx context.Context, email string) (*billing.Customer, error) {
	return m.createCustomerFunc(ctx, email)
}

func (m *mockBillingClient) CreateCheckoutSession(ctx context.Context, customerID, priceID, productID, redirectURL string) (*billing.CheckoutSession, error) {
	return m.createCheckoutFunc(ctx, customerID, priceID, productID, redirectURL)
}

func (m *mockBillingClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*billing.PortalSession, error) {
	return m.createPortalFunc(ctx, customerID, returnURL)
}

// mockCustomerLinker はCustomerLinkerのモック実装。
type mockCustomerLinker struct {
	setCustomerIDFunc func(ctx context.Context, userID, customerID string) error
}

func (m *mockCustomerLinker) SetCustomerID(ctx context.Context, userID, customerID string) error {
	return m.setCustomerIDFunc(ctx, userID, customerID)
}

// mockProductFinder はProductFinderのモック実装。
type mockProductFinder struct {
	findByIDFunc func(ctx context.Context, id string) (*model.Product, error)
}

func (m *mockProductFinder) FindByID(ctx context.Context, id string) (*model.Product, error) {
	return m.findByIDFunc(ctx, id)
}

// コンパイル時のインターフェース実装チェック
var _ BillingClientInterface = (*mockBillingClient)(nil)
var _ CustomerLinker = (*mockCustomerLinker)(nil)
var _ ProductFinder = (*mockProductFinder)(nil)

func withUser(req *http.Request, user *model.User) *http.Request {
	return req.WithContext(middleware.ContextWithUser(req.Context(), user))
}

// --- テスト ---

func TestCreateCustomer_NewCustomer(t *testing.T) {
	user := &model.User{ID: "user-1", Email: "hunter@example.com", Role: model.RoleUser}

	client := &mockBillingClient{
		createCustomerFunc: func(ctx context.Context, email string) (*billing.Customer, error) {
			if email != "hunter@example.com" {
				t.Errorf("CreateCustomer email = %q, want %q", email, "hunter@example.com")
			}
			return &billing.Customer{ID: "cus_new"}, nil
		},
	}

	var linkedUserID, linkedCustomerID string
	linker := &mockCustomerLinker{
		setCustomerIDFunc: func(ctx context.Context, userID, customerID string) error {
			linkedUserID = userID
			linkedCustomerID = customerID
			return nil
		},
	}

	h := NewBillingHandler(client, linker, &mockProductFinder{}, BillingHandlerConfig{BaseURL: "https://app.example.com"})

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/billing/customer", nil), user)
	rec := httptest.NewRecorder()

	h.CreateCustomer(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if linkedUserID != "user-1" || linkedCustomerID != "cus_new" {
		t.Errorf("linked (%q, %q), want (user-1, cus_new)", linkedUserID, linkedCustomerID)
	}

	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["customer_id"] != "cus_new" {
		t.Errorf("customer_id = %q, want %q", body["customer_id"], "cus_new")
	}
}

func TestCreateCustomer_AlreadyLinked(t *testing.T) {
	// 既に顧客が紐付いている場合はStripeを呼ばず既存IDを返す（冪等）
	user := &model.User{ID: "user-1", Email: "hunter@example.com", Role: model.RoleUser, CustomerID: "cus_existing"}

	client := &mockBillingClient{
		createCustomerFunc: func(ctx context.Context, email string) (*billing.Customer, error) {
			t.Error("CreateCustomer should not be called")
			return nil, nil
		},
	}

	h := NewBillingHandler(client, &mockCustomerLinker{}, &mockProductFinder{}, BillingHandlerConfig{})

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/billing/customer", nil), user)
	rec := httptest.NewRecorder()

	h.CreateCustomer(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["customer_id"] != "cus_existing" {
		t.Errorf("customer_id = %q, want %q", body["customer_id"], "cus_existing")
	}
}

func TestCreateCheckoutSession_Success(t *testing.T) {
	user := &model.User{ID: "user-1", Email: "hunter@example.com", Role: model.RoleUser, CustomerID: "cus_1"}
	product := &model.Product{ID: "product-1", Name: "Pro Plan", StripePriceID: "price_123"}

	products := &mockProductFinder{
		findByIDFunc: func(ctx context.Context, id string) (*model.Product, error) {
			if id != "product-1" {
				t.Errorf("FindByID id = %q, want %q", id, "product-1")
			}
			return product, nil
		},
	}
	client := &mockBillingClient{
		createCheckoutFunc: func(ctx context.Context, customerID, priceID, productID, redirectURL string) (*billing.CheckoutSession, error) {
			if customerID != "cus_1" {
				t.Errorf("customerID = %q, want %q", customerID, "cus_1")
			}
			if priceID != "price_123" {
				t.Errorf("priceID = %q, want %q", priceID, "price_123")
			}
			if productID != "product-1" {
				t.Errorf("productID = %q, want %q", productID, "product-1")
			}
			return &billing.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/cs_1"}, nil
		},
	}

	h := NewBillingHandler(client, &mockCustomerLinker{}, products, BillingHandlerConfig{BaseURL: "https://app.example.com"})

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/billing/checkout-session",
		strings.NewReader(`{"product_id":"product-1"}`)), user)
	rec := httptest.NewRecorder()

	h.CreateCheckoutSession(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["url"] != "https://checkout.stripe.com/cs_1" {
		t.Errorf("url = %q, want checkout URL", body["url"])
	}
}

func TestCreateCheckoutSession_UnknownProduct(t *testing.T) {
	user := &model.User{ID: "user-1", Email: "hunter@example.com", Role: model.RoleUser, CustomerID: "cus_1"}

	products := &mockProductFinder{
		findByIDFunc: func(ctx context.Context, id string) (*model.Product, error) {
			return nil, nil
		},
	}

	h := NewBillingHandler(&mockBillingClient{}, &mockCustomerLinker{}, products, BillingHandlerConfig{})

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/billing/checkout-session",
		strings.NewReader(`{"product_id":"nope"}`)), user)
	rec := httptest.NewRecorder()

	h.CreateCheckoutSession(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	var body apiErrorResponse
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Code != model.ErrCodeProductNotFound {
		t.Errorf("error code = %q, want %q", body.Code, model.ErrCodeProductNotFound)
	}
}

func TestCreateCheckoutSession_CreatesCustomerWhenMissing(t *testing.T) {
	user := &model.User{ID: "user-1", Email: "hunter@example.com", Role: model.RoleUser}
	product := &model.Product{ID: "product-1", StripePriceID: "price_123"}

	products := &mockProductFinder{
		findByIDFunc: func(ctx context.Context, id string) (*model.Product, error) {
			return product, nil
		},
	}

	customerCreated := false
	client := &mockBillingClient{
		createCustomerFunc: func(ctx context.Context, email string) (*billing.Customer, error) {
			customerCreated = true
			return &billing.Customer{ID: "cus_new"}, nil
		},
		createCheckoutFunc: func(ctx context.Context, customerID, priceID, productID, redirectURL string) (*billing.CheckoutSession, error) {
			if customerID != "cus_new" {
				t.Errorf("customerID = %q, want %q", customerID, "cus_new")
			}
			return &billing.CheckoutSession{URL: "https://checkout.stripe.com/cs_2"}, nil
		},
	}
	linker := &mockCustomerLinker{
		setCustomerIDFunc: func(ctx context.Context, userID, customerID string) error {
			return nil
		},
	}

	h := NewBillingHandler(client, linker, products, BillingHandlerConfig{})

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/billing/checkout-session",
		strings.NewReader(`{"product_id":"product-1"}`)), user)
	rec := httptest.NewRecorder()

	h.CreateCheckoutSession(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !customerCreated {
		t.Error("customer should be created before checkout")
	}
}

func TestCreatePortalSession_OwnCustomer(t *testing.T) {
	user := &model.User{ID: "user-1", Email: "hunter@example.com", Role: model.RoleUser, CustomerID: "cus_1"}

	client := &mockBillingClient{
		createPortalFunc: func(ctx context.Context, customerID, returnURL string) (*billing.PortalSession, error) {
			if customerID != "cus_1" {
				t.Errorf("customerID = %q, want %q", customerID, "cus_1")
			}
			return &billing.PortalSession{URL: "https://billing.stripe.com/p_1"}, nil
		},
	}

	h := NewBillingHandler(client, &mockCustomerLinker{}, &mockProductFinder{}, BillingHandlerConfig{BaseURL: "https://app.example.com"})

	r := chi.NewRouter()
	r.Get("/api/billing/portal/{customer}", h.CreatePortalSession)

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/billing/portal/cus_1", nil), user)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["url"] != "https://billing.stripe.com/p_1" {
		t.Errorf("url = %q, want portal URL", body["url"])
	}
}

func TestCreatePortalSession_OtherCustomerForbidden(t *testing.T) {
	// 管理者以外は他人の顧客ポータルを開けない
	user := &model.User{ID: "user-1", Email: "hunter@example.com", Role: model.RoleUser, CustomerID: "cus_1"}

	client := &mockBillingClient{
		createPortalFunc: func(ctx context.Context, customerID, returnURL string) (*billing.PortalSession, error) {
			t.Error("CreatePortalSession should not be called")
			return nil, nil
		},
	}

	h := NewBillingHandler(client, &mockCustomerLinker{}, &mockProductFinder{}, BillingHandlerConfig{})

	r := chi.NewRouter()
	r.Get("/api/billing/portal/{customer}", h.CreatePortalSession)

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/billing/portal/cus_other", nil), user)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestCreatePortalSession_AdminAnyCustomer(t *testing.T) {
	admin := &model.User{ID: "admin-1", Email: "admin@example.com", Role: model.RoleAdmin}

	client := &mockBillingClient{
		createPortalFunc: func(ctx context.Context, customerID, returnURL string) (*billing.PortalSession, error) {
			return &billing.PortalSession{URL: "https://billing.stripe.com/p_2"}, nil
		},
	}

	h := NewBillingHandler(client, &mockCustomerLinker{}, &mockProductFinder{}, BillingHandlerConfig{})

	r := chi.NewRouter()
	r.Get("/api/billing/portal/{customer}", h.CreatePortalSession)

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/billing/portal/cus_any", nil), admin)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
