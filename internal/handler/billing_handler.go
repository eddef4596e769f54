package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/memberman/internal/billing"
	"github.com/hitoshi/memberman/internal/middleware"
	"github.com/hitoshi/memberman/internal/model"
)

// BillingClientInterface は課金ハンドラーが必要とするStripeクライアント。
type BillingClientInterface interface {
	CreateCustomer(ctx context.Context, email string) (*billing.Customer, error)
	CreateCheckoutSession(ctx context.Context, customerID, priceID, productID, redirectURL string) (*billing.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*billing.PortalSession, error)
}

// CustomerLinker はStripe顧客IDのユーザーへの紐付けインターフェース。
type CustomerLinker interface {
	SetCustomerID(ctx context.Context, userID, customerID string) error
}

// ProductFinder は商品解決のインターフェース。
type ProductFinder interface {
	FindByID(ctx context.Context, id string) (*model.Product, error)
}

// BillingHandlerConfig は課金ハンドラーの設定。
type BillingHandlerConfig struct {
	// BaseURL はチェックアウト・ポータル完了後のリダイレクト先。
	BaseURL string
}

// BillingHandler は課金関連のHTTPハンドラー。すべて保護ルート配下で動作する。
type BillingHandler struct {
	client   BillingClientInterface
	linker   CustomerLinker
	products ProductFinder
	config   BillingHandlerConfig
}

// NewBillingHandler はBillingHandlerを生成する。
func NewBillingHandler(client BillingClientInterface, linker CustomerLinker, products ProductFinder, config BillingHandlerConfig) *BillingHandler {
	return &BillingHandler{
		client:   client,
		linker:   linker,
		products: products,
		config:   config,
	}
}

// checkoutRequest はチェックアウトセッション作成リクエストのボディ。
type checkoutRequest struct {
	ProductID string `json:"product_id"`
}

// CreateCustomer は認証済みユーザーのStripe顧客を作成する。
// POST /api/billing/customer
//
// 既に顧客が紐付いている場合は作成せず既存のIDを返す（冪等）。
func (h *BillingHandler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
		return
	}

	if user.CustomerID != "" {
		writeJSONResponse(w, http.StatusOK, map[string]string{"customer_id": user.CustomerID})
		return
	}

	customer, err := h.client.CreateCustomer(r.Context(), user.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.linker.SetCustomerID(r.Context(), user.ID, customer.ID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, map[string]string{"customer_id": customer.ID})
}

// CreateCheckoutSession はサブスクリプション購入用のチェックアウトセッションを作成する。
// POST /api/billing/checkout-session
//
// 顧客が未作成の場合はこの時点で作成・紐付けする。
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	product, err := h.products.FindByID(r.Context(), req.ProductID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if product == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewProductNotFoundError(req.ProductID))
		return
	}

	customerID := user.CustomerID
	if customerID == "" {
		customer, err := h.client.CreateCustomer(r.Context(), user.Email)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		if err := h.linker.SetCustomerID(r.Context(), user.ID, customer.ID); err != nil {
			handleServiceError(w, err)
			return
		}
		customerID = customer.ID
	}

	session, err := h.client.CreateCheckoutSession(r.Context(), customerID, product.StripePriceID, product.ID, h.config.BaseURL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"url": session.URL})
}

// CreatePortalSession は請求管理用のカスタマーポータルセッションを作成する。
// GET /api/billing/portal/{customer}
//
// 管理者以外は自分に紐付いた顧客のポータルのみ開ける。
func (h *BillingHandler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
		return
	}

	customerID := chi.URLParam(r, "customer")
	if user.Role != model.RoleAdmin && customerID != user.CustomerID {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
		return
	}

	session, err := h.client.CreatePortalSession(r.Context(), customerID, h.config.BaseURL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"url": session.URL})
}
