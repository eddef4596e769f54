package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/memberman/internal/metrics"
	"github.com/hitoshi/memberman/internal/middleware"
	"github.com/hitoshi/memberman/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	MagicLinkService MagicLinkServiceInterface
	TokenService     TokenServiceInterface
	UserFinder       SessionUserFinder
	PurchaseLister   PurchaseLister
	AuthConfig       AuthHandlerConfig

	// Webhook
	WebhookVerifier WebhookVerifier
	Reconciler      EventReconciler

	// 課金
	BillingClient  BillingClientInterface
	ProductFinder  ProductFinder
	CustomerLinker CustomerLinker
	BillingConfig  BillingHandlerConfig

	// メトリクス
	Collector metrics.MetricsCollector
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS →（保護ルートのみ）Auth → RateLimit(General)
//
// Webhookルートは認証・レート制限の外に配置する（Stripeからの配信のため）。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(
		deps.MagicLinkService,
		deps.TokenService,
		deps.UserFinder,
		deps.PurchaseLister,
		deps.Collector,
		deps.AuthConfig,
	)
	webhookHandler := NewWebhookHandler(deps.WebhookVerifier, deps.Reconciler, deps.Collector)
	billingHandler := NewBillingHandler(deps.BillingClient, deps.CustomerLinker, deps.ProductFinder, deps.BillingConfig)
	userHandler := NewUserHandler(deps.UserFinder)

	protect := middleware.NewAuthMiddleware(deps.TokenService, deps.UserFinder)

	// ヘルスチェック
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// --- 認証不要のルート ---

	r.Route("/auth", func(r chi.Router) {
		// ログインリンク送信はメール配送を伴うため、IP単位の専用レート制限を適用
		r.With(deps.RateLimiter.LoginLinkMiddleware()).Post("/login", authHandler.RequestLoginLink)
		r.Get("/verify/{token}", authHandler.VerifyLogin)

		// セッションプローブ。自前でCookieを解釈するため保護ミドルウェアの外
		r.Get("/session", authHandler.Session)

		// ログアウトは認証済みユーザーのみ
		r.With(protect, deps.RateLimiter.GeneralMiddleware()).Post("/logout", authHandler.Logout)
	})

	// Stripe Webhook（署名検証がハンドラー内で行われる）
	r.Post("/webhook/stripe", webhookHandler.HandleStripeWebhook)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(protect)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 課金管理
		r.Route("/api/billing", func(r chi.Router) {
			r.Post("/customer", billingHandler.CreateCustomer)
			r.Post("/checkout-session", billingHandler.CreateCheckoutSession)
			r.Get("/portal/{customer}", billingHandler.CreatePortalSession)
		})

		// 管理者ルート
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleAdmin))
			r.Get("/users/{id}", userHandler.GetUser)
		})
	})

	return r
}
