// Package handler はHTTP APIハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/memberman/internal/magiclink"
	"github.com/hitoshi/memberman/internal/metrics"
	"github.com/hitoshi/memberman/internal/middleware"
	"github.com/hitoshi/memberman/internal/model"
)

// 認証Cookie名。フロントエンドとの契約の一部。
const (
	accessTokenCookieName  = "accessToken"
	refreshTokenCookieName = "refreshToken"

	// loggedOutSentinel はログアウト時にCookieへ上書きする無効値。
	loggedOutSentinel = "loggedout"
)

// MagicLinkServiceInterface は認証ハンドラーが必要とするマジックリンクサービス。
type MagicLinkServiceInterface interface {
	// RequestLogin はログインリンクを発行・配送する。
	RequestLogin(ctx context.Context, email string) error
	// VerifyLogin は生トークンを検証し、該当ユーザーを返す。
	VerifyLogin(ctx context.Context, rawToken string) (*model.User, error)
}

// TokenServiceInterface は認証ハンドラーが必要とするトークンサービス。
type TokenServiceInterface interface {
	IssueAccessToken(userID string) (string, error)
	VerifyAccessToken(raw string) (string, error)
	IssueRefreshToken(ctx context.Context, user *model.User) (string, error)
	ConsumeRefreshToken(ctx context.Context, raw string) (*model.User, error)
	RevokeAll(ctx context.Context, userID string) error
	AccessTokenTTL() time.Duration
	RefreshTokenTTL() time.Duration
}

// SessionUserFinder はセッションプローブでのユーザーロードに使うインターフェース。
type SessionUserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// PurchaseLister はユーザーの購入履歴取得に使うインターフェース。
type PurchaseLister interface {
	ListByUserID(ctx context.Context, userID string) ([]*model.Purchase, error)
}

// AuthHandlerConfig は認証ハンドラーのCookie設定。
type AuthHandlerConfig struct {
	CookieSecure bool
	CookieDomain string
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	magicLink MagicLinkServiceInterface
	tokens    TokenServiceInterface
	users     SessionUserFinder
	purchases PurchaseLister
	collector metrics.MetricsCollector
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	magicLink MagicLinkServiceInterface,
	tokens TokenServiceInterface,
	users SessionUserFinder,
	purchases PurchaseLister,
	collector metrics.MetricsCollector,
	config AuthHandlerConfig,
) *AuthHandler {
	return &AuthHandler{
		magicLink: magicLink,
		tokens:    tokens,
		users:     users,
		purchases: purchases,
		collector: collector,
		config:    config,
	}
}

// loginRequest はログインリンク要求のボディ。
type loginRequest struct {
	Email string `json:"email"`
}

// userResponse はユーザー情報のAPIレスポンス。
// トークンハッシュ等の内部フィールドは決して含めない。
type userResponse struct {
	ID         string             `json:"id"`
	Email      string             `json:"email"`
	Role       string             `json:"role"`
	CustomerID string             `json:"customer_id,omitempty"`
	Purchases  []purchaseResponse `json:"purchases,omitempty"`
}

// purchaseResponse は購入履歴のAPIレスポンス。
type purchaseResponse struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// RequestLoginLink はログインリンクの発行を処理する。
// POST /auth/login
//
// アカウントの有無に関わらず同一の応答を返す（存在の開示を避ける）。
// 唯一区別されるのは配送失敗で、これは再試行可能な500として返す。
func (h *AuthHandler) RequestLoginLink(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	if err := h.magicLink.RequestLogin(r.Context(), req.Email); err != nil {
		switch {
		case errors.Is(err, magiclink.ErrInvalidEmail):
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidEmailError())
		case errors.Is(err, magiclink.ErrDeliveryFailed):
			h.collector.RecordEmailDeliveryFailure()
			writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewEmailDeliveryError())
		default:
			handleServiceError(w, err)
		}
		return
	}

	h.collector.RecordLoginLinkSent()
	writeJSONResponse(w, http.StatusOK, map[string]string{
		"message": "ログインリンクをメールで送信しました。受信トレイをご確認ください。",
	})
}

// VerifyLogin はマジックリンクの検証とセッション確立を処理する。
// GET /auth/verify/{token}
//
// 検証成功時はアクセストークンとリフレッシュトークンの両方を発行し、
// HTTP Only Cookieに設定した上でユーザーを返す。
func (h *AuthHandler) VerifyLogin(w http.ResponseWriter, r *http.Request) {
	rawToken := chi.URLParam(r, "token")

	user, err := h.magicLink.VerifyLogin(r.Context(), rawToken)
	if err != nil {
		if errors.Is(err, magiclink.ErrInvalidOrExpiredToken) {
			writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewLoginTokenInvalidError())
			return
		}
		handleServiceError(w, err)
		return
	}

	accessToken, err := h.tokens.IssueAccessToken(user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	refreshToken, err := h.tokens.IssueRefreshToken(r.Context(), user)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setAuthCookie(w, accessTokenCookieName, accessToken, h.tokens.AccessTokenTTL())
	h.setAuthCookie(w, refreshTokenCookieName, refreshToken, h.tokens.RefreshTokenTTL())

	h.collector.RecordLoginSuccess()
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"data": h.toUserResponse(r.Context(), user),
	})
}

// Session はセッション状態のプローブを処理する。
// GET /auth/session
//
// クリティカルでない確認用のため、ソフトフェイル方針を取る:
//   - アクセストークンが有効 → ユーザーを返す
//   - 無効でもリフレッシュトークンが有効 → アクセストークンのみ再発行して返す
//   - どちらも無効 → 200で中立ボディ（内部の失敗理由は開示しない）
//   - Cookieが一切ない → ストアに触れる前に401
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	accessCookie, accessErr := r.Cookie(accessTokenCookieName)
	refreshCookie, refreshErr := r.Cookie(refreshTokenCookieName)

	// 資格情報が一切ない場合のみハードに401
	if accessErr != nil && refreshErr != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
		return
	}

	// 1. アクセストークンでの照合
	if accessErr == nil && accessCookie.Value != "" && accessCookie.Value != loggedOutSentinel {
		if userID, err := h.tokens.VerifyAccessToken(accessCookie.Value); err == nil {
			user, err := h.users.FindByID(r.Context(), userID)
			if err != nil {
				slog.Error("session probe user load failed", slog.String("error", err.Error()))
			} else if user != nil {
				writeJSONResponse(w, http.StatusOK, map[string]any{
					"data": h.toUserResponse(r.Context(), user),
				})
				return
			}
		}
	}

	// 2. リフレッシュトークンでのサイレント再発行（アクセストークンのみ再発行）
	if refreshErr == nil && refreshCookie.Value != "" && refreshCookie.Value != loggedOutSentinel {
		if user, err := h.tokens.ConsumeRefreshToken(r.Context(), refreshCookie.Value); err == nil {
			accessToken, err := h.tokens.IssueAccessToken(user.ID)
			if err == nil {
				h.setAuthCookie(w, accessTokenCookieName, accessToken, h.tokens.AccessTokenTTL())
				h.collector.RecordTokenRefresh()
				writeJSONResponse(w, http.StatusOK, map[string]any{
					"data": h.toUserResponse(r.Context(), user),
				})
				return
			}
			slog.Error("silent renewal failed to issue access token", slog.String("error", err.Error()))
		}
	}

	// 3. ソフトフェイル: 失敗理由は開示せず中立ボディ
	writeJSONResponse(w, http.StatusOK, map[string]any{"data": nil})
}

// Logout はログアウトを処理する。
// POST /auth/logout（保護ルート）
//
// ユーザーの全リフレッシュトークンを失効させ、両Cookieを
// 期限切れの無効値で上書きする。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
		return
	}

	if err := h.tokens.RevokeAll(r.Context(), user.ID); err != nil {
		handleServiceError(w, err)
		return
	}

	h.clearAuthCookie(w, accessTokenCookieName)
	h.clearAuthCookie(w, refreshTokenCookieName)

	slog.Info("user logged out", slog.String("user_id", user.ID))
	writeJSONResponse(w, http.StatusOK, map[string]string{
		"message": "ログアウトしました。",
	})
}

// toUserResponse はユーザーと購入履歴をAPIレスポンス形式に変換する。
// 購入履歴の取得失敗はセッション確立を妨げない（ログのみ）。
func (h *AuthHandler) toUserResponse(ctx context.Context, user *model.User) userResponse {
	resp := userResponse{
		ID:         user.ID,
		Email:      user.Email,
		Role:       string(user.Role),
		CustomerID: user.CustomerID,
	}

	purchases, err := h.purchases.ListByUserID(ctx, user.ID)
	if err != nil {
		slog.Error("failed to list purchases",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return resp
	}
	for _, p := range purchases {
		resp.Purchases = append(resp.Purchases, purchaseResponse{
			ID:        p.ID,
			ProductID: p.ProductID,
			Amount:    p.Amount,
			CreatedAt: p.CreatedAt,
		})
	}
	return resp
}

// setAuthCookie は認証CookieをHTTP Onlyで設定する。
func (h *AuthHandler) setAuthCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		Expires:  time.Now().Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearAuthCookie は認証Cookieを期限切れの無効値で上書きする。
func (h *AuthHandler) clearAuthCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    loggedOutSentinel,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeJSONResponse はJSONレスポンスを書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeAuthRequired, model.ErrCodeLoginTokenInvalid:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeInvalidEmail:
		return http.StatusBadRequest
	case model.ErrCodeWebhookSigInvalid:
		return http.StatusBadRequest
	case model.ErrCodeUserNotFound, model.ErrCodeProductNotFound:
		return http.StatusNotFound
	case model.ErrCodeEmailDeliveryFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
