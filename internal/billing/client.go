package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// defaultAPIBase はStripe APIのベースURL。
const defaultAPIBase = "https://api.stripe.com"

// Client はStripeの送信APIクライアント。
// チェックアウトセッション・顧客・カスタマーポータルの作成に使う。
// Stripe APIはフォームエンコードされたボディを受け取る。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	secretKey  string
	apiBase    string // テスト用に差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, secretKey string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		secretKey:  secretKey,
		apiBase:    defaultAPIBase,
	}
}

// CheckoutSession はStripeチェックアウトセッションの必要最小限のフィールド。
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// PortalSession はカスタマーポータルセッションの必要最小限のフィールド。
type PortalSession struct {
	URL string `json:"url"`
}

// Customer はStripe顧客の必要最小限のフィールド。
type Customer struct {
	ID string `json:"id"`
}

// CreateCustomer は指定メールアドレスのStripe顧客を作成する。
func (c *Client) CreateCustomer(ctx context.Context, email string) (*Customer, error) {
	form := url.Values{}
	form.Set("email", email)

	customer := &Customer{}
	if err := c.post(ctx, "/v1/customers", form, customer); err != nil {
		return nil, err
	}
	return customer, nil
}

// CreateCheckoutSession はサブスクリプション購入用のチェックアウトセッションを作成する。
// productIDをclient_reference_idに埋め込み、Webhookでの商品解決に使う。
func (c *Client) CreateCheckoutSession(ctx context.Context, customerID, priceID, productID, redirectURL string) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("customer", customerID)
	form.Set("client_reference_id", productID)
	form.Set("success_url", redirectURL)
	form.Set("cancel_url", redirectURL)
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][price]", priceID)
	form.Set("line_items[0][quantity]", "1")

	session := &CheckoutSession{}
	if err := c.post(ctx, "/v1/checkout/sessions", form, session); err != nil {
		return nil, err
	}
	return session, nil
}

// CreatePortalSession は請求管理用のカスタマーポータルセッションを作成する。
func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", returnURL)

	session := &PortalSession{}
	if err := c.post(ctx, "/v1/billing_portal/sessions", form, session); err != nil {
		return nil, err
	}
	return session, nil
}

// post はフォームエンコードされたPOSTを実行し、JSONレスポンスをデコードする。
func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("stripe request failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to call stripe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("stripe returned non-2xx",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(respBody)),
		)
		return fmt.Errorf("stripe returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode stripe response: %w", err)
	}
	return nil
}
