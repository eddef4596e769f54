// Package notifier はトランザクショナルメールの配送を提供する。
// SendGridのダイナミックテンプレートAPIを呼び出す。
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// defaultEndpoint はSendGrid v3メール送信APIのエンドポイント。
const defaultEndpoint = "https://api.sendgrid.com/v3/mail/send"

// SendGridConfig はSendGridクライアントの設定。
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// DeliveryMetrics は配送レイテンシの記録先。
type DeliveryMetrics interface {
	RecordEmailDeliveryLatency(duration time.Duration)
}

// SendGridClient はSendGrid v3 APIのクライアント。
// 配送の成否のみを呼び出し元に返す。テンプレート本文はSendGrid側で管理される。
type SendGridClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    DeliveryMetrics // nilの場合は記録しない
	config     SendGridConfig
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewSendGridClient はSendGridClientの新しいインスタンスを生成する。
func NewSendGridClient(httpClient *http.Client, logger *slog.Logger, metrics DeliveryMetrics, config SendGridConfig) *SendGridClient {
	return &SendGridClient{
		httpClient: httpClient,
		logger:     logger,
		metrics:    metrics,
		config:     config,
		endpoint:   defaultEndpoint,
	}
}

// mailRequest はSendGrid v3 APIのリクエストボディ。
type mailRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             emailAddress      `json:"from"`
	TemplateID       string            `json:"template_id"`
}

type personalization struct {
	To                  []emailAddress    `json:"to"`
	DynamicTemplateData map[string]string `json:"dynamic_template_data"`
}

type emailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Send は指定テンプレートのメールを1通送信する。
// 2xx以外の応答はエラーとして返す（呼び出し元がロールバックを判断する）。
func (c *SendGridClient) Send(ctx context.Context, recipient, templateID string, templateData map[string]string) error {
	body := mailRequest{
		Personalizations: []personalization{
			{
				To:                  []emailAddress{{Email: recipient}},
				DynamicTemplateData: templateData,
			},
		},
		From: emailAddress{
			Email: c.config.FromEmail,
			Name:  c.config.FromName,
		},
		TemplateID: templateID,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal mail request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create mail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("sendgrid request failed",
			slog.String("error", err.Error()),
			slog.String("template_id", templateID),
		)
		return fmt.Errorf("failed to call sendgrid: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// エラーボディは診断用にログへ（宛先はログに残さない）
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("sendgrid returned non-2xx",
			slog.Int("status", resp.StatusCode),
			slog.String("template_id", templateID),
			slog.String("body", string(respBody)),
		)
		return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}

	if c.metrics != nil {
		c.metrics.RecordEmailDeliveryLatency(time.Since(start))
	}

	return nil
}
