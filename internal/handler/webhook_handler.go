package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/memberman/internal/billing"
	"github.com/hitoshi/memberman/internal/metrics"
	"github.com/hitoshi/memberman/internal/model"
)

// maxWebhookBodySize はWebhookボディの上限。Stripeのイベントは十分小さい。
const maxWebhookBodySize = 1 << 20 // 1MiB

// WebhookVerifier はWebhook署名の検証とパースのインターフェース。
type WebhookVerifier interface {
	// VerifyAndParse は未加工のボディと署名ヘッダーを検証し、イベントを返す。
	VerifyAndParse(payload []byte, sigHeader string) (*billing.Event, error)
}

// EventReconciler は検証済みイベントの処理インターフェース。
type EventReconciler interface {
	HandleEvent(ctx context.Context, event *billing.Event) error
}

// WebhookHandler はStripe WebhookのHTTPハンドラー。
type WebhookHandler struct {
	verifier   WebhookVerifier
	reconciler EventReconciler
	collector  metrics.MetricsCollector
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(verifier WebhookVerifier, reconciler EventReconciler, collector metrics.MetricsCollector) *WebhookHandler {
	return &WebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		collector:  collector,
	}
}

// HandleStripeWebhook はStripeからのWebhook配信を処理する。
// POST /webhook/stripe
//
// 署名は未加工のボディバイト列に対して検証する必要があるため、
// このハンドラーは事前のJSONデコードを一切行わない。
// 署名検証に失敗した場合は状態を変更せず400を返す。
// 検証済みイベントは、解決できずno-opに終わった場合も含めて200で受理する
// （エラーを返すとStripeが恒久に解決不能なイベントを再送し続けるため）。
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの読み込みに失敗しました。",
			Category: "validation",
			Action:   "リクエストを確認してください。",
		})
		return
	}

	event, err := h.verifier.VerifyAndParse(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			h.collector.RecordWebhookSignatureFailure()
			slog.Warn("webhook signature verification failed")
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewWebhookSignatureError())
			return
		}
		if errors.Is(err, billing.ErrMalformedPayload) {
			// 署名は正しいがイベントとして解釈できないボディ。
			// 500を返すとStripeが恒久に解決不能な配信を再送し続けるため400で拒否する。
			slog.Warn("webhook payload decode failed", slog.String("error", err.Error()))
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "WEBHOOK_PAYLOAD_INVALID",
				Message:  "Webhookペイロードを解釈できません。",
				Category: "validation",
				Action:   "送信元の設定を確認してください。",
			})
			return
		}
		handleServiceError(w, err)
		return
	}

	h.collector.RecordWebhookEvent(event.Type)

	if err := h.reconciler.HandleEvent(r.Context(), event); err != nil {
		// ストア障害など再試行に意味があるエラーのみここに到達する
		slog.Error("webhook event handling failed",
			slog.String("event_id", event.ID),
			slog.String("type", event.Type),
			slog.String("error", err.Error()),
		)
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]bool{"received": true})
}
