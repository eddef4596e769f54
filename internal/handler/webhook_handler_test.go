package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/memberman/internal/billing"
	"github.com/hitoshi/memberman/internal/model"
)

// --- モック定義 ---

// mockWebhookVerifier はWebhookVerifierのモック実装。
type mockWebhookVerifier struct {
	verifyAndParseFunc func(payload []byte, sigHeader string) (*billing.Event, error)
}

func (m *mockWebhookVerifier) VerifyAndParse(payload []byte, sigHeader string) (*billing.Event, error) {
	return m.verifyAndParseFunc(payload, sigHeader)
}

// mockEventReconciler はEventReconcilerのモック実装。
type mockEventReconciler struct {
	handleEventFunc func(ctx context.Context, event *billing.Event) error
}

func (m *mockEventReconciler) HandleEvent(ctx context.Context, event *billing.Event) error {
	return m.handleEventFunc(ctx, event)
}

// コンパイル時のインターフェース実装チェック
var _ WebhookVerifier = (*mockWebhookVerifier)(nil)
var _ EventReconciler = (*mockEventReconciler)(nil)

// --- テスト ---

func TestHandleStripeWebhook_ValidSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	event := &billing.Event{ID: "evt_1", Type: billing.EventCheckoutCompleted}

	verifier := &mockWebhookVerifier{
		verifyAndParseFunc: func(gotPayload []byte, sigHeader string) (*billing.Event, error) {
			// 署名検証には未加工のボディがそのまま渡ること
			if !bytes.Equal(gotPayload, payload) {
				t.Errorf("payload = %q, want %q", gotPayload, payload)
			}
			if sigHeader != "t=123,v1=abc" {
				t.Errorf("sigHeader = %q, want %q", sigHeader, "t=123,v1=abc")
			}
			return event, nil
		},
	}

	var handledEvent *billing.Event
	reconciler := &mockEventReconciler{
		handleEventFunc: func(ctx context.Context, e *billing.Event) error {
			handledEvent = e
			return nil
		},
	}

	h := NewWebhookHandler(verifier, reconciler, newTestCollector())

	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=123,v1=abc")
	rec := httptest.NewRecorder()

	h.HandleStripeWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if handledEvent == nil || handledEvent.ID != "evt_1" {
		t.Errorf("handled event = %+v, want evt_1", handledEvent)
	}

	var body map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !body["received"] {
		t.Error(`expected {"received": true}`)
	}
}

func TestHandleStripeWebhook_InvalidSignature(t *testing.T) {
	verifier := &mockWebhookVerifier{
		verifyAndParseFunc: func(payload []byte, sigHeader string) (*billing.Event, error) {
			return nil, billing.ErrInvalidSignature
		},
	}
	reconciler := &mockEventReconciler{
		handleEventFunc: func(ctx context.Context, e *billing.Event) error {
			t.Error("HandleEvent should not be called on signature failure")
			return nil
		},
	}

	h := NewWebhookHandler(verifier, reconciler, newTestCollector())

	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=123,v1=tampered")
	rec := httptest.NewRecorder()

	h.HandleStripeWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	var body apiErrorResponse
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Code != model.ErrCodeWebhookSigInvalid {
		t.Errorf("error code = %q, want %q", body.Code, model.ErrCodeWebhookSigInvalid)
	}
}

func TestHandleStripeWebhook_MalformedPayload_Returns400(t *testing.T) {
	// 署名は正しいがデコードできないボディは恒久的な失敗。
	// 500で返すとStripeが解決不能な配信を再送し続けるため、400で打ち切る。
	verifier := billing.NewSignatureVerifier("whsec_test")

	payload := []byte(`this is not json`)
	header := verifier.Sign(payload, time.Now())

	reconciler := &mockEventReconciler{
		handleEventFunc: func(ctx context.Context, e *billing.Event) error {
			t.Error("HandleEvent should not be called for a malformed payload")
			return nil
		},
	}

	h := NewWebhookHandler(verifier, reconciler, newTestCollector())

	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()

	h.HandleStripeWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	var body apiErrorResponse
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Code != "WEBHOOK_PAYLOAD_INVALID" {
		t.Errorf("error code = %q, want WEBHOOK_PAYLOAD_INVALID", body.Code)
	}
}

func TestHandleStripeWebhook_ReconcilerFailure(t *testing.T) {
	// ストア障害は500で返し、Stripeの再送に委ねる
	verifier := &mockWebhookVerifier{
		verifyAndParseFunc: func(payload []byte, sigHeader string) (*billing.Event, error) {
			return &billing.Event{ID: "evt_2", Type: billing.EventSubscriptionDeleted}, nil
		},
	}
	reconciler := &mockEventReconciler{
		handleEventFunc: func(ctx context.Context, e *billing.Event) error {
			return errors.New("store unavailable")
		},
	}

	h := NewWebhookHandler(verifier, reconciler, newTestCollector())

	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	h.HandleStripeWebhook(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestHandleStripeWebhook_EndToEndSignature(t *testing.T) {
	// 実際のSignatureVerifierを使った検証: 正しい署名は受理、改ざんは400
	verifier := billing.NewSignatureVerifier("whsec_test")

	payload := []byte(`{"id":"evt_3","type":"charge.refunded","data":{"object":{"customer":"cus_1"}}}`)
	header := verifier.Sign(payload, time.Now())

	var handled bool
	reconciler := &mockEventReconciler{
		handleEventFunc: func(ctx context.Context, e *billing.Event) error {
			handled = true
			if e.Type != billing.EventChargeRefunded {
				t.Errorf("event type = %q, want %q", e.Type, billing.EventChargeRefunded)
			}
			return nil
		},
	}

	h := NewWebhookHandler(verifier, reconciler, newTestCollector())

	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()

	h.HandleStripeWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !handled {
		t.Error("event was not handled")
	}

	// 同じ署名でボディを改ざんすると400
	tampered := []byte(`{"id":"evt_3","type":"charge.refunded","data":{"object":{"customer":"cus_evil"}}}`)
	req = httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader(tampered))
	req.Header.Set("Stripe-Signature", header)
	rec = httptest.NewRecorder()

	handled = false
	h.HandleStripeWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if handled {
		t.Error("tampered event must not be handled")
	}
}
