// Package billing はStripeとの連携を提供する。
// Webhookイベントの署名検証とエンタイトルメントの突合、
// およびチェックアウト等の送信API呼び出しを含む。
package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Webhookイベント種別。Stripeのイベントタイプ文字列に一致する。
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventChargeRefunded       = "charge.refunded"
	EventSubscriptionExpiring = "subscription_schedule.expiring"
)

// ErrInvalidSignature はWebhook署名の検証失敗を示す。
// ペイロードのいかなるフィールドも信頼される前に返される。
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ErrMalformedPayload は署名検証を通過したボディがイベントとして
// デコードできないことを示す。再送されても解決しない恒久的な失敗。
var ErrMalformedPayload = errors.New("malformed webhook payload")

// defaultTolerance は署名タイムスタンプの許容ずれ。リプレイ攻撃対策。
const defaultTolerance = 5 * time.Minute

// Event は正規化されたStripe Webhookイベント。永続化はしない。
type Event struct {
	// ID はStripeのイベントID。購入記録の冪等性キーとして使う。
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object EventObject `json:"object"`
	} `json:"data"`
}

// EventObject はイベントに含まれる対象オブジェクトの必要最小限のフィールド。
type EventObject struct {
	// Customer はStripe顧客ID。ローカルのユーザー解決に使う。
	Customer string `json:"customer"`
	// ClientReferenceID はチェックアウト作成時に埋め込んだ商品ID。
	ClientReferenceID string `json:"client_reference_id"`
	// AmountTotal は支払総額（最小通貨単位）。
	AmountTotal int64 `json:"amount_total"`
}

// SignatureVerifier はStripe-Signatureヘッダー方式のWebhook署名検証器。
// 共有シークレットでHMAC-SHA256を計算し、`t=...,v1=...`形式のヘッダーと突合する。
type SignatureVerifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time // テスト用に差し替え可能
}

// NewSignatureVerifier はSignatureVerifierを生成する。
func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{
		secret:    secret,
		tolerance: defaultTolerance,
		now:       time.Now,
	}
}

// VerifyAndParse は生のリクエストボディと署名ヘッダーを検証し、
// 正規化されたイベントを返す。検証より前にペイロードを一切解釈しない。
// 署名はJSONデコード前のバイト列に対して計算されるため、
// 呼び出し側は未加工のボディを渡すこと。
func (v *SignatureVerifier) VerifyAndParse(payload []byte, sigHeader string) (*Event, error) {
	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return nil, ErrInvalidSignature
	}

	// タイムスタンプの許容ずれ確認（リプレイ対策）
	ts := time.Unix(timestamp, 0)
	if d := v.now().Sub(ts); d > v.tolerance || d < -v.tolerance {
		return nil, ErrInvalidSignature
	}

	// 期待値: HMAC-SHA256(secret, "<timestamp>.<payload>")
	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	matched := false
	for _, sig := range signatures {
		decoded, decErr := hex.DecodeString(sig)
		if decErr != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrInvalidSignature
	}

	event := &Event{}
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, err)
	}
	return event, nil
}

// Sign は指定時刻のペイロードに対する署名ヘッダー値を生成する。
// テストとローカル動作確認用。
func (v *SignatureVerifier) Sign(payload []byte, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(strconv.FormatInt(at.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

// parseSignatureHeader は`t=1234,v1=abc,v1=def`形式のヘッダーを分解する。
func parseSignatureHeader(header string) (int64, []string, error) {
	if header == "" {
		return 0, nil, fmt.Errorf("empty signature header")
	}

	var timestamp int64 = -1
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("malformed timestamp: %w", err)
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp < 0 || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("missing timestamp or signature")
	}
	return timestamp, signatures, nil
}
