// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, billing, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthRequired        = "AUTH_REQUIRED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeLoginTokenInvalid   = "LOGIN_TOKEN_INVALID"
	ErrCodeWebhookSigInvalid   = "WEBHOOK_SIGNATURE_INVALID"
	ErrCodeEmailDeliveryFailed = "EMAIL_DELIVERY_FAILED"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeProductNotFound     = "PRODUCT_NOT_FOUND"
	ErrCodeInvalidEmail        = "INVALID_EMAIL"
)

// NewAuthRequiredError は未認証エラーを生成する。
// 資格情報の欠落・無効・期限切れを区別せず、一律に同じ内容を返す。
func NewAuthRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthRequired,
		Message:  "ログインしていません。",
		Category: "auth",
		Action:   "ログインしてから再度アクセスしてください。",
	}
}

// NewForbiddenError はロール不一致による拒否エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を実行する権限がありません。",
		Category: "auth",
		Action:   "プランのアップグレードが必要か確認してください。",
	}
}

// NewLoginTokenInvalidError はマジックリンク検証失敗エラーを生成する。
// トークンが存在しないのか期限切れなのかは意図的に区別しない。
func NewLoginTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeLoginTokenInvalid,
		Message:  "ログインリンクが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "もう一度ログインリンクの送信をやり直してください。",
	}
}

// NewWebhookSignatureError はWebhook署名検証失敗エラーを生成する。
func NewWebhookSignatureError() *APIError {
	return &APIError{
		Code:     ErrCodeWebhookSigInvalid,
		Message:  "Webhookの署名を検証できませんでした。",
		Category: "billing",
		Action:   "Webhookシークレットの設定を確認してください。",
	}
}

// NewEmailDeliveryError はメール送信失敗エラーを生成する。
func NewEmailDeliveryError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailDeliveryFailed,
		Message:  "メールの送信に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidEmailError は無効なメールアドレスエラーを生成する。
func NewInvalidEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  "メールアドレスの形式が正しくありません。",
		Category: "validation",
		Action:   "正しいメールアドレスを入力してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewProductNotFoundError は商品が見つからない場合のエラーを生成する。
func NewProductNotFoundError(productID string) *APIError {
	return &APIError{
		Code:     ErrCodeProductNotFound,
		Message:  fmt.Sprintf("指定された商品が見つかりません: %s", productID),
		Category: "billing",
		Action:   "商品IDを確認してください。",
	}
}
