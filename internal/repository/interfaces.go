// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/memberman/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// 見つからない場合はエラーではなくnilを返す（サーバーエラーと区別するため）。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みメールアドレスでユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// UpsertByEmail はメールアドレスでユーザーを取得し、存在しなければ作成する。
	// 初回ログイン要求時の遅延アカウント作成に使用する。
	// 作成時のIDは呼び出し側が採番する。
	UpsertByEmail(ctx context.Context, id, email string) (*model.User, error)

	// FindByCustomerID はStripe顧客IDでユーザーを検索する。見つからない場合はnilを返す。
	FindByCustomerID(ctx context.Context, customerID string) (*model.User, error)

	// SetLoginToken はマジックリンクトークンのハッシュと有効期限を設定する。
	// 既存の未消費トークンは上書きされる（ユーザーごとに高々1つ）。
	SetLoginToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error

	// ClearLoginToken はマジックリンクトークンのフィールドをクリアする。
	// メール送信失敗時のロールバックに使用する。
	ClearLoginToken(ctx context.Context, userID string) error

	// ConsumeLoginToken はハッシュが一致しexpires_at > now()の未消費トークンを
	// アトミックに比較・クリアし、該当ユーザーを返す。
	// 単一のUPDATE文で行うため、同一トークンの同時消費は高々1回しか成功しない。
	// 一致しない場合はnilを返す。
	ConsumeLoginToken(ctx context.Context, tokenHash string) (*model.User, error)

	// SetRole はユーザーのロールを絶対値で設定する。
	// Webhookの重複・順序逆転配信に耐えるため、相対遷移は提供しない。
	SetRole(ctx context.Context, userID string, role model.Role) error

	// SetCustomerID はStripe顧客IDをユーザーに紐付ける。
	SetCustomerID(ctx context.Context, userID, customerID string) error
}

// RefreshTokenRepository はリフレッシュトークンの永続化インターフェース。
type RefreshTokenRepository interface {
	// Create はリフレッシュトークンのハッシュを追加する。
	Create(ctx context.Context, token *model.RefreshToken) error

	// FindUserByTokenHash はハッシュが一致しexpires_at > now()のトークンを持つ
	// ユーザーを検索する。期限切れレコードは未削除でも決して一致しない。
	// 見つからない場合はnilを返す。
	FindUserByTokenHash(ctx context.Context, tokenHash string) (*model.User, error)

	// DeleteByUserID は指定ユーザーの全リフレッシュトークンを削除する。
	// ログアウト時に使用する。
	DeleteByUserID(ctx context.Context, userID string) error

	// DeleteExpired は期限切れトークンを物理削除する。クリーンアップ用。
	DeleteExpired(ctx context.Context) (int64, error)
}

// ProductRepository は商品データの永続化インターフェース。
type ProductRepository interface {
	// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Product, error)
}

// PurchaseRepository は購入履歴の永続化インターフェース。
type PurchaseRepository interface {
	// Create は購入履歴を作成する。stripe_event_idが既存の場合は何もせず
	// falseを返す（Webhook重複配信の冪等化）。
	Create(ctx context.Context, purchase *model.Purchase) (bool, error)

	// ListByUserID はユーザーの購入履歴を作成日時降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Purchase, error)
}
