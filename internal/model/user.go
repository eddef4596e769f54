// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーのエンタイトルメント（アクセス階層）を表す。
// ロールはStripeのサブスクリプション状態から導出され、
// 汎用の更新エンドポイントから直接変更されることはない。
type Role string

const (
	// RoleUser は無課金の通常ユーザー。
	RoleUser Role = "user"
	// RolePro は有効なサブスクリプションを持つユーザー。
	RolePro Role = "pro"
	// RoleAdmin は管理者。
	RoleAdmin Role = "admin"
)

// User はサービス利用ユーザーを表す。
// 初回のマジックリンク要求時に暗黙的に作成される（事前登録は不要）。
type User struct {
	ID    string
	Email string
	Role  Role

	// CustomerID はStripeの顧客ID。初回チェックアウトまでは空。
	CustomerID string

	// LoginTokenHash は発行済みマジックリンクトークンのSHA-256ハッシュ。
	// 未発行または消費済みの場合は空。ユーザーごとに高々1つ。
	LoginTokenHash      string
	LoginTokenExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RefreshToken は1つのセッション系列を表す。
// 生のトークン値は保存せず、SHA-256ハッシュのみを保持する。
// マルチデバイス対応のためユーザーごとに複数共存できる。
// 失効は明示的なログアウト（全削除）か自然期限切れ（遅延評価）のみ。
type RefreshToken struct {
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}
