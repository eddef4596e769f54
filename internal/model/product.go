package model

import "time"

// Product は販売対象のサブスクリプション商品を表す。
type Product struct {
	ID   string
	Name string

	// StripePriceID はStripe上の価格ID。チェックアウトセッション作成に使用する。
	StripePriceID string

	CreatedAt time.Time
}

// Purchase はチェックアウト完了により記録される購入履歴を表す。
// StripeEventIDのユニーク制約により、Webhookの重複配信でも高々1件しか作られない。
type Purchase struct {
	ID        string
	UserID    string
	ProductID string

	// Amount は支払額（最小通貨単位）。
	Amount int64

	// StripeEventID は購入の起点となったWebhookイベントのID。冪等性キー。
	StripeEventID string

	CreatedAt time.Time
}
