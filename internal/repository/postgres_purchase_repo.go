package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/memberman/internal/model"
)

// PostgresPurchaseRepo はPostgreSQLを使用した購入履歴リポジトリ。
type PostgresPurchaseRepo struct {
	db *sql.DB
}

// NewPostgresPurchaseRepo はPostgresPurchaseRepoを生成する。
func NewPostgresPurchaseRepo(db *sql.DB) *PostgresPurchaseRepo {
	return &PostgresPurchaseRepo{db: db}
}

// Create は購入履歴を作成する。stripe_event_idが既存の場合は
// ON CONFLICT DO NOTHINGにより何もせずfalseを返す（重複配信の冪等化）。
func (r *PostgresPurchaseRepo) Create(ctx context.Context, purchase *model.Purchase) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO purchases (id, user_id, product_id, amount, stripe_event_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (stripe_event_id) DO NOTHING`,
		purchase.ID, purchase.UserID, purchase.ProductID,
		purchase.Amount, purchase.StripeEventID, purchase.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create purchase: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListByUserID はユーザーの購入履歴を作成日時降順で返す。
func (r *PostgresPurchaseRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Purchase, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, product_id, amount, stripe_event_id, created_at
		 FROM purchases
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []*model.Purchase
	for rows.Next() {
		p := &model.Purchase{}
		if err := rows.Scan(&p.ID, &p.UserID, &p.ProductID, &p.Amount, &p.StripeEventID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate purchases: %w", err)
	}

	return purchases, nil
}

// compile-time interface check
var _ PurchaseRepository = (*PostgresPurchaseRepo)(nil)
