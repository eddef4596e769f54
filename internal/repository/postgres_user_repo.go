package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/memberman/internal/model"
)

const userColumns = `id, email, role, customer_id, login_token_hash, login_token_expires_at, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// scanUser は1行分のユーザーをスキャンする。NULL許容列はここで吸収する。
func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var customerID, loginTokenHash sql.NullString
	var loginTokenExpiresAt sql.NullTime

	err := row.Scan(
		&user.ID, &user.Email, &user.Role,
		&customerID, &loginTokenHash, &loginTokenExpiresAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.CustomerID = customerID.String
	user.LoginTokenHash = loginTokenHash.String
	if loginTokenExpiresAt.Valid {
		t := loginTokenExpiresAt.Time
		user.LoginTokenExpiresAt = &t
	}

	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail は正規化済みメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// UpsertByEmail はメールアドレスでユーザーを取得し、存在しなければ作成する。
// emailのユニーク制約を前提に、INSERT ... ON CONFLICTで
// 既存・新規どちらの場合も1文で該当行を返す。
func (r *PostgresUserRepo) UpsertByEmail(ctx context.Context, id, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, role, created_at, updated_at)
		 VALUES ($1, $2, 'user', now(), now())
		 ON CONFLICT (email) DO UPDATE SET updated_at = now()
		 RETURNING `+userColumns,
		id, email,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user by email: %w", err)
	}
	return user, nil
}

// FindByCustomerID はStripe顧客IDでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByCustomerID(ctx context.Context, customerID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE customer_id = $1`,
		customerID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by customer ID: %w", err)
	}
	return user, nil
}

// SetLoginToken はマジックリンクトークンのハッシュと有効期限を設定する。
func (r *PostgresUserRepo) SetLoginToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET login_token_hash = $2, login_token_expires_at = $3, updated_at = now()
		 WHERE id = $1`,
		userID, tokenHash, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set login token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// ClearLoginToken はマジックリンクトークンのフィールドをクリアする。
func (r *PostgresUserRepo) ClearLoginToken(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET login_token_hash = NULL, login_token_expires_at = NULL, updated_at = now()
		 WHERE id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear login token: %w", err)
	}
	return nil
}

// ConsumeLoginToken はハッシュが一致しexpires_at > now()の未消費トークンを
// アトミックに比較・クリアし、該当ユーザーを返す。一致しない場合はnilを返す。
// 単一のUPDATE文のため、同一トークンの同時消費は高々1回しか成功しない。
func (r *PostgresUserRepo) ConsumeLoginToken(ctx context.Context, tokenHash string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET login_token_hash = NULL, login_token_expires_at = NULL, updated_at = now()
		 WHERE login_token_hash = $1 AND login_token_expires_at > now()
		 RETURNING `+userColumns,
		tokenHash,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume login token: %w", err)
	}
	return user, nil
}

// SetRole はユーザーのロールを絶対値で設定する。
func (r *PostgresUserRepo) SetRole(ctx context.Context, userID string, role model.Role) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET role = $2, updated_at = now() WHERE id = $1`,
		userID, role,
	)
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// SetCustomerID はStripe顧客IDをユーザーに紐付ける。
func (r *PostgresUserRepo) SetCustomerID(ctx context.Context, userID, customerID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET customer_id = $2, updated_at = now() WHERE id = $1`,
		userID, customerID,
	)
	if err != nil {
		return fmt.Errorf("failed to set customer ID: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
