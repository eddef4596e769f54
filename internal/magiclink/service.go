// Package magiclink はパスワードレスログイン（マジックリンク）の
// トークン発行・配送・検証を提供する。
package magiclink

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/memberman/internal/model"
	"github.com/hitoshi/memberman/internal/repository"
	"github.com/hitoshi/memberman/internal/token"
)

// サービスのセンチネルエラー。
var (
	// ErrInvalidOrExpiredToken はトークンの不一致・期限切れ・消費済みを示す。
	// どれに該当したかは意図的に区別しない。
	ErrInvalidOrExpiredToken = errors.New("login token is invalid or expired")
	// ErrDeliveryFailed はメール配送の失敗を示す。
	// ペンディングトークンはロールバック済みであることを保証する。
	ErrDeliveryFailed = errors.New("failed to deliver login link")
	// ErrInvalidEmail はメールアドレスの形式不正を示す。
	ErrInvalidEmail = errors.New("invalid email address")
)

// Notifier はトランザクショナルメール配送のインターフェース。
// 失敗が成功と区別できることだけを要求する。
type Notifier interface {
	Send(ctx context.Context, recipient, templateID string, templateData map[string]string) error
}

// ServiceConfig はマジックリンクサービスの設定。
type ServiceConfig struct {
	BaseURL       string        // リンクの起点となるフロントエンドURL
	LoginTokenTTL time.Duration // トークンの有効期間
	TemplateID    string        // SendGridのダイナミックテンプレートID
}

// Service はマジックリンクログインのビジネスロジックを提供する。
// ユーザーごとの状態機械は 未発行 → 発行済み → 消費済み（または期限切れ）で、
// 期限切れは照合失敗として遅延評価される。
type Service struct {
	userRepo repository.UserRepository
	notifier Notifier
	config   ServiceConfig
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, notifier Notifier, config ServiceConfig) *Service {
	return &Service{
		userRepo: userRepo,
		notifier: notifier,
		config:   config,
	}
}

// RequestLogin はメールアドレス宛のワンタイムログインリンクを発行・配送する。
// アカウントが存在しない場合はこの時点で作成する（登録ステップは存在しない）。
// 配送に失敗した場合はペンディングトークンをクリアし、ErrDeliveryFailedを返す。
// 呼び出し側はアカウントの有無に関わらず同一の応答を返すこと。
func (s *Service) RequestLogin(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return ErrInvalidEmail
	}

	// 1. 遅延アカウント作成（emailのユニーク制約を前提としたupsert）
	user, err := s.userRepo.UpsertByEmail(ctx, uuid.New().String(), email)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	// 2. トークンを発行し、ハッシュのみ保存
	raw, err := generateLoginToken()
	if err != nil {
		return fmt.Errorf("failed to generate login token: %w", err)
	}

	expiresAt := time.Now().Add(s.config.LoginTokenTTL)
	if err := s.userRepo.SetLoginToken(ctx, user.ID, token.HashToken(raw), expiresAt); err != nil {
		return fmt.Errorf("failed to store login token: %w", err)
	}

	// 3. 生トークンを埋め込んだコールバックURLをメールで配送
	loginURL := fmt.Sprintf("%s/verify#loginToken=%s", strings.TrimRight(s.config.BaseURL, "/"), raw)

	if err := s.notifier.Send(ctx, email, s.config.TemplateID, map[string]string{"url": loginURL}); err != nil {
		// ユーザーに届かなかった有効トークンを残さない
		if clearErr := s.userRepo.ClearLoginToken(ctx, user.ID); clearErr != nil {
			slog.Error("failed to roll back pending login token",
				slog.String("user_id", user.ID),
				slog.String("error", clearErr.Error()),
			)
		}
		slog.Error("login link delivery failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return ErrDeliveryFailed
	}

	slog.Info("login link sent", slog.String("user_id", user.ID))
	return nil
}

// VerifyLogin は生のログイントークンを検証し、該当ユーザーを返す。
// 照合はハッシュとexpires_at > now()で行い、一致した場合は
// 同一文内でトークンをクリアする（シングルユース、競合下でも高々1回）。
// 不一致の場合、存在しなかったのか期限切れなのかは開示しない。
func (s *Service) VerifyLogin(ctx context.Context, rawToken string) (*model.User, error) {
	if rawToken == "" {
		return nil, ErrInvalidOrExpiredToken
	}

	user, err := s.userRepo.ConsumeLoginToken(ctx, token.HashToken(rawToken))
	if err != nil {
		return nil, fmt.Errorf("failed to consume login token: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidOrExpiredToken
	}

	slog.Info("login link verified", slog.String("user_id", user.ID))
	return user, nil
}

// NormalizeEmail はメールアドレスを検証し、小文字化・前後空白除去して返す。
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return "", fmt.Errorf("email is empty")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("malformed email: %w", err)
	}
	return email, nil
}

// generateLoginToken は暗号的に安全な32バイトのランダムトークンを生成する。
func generateLoginToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
