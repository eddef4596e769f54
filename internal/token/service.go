// Package token はアクセストークンの発行・検証と
// リフレッシュトークンの発行・消費を提供する。
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/memberman/internal/model"
	"github.com/hitoshi/memberman/internal/repository"
)

// サービスのセンチネルエラー。ハンドラー側でHTTPステータスに対応付ける。
var (
	// ErrInvalidAccessToken は署名不正・形式不正のアクセストークンを示す。
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrExpiredAccessToken は期限切れのアクセストークンを示す。
	ErrExpiredAccessToken = errors.New("expired access token")
	// ErrRefreshTokenNotFound は有効なリフレッシュトークンが存在しないことを示す。
	// 期限切れと未登録は区別しない。
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
)

// Claims はアクセストークンのJWTクレーム。subにユーザーIDを載せる。
type Claims struct {
	jwt.RegisteredClaims
}

// ServiceConfig はトークンサービスの設定。
type ServiceConfig struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// Service はアクセス・リフレッシュ両トークンに関するロジックを提供する。
// HTTPやCookieには一切関与しない。
type Service struct {
	refreshRepo repository.RefreshTokenRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(refreshRepo repository.RefreshTokenRepository, config ServiceConfig) *Service {
	return &Service{
		refreshRepo: refreshRepo,
		config:      config,
	}
}

// IssueAccessToken はユーザーIDを主張する署名付きアクセストークンを発行する。
// HS256で署名し、有効期限は設定のAccessTokenTTL。副作用はない。
func (s *Service) IssueAccessToken(userID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.AccessTokenTTL)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken はアクセストークンの署名と有効期限のみを検証し、
// ユーザーIDを返す。ストアには一切アクセスしない。
func (s *Service) VerifyAccessToken(raw string) (string, error) {
	tok, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredAccessToken
		}
		return "", ErrInvalidAccessToken
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid || claims.Subject == "" {
		return "", ErrInvalidAccessToken
	}
	return claims.Subject, nil
}

// IssueRefreshToken は暗号的に安全なランダム値を生成し、
// そのSHA-256ハッシュと有効期限のみをストアに追加して、生の値を返す。
// 生の値はログにも永続化層にも残してはならない。
func (s *Service) IssueRefreshToken(ctx context.Context, user *model.User) (string, error) {
	raw, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}

	now := time.Now()
	err = s.refreshRepo.Create(ctx, &model.RefreshToken{
		UserID:    user.ID,
		TokenHash: HashToken(raw),
		ExpiresAt: now.Add(s.config.RefreshTokenTTL),
		CreatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return raw, nil
}

// ConsumeRefreshToken は生のリフレッシュトークンをハッシュ化し、
// expires_at > now()でフィルタした上で該当ユーザーを返す。
// 期限切れレコードは未削除でも決して有効扱いにならない。
// このポリシーではリフレッシュトークン自体は回転させず、
// 呼び出し側が新しいアクセストークンのみを発行する。
func (s *Service) ConsumeRefreshToken(ctx context.Context, raw string) (*model.User, error) {
	user, err := s.refreshRepo.FindUserByTokenHash(ctx, HashToken(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to look up refresh token: %w", err)
	}
	if user == nil {
		return nil, ErrRefreshTokenNotFound
	}
	return user, nil
}

// RevokeAll はユーザーの全リフレッシュトークンを失効させる。ログアウト用。
func (s *Service) RevokeAll(ctx context.Context, userID string) error {
	if err := s.refreshRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return nil
}

// AccessTokenTTL はアクセストークンの有効期間を返す。Cookieの期限設定用。
func (s *Service) AccessTokenTTL() time.Duration {
	return s.config.AccessTokenTTL
}

// RefreshTokenTTL はリフレッシュトークンの有効期間を返す。Cookieの期限設定用。
func (s *Service) RefreshTokenTTL() time.Duration {
	return s.config.RefreshTokenTTL
}

// HashToken はトークンの一方向ハッシュ（SHA-256、16進表現）を返す。
// ストアにはこの値のみを保存する。ハッシュでの逆引きが必要なため、
// ソルト付きKDFではなく決定的ハッシュを使う。
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// generateToken は暗号的に安全な32バイトのランダムトークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
