package config

import (
	"testing"
	"time"
)

// 必須環境変数がすべて設定されている場合にLoadが成功することを検証
func TestLoad_AllRequiredSet_Succeeds(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DatabaseURL != "postgres://localhost:5432/memberman" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.JWTSecret != "test-jwt-secret" {
		t.Errorf("JWTSecret = %q", cfg.JWTSecret)
	}
}

// 必須環境変数の欠落時にLoadがエラーを返すことを検証
func TestLoad_MissingRequired_ReturnsError(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing JWT_SECRET")
	}
}

// 任意項目のデフォルト値を検証
func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AccessTokenTTL != 30*time.Minute {
		t.Errorf("AccessTokenTTL = %v, want 30m", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 7*24*time.Hour {
		t.Errorf("RefreshTokenTTL = %v, want 168h", cfg.RefreshTokenTTL)
	}
	if cfg.LoginTokenTTL != 10*time.Minute {
		t.Errorf("LoginTokenTTL = %v, want 10m", cfg.LoginTokenTTL)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
}

// BaseURLがhttpsの場合にCookieSecureが有効になることを検証
func TestLoad_CookieSecure_FollowsBaseURLScheme(t *testing.T) {
	setRequiredEnv(t)

	cfg, _ := Load()
	if cfg.CookieSecure {
		t.Error("CookieSecure should be false for http BaseURL")
	}

	t.Setenv("BASE_URL", "https://app.example.com")
	cfg, _ = Load()
	if !cfg.CookieSecure {
		t.Error("CookieSecure should be true for https BaseURL")
	}
}

// TTLの環境変数上書きを検証
func TestLoad_TTLOverride(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOGIN_TOKEN_TTL", "5m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LoginTokenTTL != 5*time.Minute {
		t.Errorf("LoginTokenTTL = %v, want 5m", cfg.LoginTokenTTL)
	}
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/memberman")
	t.Setenv("JWT_SECRET", "test-jwt-secret")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_xxx")
	t.Setenv("STRIPE_WH_SECRET", "whsec_xxx")
	t.Setenv("SENDGRID_API_KEY", "SG.xxx")
	t.Setenv("BASE_URL", "http://localhost:3000")
}
