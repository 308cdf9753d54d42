// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// セッションバックエンドの種別。
const (
	SessionBackendPostgres = "postgres"
	SessionBackendRedis    = "redis"
)

// ドキュメントストアの種別。
const (
	DocstoreBackendPostgres = "postgres"
	DocstoreBackendMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL     string
	DocstoreBackend string

	// OAuth（未設定の場合フェデレーションサインインは無効）
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionMaxAge         int
	SessionBackend        string
	RedisURL              string
	SessionResolveTimeout time.Duration
	SessionResolveRetry   time.Duration
	StateDir              string

	// Identity provider
	ProviderTimeout     time.Duration
	PopupTimeout        time.Duration
	SignInRatePerMinute int

	// Collection sync
	TimestampWireFormat string

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort string
	BaseURL    string
}

// FederationEnabled はGoogleサインインに必要な資格情報が揃っているかを返す。
func (c *Config) FederationEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または列挙値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL", cfg.BaseURL+"/auth/google/callback")

	cfg.DocstoreBackend = getEnvString("DOCSTORE_BACKEND", DocstoreBackendPostgres)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 2592000)
	cfg.SessionBackend = getEnvString("SESSION_BACKEND", SessionBackendPostgres)
	cfg.RedisURL = getEnvString("REDIS_URL", "redis://localhost:6379/0")
	cfg.SessionResolveTimeout = getEnvDuration("SESSION_RESOLVE_TIMEOUT", 5*time.Second)
	cfg.SessionResolveRetry = getEnvDuration("SESSION_RESOLVE_RETRY", 100*time.Millisecond)
	cfg.StateDir = getEnvString("STATE_DIR", ".planner")
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.PopupTimeout = getEnvDuration("POPUP_TIMEOUT", 2*time.Minute)
	cfg.SignInRatePerMinute = getEnvInt("SIGNIN_RATE_PER_MINUTE", 10)
	cfg.TimestampWireFormat = getEnvString("TIMESTAMP_WIRE_FORMAT", "rfc3339")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は列挙値の設定を検証する。
func (c *Config) validate() error {
	switch c.SessionBackend {
	case SessionBackendPostgres, SessionBackendRedis:
	default:
		return fmt.Errorf("invalid SESSION_BACKEND: %q (allowed: postgres, redis)", c.SessionBackend)
	}

	switch c.DocstoreBackend {
	case DocstoreBackendPostgres, DocstoreBackendMemory:
	default:
		return fmt.Errorf("invalid DOCSTORE_BACKEND: %q (allowed: postgres, memory)", c.DocstoreBackend)
	}

	switch c.TimestampWireFormat {
	case "rfc3339", "epoch_millis", "native":
	default:
		return fmt.Errorf("invalid TIMESTAMP_WIRE_FORMAT: %q (allowed: rfc3339, epoch_millis, native)", c.TimestampWireFormat)
	}

	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
