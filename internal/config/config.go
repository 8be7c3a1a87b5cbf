package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はAPIサーバーの設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Google ID token
	GoogleClientID string
	GoogleIssuer   string
	GoogleJWKSURL  string

	// Rate Limit
	RateLimitMutation int // 1ユーザーあたりの変更系リクエスト数（req/min）

	// Realtime
	EventBufferSize int

	// Pins
	RecentWindow time.Duration

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// ClientConfig はヘッドレスクライアント（watchコマンド）の設定を保持する。
type ClientConfig struct {
	APIBaseURL string
	AuthToken  string

	// 画像アップロード先（任意）
	UploadURL       string
	UploadPreset    string
	UploadCloudName string
	UploadTimeout   time.Duration

	ReconnectMaxDelay time.Duration
	RecentWindow      time.Duration
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.GoogleIssuer = getEnvString("GOOGLE_ISSUER", "https://accounts.google.com")
	cfg.GoogleJWKSURL = getEnvString("GOOGLE_JWKS_URL", "https://www.googleapis.com/oauth2/v3/certs")
	cfg.RateLimitMutation = getEnvInt("RATE_LIMIT_MUTATION", 30)
	cfg.EventBufferSize = getEnvInt("EVENT_BUFFER_SIZE", 256)
	cfg.RecentWindow = getEnvDuration("RECENT_WINDOW", 30*time.Minute)
	cfg.ServerPort = getEnvString("SERVER_PORT", "4000")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// LoadClient は環境変数からClientConfigを読み込む。
// API_BASE_URLが未設定の場合はエラーを返す。
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{}

	cfg.APIBaseURL = os.Getenv("API_BASE_URL")
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: %v", []string{"API_BASE_URL"})
	}

	cfg.AuthToken = getEnvString("AUTH_TOKEN", "")
	cfg.UploadURL = getEnvString("UPLOAD_URL", "")
	cfg.UploadPreset = getEnvString("UPLOAD_PRESET", "geopins")
	cfg.UploadCloudName = getEnvString("UPLOAD_CLOUD_NAME", "")
	cfg.UploadTimeout = getEnvDuration("UPLOAD_TIMEOUT", 30*time.Second)
	cfg.ReconnectMaxDelay = getEnvDuration("RECONNECT_MAX_DELAY", 32*time.Second)
	cfg.RecentWindow = getEnvDuration("RECENT_WINDOW", 30*time.Minute)

	return cfg, nil
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
