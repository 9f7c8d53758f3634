package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Crypto    CryptoConfig
	Stripe    StripeConfig
	Supabase  SupabaseConfig
	Provision ProvisionConfig
	Sweep     SweepConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Secure    SecureConfig
	Audit     AuditConfig
}

type ServerConfig struct {
	Port    string
	BaseURL string `validate:"required,url"`
}

type DatabaseConfig struct {
	URL string `validate:"required"`
}

type CryptoConfig struct {
	// EncryptionKey is 32 bytes, hex-encoded. Shared with the sweeper; the
	// AEAD envelope is the interop contract between them.
	EncryptionKey string `validate:"required,len=64,hexadecimal"`
}

type StripeConfig struct {
	SecretKeyTest string
	SecretKeyLive string
	ClientIDTest  string
	ClientIDLive  string
	// SigningSecrets is the comma-separated STRIPE_APP_SIGNING_SECRET list,
	// newest first, to support rotation.
	SigningSecrets []string
	TokenURL       string
	AuthorizeURL   string
	APIVersion     string
}

type SupabaseConfig struct {
	AccessToken    string `validate:"required"`
	OrganizationID string `validate:"required"`
	Region         string
	APIURL         string
}

type ProvisionConfig struct {
	WaitDatabaseReadyTimeout time.Duration
}

type SweepConfig struct {
	Concurrency  int
	BatchLimit   int
	ExpiryWindow time.Duration
}

type RedisConfig struct {
	URL string
}

type RateLimitConfig struct {
	// RatePerIP as "100-M"; empty disables.
	RatePerIP string
}

type SecureConfig struct {
	IsDevelopment bool
}

type AuditConfig struct {
	WebhookURL string
}

func Load() (*Config, error) {
	viper.AutomaticEnv()
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		viper.SetConfigFile(p)
		_ = viper.ReadInConfig()
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:    getEnvOrDefault("PORT", "8080"),
			BaseURL: viper.GetString("BASE_URL"),
		},
		Database: DatabaseConfig{
			URL: viper.GetString("DATABASE_URL"),
		},
		Crypto: CryptoConfig{
			EncryptionKey: viper.GetString("ENCRYPTION_KEY"),
		},
		Stripe: StripeConfig{
			SecretKeyTest:  viper.GetString("STRIPE_SECRET_KEY_TEST"),
			SecretKeyLive:  viper.GetString("STRIPE_SECRET_KEY_LIVE"),
			ClientIDTest:   viper.GetString("STRIPE_APP_CLIENT_ID_TEST"),
			ClientIDLive:   viper.GetString("STRIPE_APP_CLIENT_ID_LIVE"),
			SigningSecrets: splitSecrets(viper.GetString("STRIPE_APP_SIGNING_SECRET")),
			TokenURL:       getEnvOrDefault("STRIPE_OAUTH_TOKEN_URL", "https://api.stripe.com/v1/oauth/token"),
			AuthorizeURL:   getEnvOrDefault("STRIPE_AUTHORIZE_URL", "https://marketplace.stripe.com/oauth/v2/authorize"),
			APIVersion:     viper.GetString("STRIPE_API_VERSION"),
		},
		Supabase: SupabaseConfig{
			AccessToken:    viper.GetString("SUPABASE_ACCESS_TOKEN"),
			OrganizationID: viper.GetString("SUPABASE_ORGANIZATION_ID"),
			Region:         getEnvOrDefault("SUPABASE_REGION", "us-east-1"),
			APIURL:         getEnvOrDefault("SUPABASE_API_URL", "https://api.supabase.com"),
		},
		Provision: ProvisionConfig{
			WaitDatabaseReadyTimeout: time.Duration(viper.GetInt64("PROVISIONING_WAIT_DATABASE_READY_TIMEOUT_MS")) * time.Millisecond,
		},
		Sweep: SweepConfig{
			Concurrency:  viper.GetInt("SWEEP_CONCURRENCY"),
			BatchLimit:   viper.GetInt("SWEEP_BATCH_LIMIT"),
			ExpiryWindow: time.Duration(viper.GetInt("SWEEP_EXPIRY_WINDOW_MIN")) * time.Minute,
		},
		Redis: RedisConfig{
			URL: viper.GetString("REDIS_URL"),
		},
		RateLimit: RateLimitConfig{
			RatePerIP: viper.GetString("RATE_LIMIT_PER_IP"),
		},
		Secure: SecureConfig{
			IsDevelopment: viper.GetBool("SECURE_DEV"),
		},
		Audit: AuditConfig{
			WebhookURL: viper.GetString("AUDIT_WEBHOOK_URL"),
		},
	}
	if cfg.Provision.WaitDatabaseReadyTimeout <= 0 {
		cfg.Provision.WaitDatabaseReadyTimeout = 10 * time.Minute
	}
	if cfg.Sweep.Concurrency <= 0 {
		cfg.Sweep.Concurrency = 5
	}
	if cfg.Sweep.BatchLimit <= 0 {
		cfg.Sweep.BatchLimit = 200
	}
	if cfg.Sweep.ExpiryWindow <= 0 {
		cfg.Sweep.ExpiryWindow = 35 * time.Minute
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Stripe.SecretKeyTest == "" && cfg.Stripe.SecretKeyLive == "" {
		return nil, fmt.Errorf("at least one of STRIPE_SECRET_KEY_TEST, STRIPE_SECRET_KEY_LIVE is required")
	}
	return cfg, nil
}

func splitSecrets(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
