// Package config provides unified configuration for the lmbroker server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (LMBROKER_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the lmbroker server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Engine        EngineConfig        `yaml:"engine"`
	Security      SecurityConfig      `yaml:"security"`
	Platform      PlatformConfig      `yaml:"platform"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
	Debug         DebugConfig         `yaml:"debug"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
	KeepAlive       time.Duration `yaml:"keep_alive"`       // event channel keep-alive, default: 15s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 10MB
}

// EngineConfig selects the language model engine.
type EngineConfig struct {
	Provider     string        `yaml:"provider"`      // "openaicompat", default
	BackendURL   string        `yaml:"backend_url"`   // required
	APIKey       string        `yaml:"api_key"`       // optional
	APIKeyFile   string        `yaml:"api_key_file"`  // _file variant for api_key
	Model        string        `yaml:"model"`         // required
	TaggingModel string        `yaml:"tagging_model"` // defaults to model
	Timeout      time.Duration `yaml:"timeout"`       // default: 120s
	MaxRetries   int           `yaml:"max_retries"`
}

// SecurityConfig selects the prompt validation policy.
type SecurityConfig struct {
	Policy          string `yaml:"policy"`            // "permissive" or "strict", default: "permissive"
	MaxPromptLength int    `yaml:"max_prompt_length"` // strict only, default: 10000
}

// PlatformConfig restricts the operating systems the broker serves on.
type PlatformConfig struct {
	SupportedOS []string `yaml:"supported_os"` // empty: every OS
}

// StorageConfig holds exchange history settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "none", "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 10
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type"`     // "none", "apikey" or "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys"` // for type=apikey
	JWT       JWTConfig       `yaml:"jwt"`      // for type=jwt
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key" json:"key"`
	KeyFile     string `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string `yaml:"subject" json:"subject"`
	TenantID    string `yaml:"tenant_id" json:"tenant_id"`
	ServiceTier string `yaml:"service_tier" json:"service_tier"`
}

// JWTConfig configures HMAC JWT bearer authentication.
type JWTConfig struct {
	Secret      string        `yaml:"secret"`
	SecretFile  string        `yaml:"secret_file"` // _file variant for secret
	Issuer      string        `yaml:"issuer"`
	Audience    string        `yaml:"audience"`
	TenantClaim string        `yaml:"tenant_claim"` // default: "tenant_id"
	TierClaim   string        `yaml:"tier_claim"`   // default: "tier"
	Leeway      time.Duration `yaml:"leeway"`
}

// RateLimitConfig holds per-tier request budgets. A zero DefaultRPM with
// no tiers disables rate limiting.
type RateLimitConfig struct {
	DefaultRPM int                   `yaml:"default_rpm"`
	Tiers      map[string]TierConfig `yaml:"tiers"`
}

// TierConfig is the budget of one service tier.
type TierConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// ObservabilityConfig holds monitoring settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// DebugConfig holds logging settings. LMBROKER_DEBUG and
// LMBROKER_LOG_LEVEL take precedence at runtime.
type DebugConfig struct {
	Categories string `yaml:"categories"` // comma-separated, e.g. "broker,streaming"
	Level      string `yaml:"level"`      // "trace", "debug", "info", "warn", "error"
	Format     string `yaml:"format"`     // "text" or "json", default: "text"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			KeepAlive:       15 * time.Second,
			MaxBodySize:     10 << 20,
		},
		Engine: EngineConfig{
			Provider: "openaicompat",
			Timeout:  120 * time.Second,
		},
		Security: SecurityConfig{
			Policy:          "permissive",
			MaxPromptLength: 10000,
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 10,
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Debug: DebugConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
