package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "LMBROKER_"

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, LMBROKER_CONFIG env, ./config.yaml, /etc/lmbroker/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if filePath := discoverConfigFile(configPath); filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile returns the first of: the explicit path,
// LMBROKER_CONFIG, ./config.yaml, /etc/lmbroker/config.yaml. Returns ""
// when none exists.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv(EnvPrefix + "CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"config.yaml", "/etc/lmbroker/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile parses a YAML file over cfg. Fields absent from the file
// keep their current values. Unknown keys are rejected.
func loadYAMLFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// envBinding maps one environment variable onto a config field.
type envBinding struct {
	name  string
	apply func(string) error
}

func stringVar(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func intVar(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func int64Var(dst *int64) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func boolVar(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func durationVar(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func listVar(dst *[]string) func(string) error {
	return func(v string) error {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
		return nil
	}
}

func bindings(cfg *Config) []envBinding {
	return []envBinding{
		{"PORT", intVar(&cfg.Server.Port)},
		{"READ_TIMEOUT", durationVar(&cfg.Server.ReadTimeout)},
		{"SHUTDOWN_TIMEOUT", durationVar(&cfg.Server.ShutdownTimeout)},
		{"KEEP_ALIVE", durationVar(&cfg.Server.KeepAlive)},
		{"MAX_BODY_SIZE", int64Var(&cfg.Server.MaxBodySize)},

		{"PROVIDER", stringVar(&cfg.Engine.Provider)},
		{"BACKEND_URL", stringVar(&cfg.Engine.BackendURL)},
		{"API_KEY", stringVar(&cfg.Engine.APIKey)},
		{"MODEL", stringVar(&cfg.Engine.Model)},
		{"TAGGING_MODEL", stringVar(&cfg.Engine.TaggingModel)},
		{"ENGINE_TIMEOUT", durationVar(&cfg.Engine.Timeout)},

		{"SECURITY_POLICY", stringVar(&cfg.Security.Policy)},
		{"MAX_PROMPT_LENGTH", intVar(&cfg.Security.MaxPromptLength)},

		{"SUPPORTED_OS", listVar(&cfg.Platform.SupportedOS)},

		{"STORAGE", stringVar(&cfg.Storage.Type)},
		{"STORAGE_SIZE", intVar(&cfg.Storage.MaxSize)},
		{"POSTGRES_DSN", stringVar(&cfg.Storage.Postgres.DSN)},
		{"POSTGRES_MIGRATE", boolVar(&cfg.Storage.Postgres.MigrateOnStart)},

		{"AUTH_TYPE", stringVar(&cfg.Auth.Type)},
		{"API_KEYS", func(v string) error {
			var keys []APIKeyConfig
			if err := json.Unmarshal([]byte(v), &keys); err != nil {
				return err
			}
			cfg.Auth.APIKeys = keys
			return nil
		}},
		{"JWT_SECRET", stringVar(&cfg.Auth.JWT.Secret)},
		{"JWT_ISSUER", stringVar(&cfg.Auth.JWT.Issuer)},
		{"JWT_AUDIENCE", stringVar(&cfg.Auth.JWT.Audience)},
		{"RATE_LIMIT_RPM", intVar(&cfg.Auth.RateLimit.DefaultRPM)},

		{"METRICS_ENABLED", boolVar(&cfg.Observability.Metrics.Enabled)},
		{"LOG_FORMAT", stringVar(&cfg.Debug.Format)},
	}
}

// applyEnvOverrides applies LMBROKER_* variables. A malformed value is an
// error naming the variable. LMBROKER_DEBUG and LMBROKER_LOG_LEVEL are
// read by the debug package directly.
func applyEnvOverrides(cfg *Config) error {
	for _, b := range bindings(cfg) {
		name := EnvPrefix + b.name
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		slog.Debug("config override from environment", "variable", name)
	}
	return nil
}

type secretRef struct {
	path  string
	file  string
	value *string
}

// resolveFileReferences fills each secret from its _file companion when
// the secret itself is empty. File content is trimmed of surrounding
// whitespace.
func resolveFileReferences(cfg *Config) error {
	refs := []secretRef{
		{"engine.api_key_file", cfg.Engine.APIKeyFile, &cfg.Engine.APIKey},
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
		{"auth.jwt.secret_file", cfg.Auth.JWT.SecretFile, &cfg.Auth.JWT.Secret},
	}
	for i := range cfg.Auth.APIKeys {
		refs = append(refs, secretRef{fmt.Sprintf("auth.api_keys[%d].key_file", i), cfg.Auth.APIKeys[i].KeyFile, &cfg.Auth.APIKeys[i].Key})
	}

	for _, ref := range refs {
		if ref.file == "" || *ref.value != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.path, err)
		}
		*ref.value = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
