package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize))
	}
	if c.Server.KeepAlive <= 0 {
		errs = append(errs, fmt.Errorf("server.keep_alive must be > 0, got %v", c.Server.KeepAlive))
	}

	switch c.Engine.Provider {
	case "openaicompat":
	default:
		errs = append(errs, fmt.Errorf("engine.provider must be \"openaicompat\", got %q", c.Engine.Provider))
	}
	if c.Engine.BackendURL == "" {
		errs = append(errs, errors.New("engine.backend_url is required"))
	} else if u, err := url.Parse(c.Engine.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("engine.backend_url must be an absolute URL, got %q", c.Engine.BackendURL))
	}
	if c.Engine.Model == "" {
		errs = append(errs, errors.New("engine.model is required"))
	}

	switch c.Security.Policy {
	case "permissive", "strict":
	default:
		errs = append(errs, fmt.Errorf("security.policy must be \"permissive\" or \"strict\", got %q", c.Security.Policy))
	}

	for i, goos := range c.Platform.SupportedOS {
		if strings.TrimSpace(goos) == "" {
			errs = append(errs, fmt.Errorf("platform.supported_os[%d] is empty", i))
		}
	}

	switch c.Storage.Type {
	case "none", "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, errors.New("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"none\", \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}
	if c.Storage.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("storage.max_size must be >= 0, got %d", c.Storage.MaxSize))
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, errors.New("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d]: key or key_file is required", i))
			}
			if k.Subject == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].subject is required", i))
			}
		}
	case "jwt":
		if c.Auth.JWT.Secret == "" && c.Auth.JWT.SecretFile == "" {
			errs = append(errs, errors.New("auth.jwt.secret or auth.jwt.secret_file is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\" or \"jwt\", got %q", c.Auth.Type))
	}
	if c.Auth.RateLimit.DefaultRPM < 0 {
		errs = append(errs, fmt.Errorf("auth.rate_limit.default_rpm must be >= 0, got %d", c.Auth.RateLimit.DefaultRPM))
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
	}

	switch strings.ToLower(c.Debug.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("debug.format must be \"text\" or \"json\", got %q", c.Debug.Format))
	}

	return errors.Join(errs...)
}
