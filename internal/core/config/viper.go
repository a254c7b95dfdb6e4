package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*ServerConfig, error) {
	v := viper.New()

	// Set defaults matching DefaultServerConfig
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.database_url", "sqlite://./structprod.db")
	v.SetDefault("server.redis_url", "")
	v.SetDefault("server.cache_ttl", "15m")
	v.SetDefault("server.eval_workers", 8)

	// Bind environment variables with SP_ prefix
	v.SetEnvPrefix("SP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Security check: reject credentials in config files
		// Passwords must be environment-only
		if err := validateNoSecretsInConfig(v); err != nil {
			return nil, err
		}
	}

	cfg := &ServerConfig{
		Host:           v.GetString("server.host"),
		Port:           v.GetInt("server.port"),
		RequestTimeout: v.GetDuration("server.request_timeout"),
		DatabaseURL:    v.GetString("server.database_url"),
		RedisURL:       v.GetString("server.redis_url"),
		CacheTTL:       v.GetDuration("server.cache_ttl"),
		EvalWorkers:    v.GetInt("server.eval_workers"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateNoSecretsInConfig rejects connection URLs with embedded passwords
// when they come from a config file. Use SP_SERVER_DATABASE_URL or
// SP_SERVER_REDIS_URL instead.
func validateNoSecretsInConfig(v *viper.Viper) error {
	for _, key := range []string{"server.database_url", "server.redis_url"} {
		if !v.InConfig(key) {
			continue
		}
		u, err := url.Parse(v.GetString(key))
		if err != nil || u.User == nil {
			continue
		}
		if _, has := u.User.Password(); has {
			return fmt.Errorf("%s: passwords not allowed in config files (use the SP_* environment variable)", key)
		}
	}
	return nil
}

// validateConfig checks port range and positive values for timeout, cache
// TTL and worker count.
func validateConfig(cfg *ServerConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.RequestTimeout)
	}
	if cfg.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive, got %v", cfg.CacheTTL)
	}
	if cfg.EvalWorkers <= 0 {
		return fmt.Errorf("eval_workers must be positive, got %d", cfg.EvalWorkers)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database_url must not be empty")
	}
	return nil
}
