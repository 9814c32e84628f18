// Package config loads application configuration from an optional file,
// defaults, and environment variables.
//
// PRECEDENCE (highest first):
//  1. Environment: TASKMANAGER_<SECTION>_<KEY>, e.g. TASKMANAGER_AUTH_JWT_SECRET.
//     The older unprefixed PORT, DB_PATH and JWT_SECRET are still honoured.
//  2. Config file passed with --config (YAML, JSON or TOML by extension).
//  3. Defaults below.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "TASKMANAGER"

type Config struct {
	Port      int    `mapstructure:"port"`
	DBPath    string `mapstructure:"db_path"`
	BaseURL   string `mapstructure:"base_url"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Auth      AuthConfig      `mapstructure:"auth"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type AuthConfig struct {
	JWTSecret                string        `mapstructure:"jwt_secret"`
	SessionTTL               time.Duration `mapstructure:"session_ttl"`
	RequireEmailVerification bool          `mapstructure:"require_email_verification"`
	SecureCookies            bool          `mapstructure:"secure_cookies"`
	// CSRFKey must be 32 bytes when set. Empty derives a key from JWTSecret.
	CSRFKey string `mapstructure:"csrf_key"`
}

// SMTPConfig configures verification mail. An empty Host disables sending;
// the verification link is logged instead.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// RedisConfig is only needed for login rate limiting. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitConfig is a token bucket per login email.
type RateLimitConfig struct {
	LoginRate  float64 `mapstructure:"login_rate"`  // tokens per second
	LoginBurst float64 `mapstructure:"login_burst"` // bucket capacity
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "data/tasks.db")
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.session_ttl", 24*time.Hour)
	v.SetDefault("auth.require_email_verification", false)
	v.SetDefault("auth.secure_cookies", false)
	v.SetDefault("auth.csrf_key", "")

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "no-reply@localhost")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("rate_limit.login_rate", 0.2)
	v.SetDefault("rate_limit.login_burst", 5)
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy variable names from the single-binary days.
	for key, legacy := range map[string]string{
		"port":            "PORT",
		"db_path":         "DB_PATH",
		"auth.jwt_secret": "JWT_SECRET",
	} {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("config: binding %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &cfg, nil
}

// Validate checks the values the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path must be set"))
	}
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 characters"))
	}
	if c.Auth.CSRFKey != "" && len(c.Auth.CSRFKey) != 32 {
		errs = append(errs, errors.New("auth.csrf_key must be exactly 32 bytes"))
	}
	if c.RateLimit.LoginRate < 0 || c.RateLimit.LoginBurst < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel maps LogLevel to a slog.Level, defaulting to Info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// SMTPEnabled reports whether verification mail should go out over SMTP.
func (c *Config) SMTPEnabled() bool {
	return c.SMTP.Host != ""
}

// RedisEnabled reports whether a Redis server is configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}
