package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix is prepended to every environment override
const DefaultEnvPrefix = "CONSOLEGATE_"

// Loader produces a validated Config from defaults, an optional YAML file and the
// environment, in that order of precedence (environment wins).
type Loader struct {
	envPrefix string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader reading the process environment
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// Load loads configuration from path (may be empty) and the environment
func (l *Loader) Load(path string) (*Config, error) {
	config := Defaults()

	if path == "" {
		path = l.env("CONFIG_FILE")
	}
	if path != "" {
		if err := l.loadFile(path, config); err != nil {
			return nil, err
		}
	}

	if err := l.LoadFromEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// loadFile decodes YAML on top of the defaults already in config
func (l *Loader) loadFile(path string, config *Config) error {
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("invalid config path: potential path traversal detected in %s", path)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension: %s", ext)
	}

	// Explicit products replace the default pair rather than merging by index.
	var probe struct {
		Products []Product `yaml:"products"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if len(probe.Products) > 0 {
		config.Products = nil
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// LoadFromEnv overlays CONSOLEGATE_* variables onto config. Secrets such as the
// session keys, client secret and Redis password are normally supplied this way.
func (l *Loader) LoadFromEnv(config *Config) error {
	l.loadEnvString(&config.Server.Addr, "SERVER_ADDR", "ADDR")
	if err := l.loadEnvBool(&config.Server.TrustForwardedPrefix, "SERVER_TRUST_FORWARDED_PREFIX"); err != nil {
		return err
	}
	l.loadEnvString(&config.Logging.Level, "LOG_LEVEL")

	l.loadEnvString(&config.Session.HashKey, "SESSION_KEY", "SESSION_HASH_KEY")
	l.loadEnvString(&config.Session.BlockKey, "SESSION_ENCRYPTION_KEY", "SESSION_BLOCK_KEY")
	l.loadEnvString(&config.Session.PreviousHashKey, "SESSION_PREVIOUS_KEY")
	l.loadEnvString(&config.Session.KeyPrefix, "SESSION_KEY_PREFIX")
	l.loadEnvString(&config.Session.Domain, "SESSION_DOMAIN", "COOKIE_DOMAIN")
	if err := l.loadEnvDuration(&config.Session.TTL, "SESSION_TTL"); err != nil {
		return err
	}
	if err := l.loadEnvBool(&config.Session.Secure, "SESSION_SECURE"); err != nil {
		return err
	}

	l.loadEnvString(&config.Redis.Addr, "REDIS_ADDR")
	l.loadEnvString(&config.Redis.Password, "REDIS_PASSWORD")
	if err := l.loadEnvInt(&config.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}

	l.loadEnvString(&config.Discovery.Mode, "DISCOVERY_MODE")
	l.loadEnvString(&config.Discovery.URL, "DISCOVERY_URL")
	l.loadEnvString(&config.Discovery.ClientID, "CLIENT_ID")
	l.loadEnvString(&config.Discovery.ClientSecret, "CLIENT_SECRET")
	l.loadEnvString(&config.Discovery.Static.AuthPublic, "AUTH_PUBLIC_URL")
	l.loadEnvString(&config.Discovery.Static.AuthAdmin, "AUTH_ADMIN_URL")
	l.loadEnvString(&config.Discovery.Static.UserDirectory, "USER_DIRECTORY_URL")
	l.loadEnvString(&config.Discovery.Static.AuditLog, "AUDIT_LOG_URL")
	l.loadEnvString(&config.Discovery.Static.Observability, "OBSERVABILITY_URL")
	l.loadEnvString(&config.Discovery.Static.Access, "ACCESS_URL")

	l.loadEnvStringSlice(&config.OAuth.Scopes, "OAUTH_SCOPES", "SCOPES")

	if err := l.loadEnvBool(&config.RateLimit.Enabled, "RATELIMIT_ENABLED"); err != nil {
		return err
	}
	if err := l.loadEnvInt(&config.RateLimit.Burst, "RATELIMIT_BURST"); err != nil {
		return err
	}
	if value := l.env("RATELIMIT_RPS"); value != "" {
		rps, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%sRATELIMIT_RPS: %w", l.envPrefix, err)
		}
		config.RateLimit.RequestsPerSecond = rps
	}
	return nil
}

func (l *Loader) env(key string) string {
	value, _ := l.lookupEnv(l.envPrefix + key)
	return value
}

func (l *Loader) first(keys ...string) (string, string) {
	for _, key := range keys {
		if value := l.env(key); value != "" {
			return key, value
		}
	}
	return "", ""
}

func (l *Loader) loadEnvString(target *string, keys ...string) {
	if _, value := l.first(keys...); value != "" {
		*target = value
	}
}

func (l *Loader) loadEnvBool(target *bool, keys ...string) error {
	key, value := l.first(keys...)
	if value == "" {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s%s: %w", l.envPrefix, key, err)
	}
	*target = b
	return nil
}

func (l *Loader) loadEnvInt(target *int, keys ...string) error {
	key, value := l.first(keys...)
	if value == "" {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s%s: %w", l.envPrefix, key, err)
	}
	*target = i
	return nil
}

func (l *Loader) loadEnvDuration(target *time.Duration, keys ...string) error {
	key, value := l.first(keys...)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s%s: %w", l.envPrefix, key, err)
	}
	*target = d
	return nil
}

func (l *Loader) loadEnvStringSlice(target *[]string, keys ...string) {
	if _, value := l.first(keys...); value != "" {
		*target = splitAndTrim(value)
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
