// Package config provides the immutable gateway configuration: product profiles,
// session and Redis settings, discovery and rate limiting.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	minSessionKeyLength = 32

	DiscoveryModeStatic = "static"
	DiscoveryModeHTTP   = "http"
)

// Config is the complete gateway configuration. It is produced once by a Loader
// and passed by value or pointer into every component; nothing mutates it afterwards.
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Logging   LoggingConfig     `yaml:"logging"`
	Session   SessionConfig     `yaml:"session"`
	Redis     RedisConfig       `yaml:"redis"`
	Discovery DiscoveryConfig   `yaml:"discovery"`
	OAuth     OAuthConfig       `yaml:"oauth"`
	RateLimit RateLimitConfig   `yaml:"rateLimit"`
	Roles     map[string]string `yaml:"roles"`
	Products  []Product         `yaml:"products"`
}

// ServerConfig configures the HTTP listener of the binary.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
	// TrustForwardedPrefix lets X-Forwarded-Prefix override Product.PathPrefix
	TrustForwardedPrefix bool `yaml:"trustForwardedPrefix"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SessionConfig controls the server-side session record and its id cookie.
type SessionConfig struct {
	// HashKey signs the session id cookie. Required, at least 32 bytes.
	HashKey string `yaml:"hashKey"`
	// BlockKey optionally encrypts the session id cookie (16, 24 or 32 bytes).
	BlockKey string `yaml:"blockKey"`
	// PreviousHashKey keeps cookies signed before a key rotation readable.
	PreviousHashKey string        `yaml:"previousHashKey"`
	KeyPrefix       string        `yaml:"keyPrefix"`
	TTL             time.Duration `yaml:"ttl"`
	Domain          string        `yaml:"domain"`
	Secure          bool          `yaml:"secure"`
}

// DiscoveryConfig selects how the ServiceConfig snapshot is resolved.
type DiscoveryConfig struct {
	Mode string `yaml:"mode"`
	// URL is the discovery service base URL in http mode
	URL          string          `yaml:"url"`
	ClientID     string          `yaml:"clientId"`
	ClientSecret string          `yaml:"clientSecret"`
	Static       StaticEndpoints `yaml:"static"`
}

// StaticEndpoints are base URLs used verbatim in static mode.
type StaticEndpoints struct {
	AuthPublic    string `yaml:"authPublic"`
	AuthAdmin     string `yaml:"authAdmin"`
	UserDirectory string `yaml:"userDirectory"`
	AuditLog      string `yaml:"auditLog"`
	Observability string `yaml:"observability"`
	Access        string `yaml:"access"`
}

type OAuthConfig struct {
	Scopes []string `yaml:"scopes"`
}

// RateLimitConfig throttles the login and SSO entry points per gateway.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// Product is the profile that parameterizes one Gateway instance.
type Product struct {
	// Name prefixes the primary cookies, e.g. "studio" => "studio.oauth2_token"
	Name       string `yaml:"name"`
	PathPrefix string `yaml:"pathPrefix"`
	// ClientCookiePrefix prefixes the secondary (client-scoped) cookies
	ClientCookiePrefix string `yaml:"clientCookiePrefix"`
	HomePath           string `yaml:"homePath"`
	ErrorPath          string `yaml:"errorPath"`
	// DefaultAccountID is the reserved system account that never gets secondary cookies
	DefaultAccountID  string `yaml:"defaultAccountId"`
	ClusterCookie     string `yaml:"clusterCookie"`
	PreviousURLCookie string `yaml:"previousUrlCookie"`
	RememberMeCookie  string `yaml:"rememberMeCookie"`
}

// Cookie names derived from the product profile.
func (p Product) AccessTokenCookie() string  { return p.Name + ".oauth2_token" }
func (p Product) IDTokenCookie() string      { return p.Name + ".id_token" }
func (p Product) RefreshTokenCookie() string { return p.Name + ".oauth2_refresh_token" }
func (p Product) OriginCookie() string       { return p.Name + ".origin_uri" }
func (p Product) SessionCookie() string      { return p.Name + ".sid" }

func (p Product) SecondaryAccessTokenCookie() string { return p.ClientCookiePrefix + "oauth2_token" }
func (p Product) SecondaryIDTokenCookie() string     { return p.ClientCookiePrefix + "id_token" }
func (p Product) SecondaryRefreshTokenCookie() string {
	return p.ClientCookiePrefix + "oauth2_refresh_token"
}

// Defaults returns a configuration for both console products with a static
// discovery layout pointing at localhost.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Session: SessionConfig{
			KeyPrefix: "consolegate:session:",
			TTL:       24 * time.Hour,
			Secure:    true,
		},
		Redis: *DefaultRedisConfig(),
		Discovery: DiscoveryConfig{
			Mode: DiscoveryModeStatic,
			Static: StaticEndpoints{
				AuthPublic:    "http://127.0.0.1:4444",
				AuthAdmin:     "http://127.0.0.1:4445",
				UserDirectory: "http://127.0.0.1:9080",
				AuditLog:      "http://127.0.0.1:9081",
				Observability: "http://127.0.0.1:9082",
				Access:        "https://127.0.0.1:443",
			},
		},
		OAuth: OAuthConfig{
			Scopes: []string{"offline", "openid", "all"},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Roles: map[string]string{
			"super_admin":    "7dcfcc9c-ad02-11e8-aa06-000c29358ad6",
			"sys_admin":      "d2bd2082-ad03-11e8-aa06-000c29358ad6",
			"audit_admin":    "def246f2-ad03-11e8-aa06-000c29358ad6",
			"sec_admin":      "d8998f72-ad03-11e8-aa06-000c29358ad6",
			"org_manager":    "e63e1c88-ad03-11e8-aa06-000c29358ad6",
			"normal_user":    "f06ac18e-ad03-11e8-aa06-000c29358ad6",
			"org_audit":      "f4c1e4b2-ad03-11e8-aa06-000c29358ad6",
			"app_developer":  "00990824-4bf7-11f0-8fa7-865d5643e61f",
			"data_developer": "0a1b2c3d-4bf7-11f0-8fa7-865d5643e61f",
		},
		Products: []Product{
			DefaultProduct("studio", "/studio", "client."),
			DefaultProduct("deploy", "/deploy", "deploy.client."),
		},
	}
}

// DefaultProduct builds a product profile with the conventional paths and cookie names.
func DefaultProduct(name, pathPrefix, clientCookiePrefix string) Product {
	return Product{
		Name:               name,
		PathPrefix:         pathPrefix,
		ClientCookiePrefix: clientCookiePrefix,
		HomePath:           "/home",
		ErrorPath:          "/error",
		DefaultAccountID:   "266c6a42-6131-4d62-8f39-853e7093701c",
		ClusterCookie:      "cluster.id",
		PreviousURLCookie:  name + ".previous_url",
		RememberMeCookie:   name + ".remember_me",
	}
}

// Product looks a profile up by name.
func (c *Config) Product(name string) (Product, bool) {
	for _, p := range c.Products {
		if p.Name == name {
			return p, true
		}
	}
	return Product{}, false
}

// Validate checks the configuration for values the gateway cannot run with.
func (c *Config) Validate() error {
	if len(c.Session.HashKey) < minSessionKeyLength {
		return fmt.Errorf("session.hashKey must be at least %d bytes", minSessionKeyLength)
	}
	switch len(c.Session.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("session.blockKey must be 16, 24 or 32 bytes, got %d", len(c.Session.BlockKey))
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	// Both modes build on the static endpoints; http mode only looks up access.
	switch c.Discovery.Mode {
	case DiscoveryModeStatic:
		if err := c.Discovery.Static.validate(true); err != nil {
			return fmt.Errorf("discovery.static: %w", err)
		}
	case DiscoveryModeHTTP:
		if err := validateBaseURL(c.Discovery.URL); err != nil {
			return fmt.Errorf("discovery.url: %w", err)
		}
		if err := c.Discovery.Static.validate(false); err != nil {
			return fmt.Errorf("discovery.static: %w", err)
		}
	default:
		return fmt.Errorf("unknown discovery.mode %q", c.Discovery.Mode)
	}
	if c.Discovery.ClientID == "" {
		return fmt.Errorf("discovery.clientId is required")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rateLimit requires positive requestsPerSecond and burst when enabled")
	}

	if len(c.Products) == 0 {
		return fmt.Errorf("at least one product is required")
	}
	seen := make(map[string]struct{}, len(c.Products))
	for i, p := range c.Products {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("products[%d]: %w", i, err)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("products[%d]: duplicate product name %q", i, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// Validate checks a single product profile.
func (p Product) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(p.Name, " ;=,/") {
		return fmt.Errorf("name %q is not a valid cookie prefix", p.Name)
	}
	if p.PathPrefix != "" && (!strings.HasPrefix(p.PathPrefix, "/") || strings.HasSuffix(p.PathPrefix, "/")) {
		return fmt.Errorf("pathPrefix %q must start and not end with '/'", p.PathPrefix)
	}
	if p.ClientCookiePrefix == "" {
		return fmt.Errorf("clientCookiePrefix is required")
	}
	if !strings.HasPrefix(p.HomePath, "/") || !strings.HasPrefix(p.ErrorPath, "/") {
		return fmt.Errorf("homePath and errorPath must be absolute paths")
	}
	if p.ClusterCookie == "" || p.PreviousURLCookie == "" || p.RememberMeCookie == "" {
		return fmt.Errorf("cluster, previous URL and remember-me cookie names are required")
	}
	return nil
}

func (s StaticEndpoints) validate(withAccess bool) error {
	endpoints := map[string]string{
		"authPublic":    s.AuthPublic,
		"authAdmin":     s.AuthAdmin,
		"userDirectory": s.UserDirectory,
		"auditLog":      s.AuditLog,
		"observability": s.Observability,
	}
	if withAccess {
		endpoints["access"] = s.Access
	}
	for name, raw := range endpoints {
		if err := validateBaseURL(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
