package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHashKey = "0123456789abcdef0123456789abcdef"

func validConfig() *Config {
	c := Defaults()
	c.Session.HashKey = testHashKey
	c.Discovery.ClientID = "console"
	c.Discovery.ClientSecret = "secret"
	return c
}

func TestProductCookieNames(t *testing.T) {
	p := DefaultProduct("studio", "/studio", "client.")

	assert.Equal(t, "studio.oauth2_token", p.AccessTokenCookie())
	assert.Equal(t, "studio.id_token", p.IDTokenCookie())
	assert.Equal(t, "studio.oauth2_refresh_token", p.RefreshTokenCookie())
	assert.Equal(t, "studio.origin_uri", p.OriginCookie())
	assert.Equal(t, "client.oauth2_token", p.SecondaryAccessTokenCookie())
	assert.Equal(t, "client.id_token", p.SecondaryIDTokenCookie())
	assert.Equal(t, "client.oauth2_refresh_token", p.SecondaryRefreshTokenCookie())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"short hash key", func(c *Config) { c.Session.HashKey = "short" }, "hashKey"},
		{"bad block key", func(c *Config) { c.Session.BlockKey = "abc" }, "blockKey"},
		{"zero ttl", func(c *Config) { c.Session.TTL = 0 }, "ttl"},
		{"missing redis addr", func(c *Config) { c.Redis.Addr = "" }, "redis"},
		{"missing client id", func(c *Config) { c.Discovery.ClientID = "" }, "clientId"},
		{"bad static url", func(c *Config) { c.Discovery.Static.Access = "ftp://host" }, "access"},
		{"http mode without url", func(c *Config) { c.Discovery.Mode = DiscoveryModeHTTP }, "discovery.url"},
		{"http mode", func(c *Config) {
			c.Discovery.Mode = DiscoveryModeHTTP
			c.Discovery.URL = "http://deploy-manager:9703"
		}, ""},
		{"http mode without base endpoint", func(c *Config) {
			c.Discovery.Mode = DiscoveryModeHTTP
			c.Discovery.URL = "http://deploy-manager:9703"
			c.Discovery.Static.AuthPublic = ""
		}, "authPublic"},
		{"http mode without client id", func(c *Config) {
			c.Discovery.Mode = DiscoveryModeHTTP
			c.Discovery.URL = "http://deploy-manager:9703"
			c.Discovery.ClientID = ""
		}, "clientId"},
		{"http mode ignores static access", func(c *Config) {
			c.Discovery.Mode = DiscoveryModeHTTP
			c.Discovery.URL = "http://deploy-manager:9703"
			c.Discovery.Static.Access = ""
		}, ""},
		{"unknown mode", func(c *Config) { c.Discovery.Mode = "consul" }, "unknown discovery.mode"},
		{"bad rate limit", func(c *Config) { c.RateLimit.Burst = 0 }, "rateLimit"},
		{"rate limit disabled", func(c *Config) {
			c.RateLimit.Enabled = false
			c.RateLimit.Burst = 0
		}, ""},
		{"no products", func(c *Config) { c.Products = nil }, "at least one product"},
		{"duplicate product", func(c *Config) {
			c.Products = append(c.Products, c.Products[0])
		}, "duplicate"},
		{"trailing slash prefix", func(c *Config) { c.Products[0].PathPrefix = "/studio/" }, "pathPrefix"},
		{"bad product name", func(c *Config) { c.Products[1].Name = "de ploy" }, "cookie prefix"},
		{"relative home", func(c *Config) { c.Products[0].HomePath = "home" }, "homePath"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigProduct(t *testing.T) {
	c := Defaults()

	p, ok := c.Product("deploy")
	require.True(t, ok)
	assert.Equal(t, "/deploy", p.PathPrefix)
	assert.Equal(t, "deploy.client.", p.ClientCookiePrefix)

	_, ok = c.Product("missing")
	assert.False(t, ok)
}

func TestRedisConfigOptions(t *testing.T) {
	rc := DefaultRedisConfig()
	rc.Password = "pw"
	rc.TLSEnabled = true

	opts := rc.Options()
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 3*time.Second, opts.ReadTimeout)
	require.NotNil(t, opts.TLSConfig)

	rc.DB = 16
	assert.Error(t, rc.Validate())
}

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func TestLoaderEnvOnly(t *testing.T) {
	l := newTestLoader(map[string]string{
		"CONSOLEGATE_SESSION_KEY":    testHashKey,
		"CONSOLEGATE_CLIENT_ID":      "console",
		"CONSOLEGATE_CLIENT_SECRET":  "s3cr3t",
		"CONSOLEGATE_REDIS_ADDR":     "redis:6379",
		"CONSOLEGATE_SESSION_TTL":    "2h",
		"CONSOLEGATE_SESSION_SECURE": "false",
		"CONSOLEGATE_RATELIMIT_RPS":  "2.5",
		"CONSOLEGATE_SCOPES":         "openid, offline ,",
		"CONSOLEGATE_ACCESS_URL":     "https://[::1]:8443",
	})

	c, err := l.Load("")
	require.NoError(t, err)

	assert.Equal(t, "s3cr3t", c.Discovery.ClientSecret)
	assert.Equal(t, "redis:6379", c.Redis.Addr)
	assert.Equal(t, 2*time.Hour, c.Session.TTL)
	assert.False(t, c.Session.Secure)
	assert.Equal(t, 2.5, c.RateLimit.RequestsPerSecond)
	assert.Equal(t, []string{"openid", "offline"}, c.OAuth.Scopes)
	assert.Equal(t, "https://[::1]:8443", c.Discovery.Static.Access)
	assert.Len(t, c.Products, 2)
}

func TestLoaderInvalidEnv(t *testing.T) {
	l := newTestLoader(map[string]string{
		"CONSOLEGATE_SESSION_TTL": "forever",
	})

	_, err := l.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONSOLEGATE_SESSION_TTL")
}

func TestLoaderFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "consolegate.yaml")
	content := `
server:
  addr: ":9090"
session:
  hashKey: "` + testHashKey + `"
  ttl: 30m
discovery:
  mode: http
  url: http://deploy-manager:9703
  clientId: from-file
roles:
  auditor: role-auditor
products:
  - name: studio
    pathPrefix: /studio
    clientCookiePrefix: client.
    homePath: /home
    errorPath: /error
    clusterCookie: cluster.id
    previousUrlCookie: studio.previous_url
    rememberMeCookie: studio.remember_me
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	l := newTestLoader(map[string]string{
		"CONSOLEGATE_CLIENT_ID": "from-env",
	})
	c, err := l.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", c.Server.Addr)
	assert.Equal(t, 30*time.Minute, c.Session.TTL)
	assert.Equal(t, "consolegate:session:", c.Session.KeyPrefix, "defaults survive a partial file")
	assert.Equal(t, DiscoveryModeHTTP, c.Discovery.Mode)
	assert.Equal(t, "from-env", c.Discovery.ClientID, "environment wins over the file")
	assert.Equal(t, "role-auditor", c.Roles["auditor"])
	assert.Contains(t, c.Roles, "super_admin")
	require.Len(t, c.Products, 1)
	assert.Equal(t, "studio", c.Products[0].Name)
}

func TestLoaderFileErrors(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{}`), 0o600))

	badPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("server: [unclosed"), 0o600))

	tests := []struct {
		name string
		path string
		want string
	}{
		{"missing file", filepath.Join(dir, "missing.yaml"), "failed to read"},
		{"traversal", "../etc/consolegate.yaml", "path traversal"},
		{"wrong extension", jsonPath, "unsupported"},
		{"bad yaml", badPath, "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader(nil).Load(tt.path)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}
