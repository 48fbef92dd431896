package httpclient

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kweaver-ai/consolegate/internal/logger"
)

// Config provides configuration for creating HTTP clients
type Config struct {
	// Timeout for the entire request
	Timeout time.Duration
	// MaxRedirects allowed. Negative disables following redirects entirely.
	MaxRedirects int
	// Connection settings
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	// Connection pool settings
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	ForceHTTP2          bool
	// TLS configuration
	TLSConfig *tls.Config
}

// ClientType names the outbound dependency a client talks to
type ClientType string

const (
	// ClientTypeAuth is used for the authorization server (token, introspect, revoke, SSO)
	ClientTypeAuth ClientType = "auth"
	// ClientTypeEndSession is the auth preset that never follows redirects
	ClientTypeEndSession ClientType = "end_session"
	ClientTypeDiscovery  ClientType = "discovery"
	ClientTypeDirectory  ClientType = "directory"
	// ClientTypeSideChannel is used for audit and observability events
	ClientTypeSideChannel ClientType = "side_channel"
)

// PresetConfigs provides pre-configured settings for each outbound dependency
var PresetConfigs = map[ClientType]Config{
	ClientTypeAuth: {
		Timeout:               30 * time.Second,
		MaxRedirects:          5,
		DialTimeout:           5 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		ForceHTTP2:            true,
	},
	ClientTypeEndSession: {
		Timeout:               30 * time.Second,
		MaxRedirects:          -1, // 3xx from the end-session endpoint is the success signal
		DialTimeout:           5 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		MaxConnsPerHost:       20,
		ForceHTTP2:            true,
	},
	ClientTypeDiscovery: {
		Timeout:               30 * time.Second,
		MaxRedirects:          5,
		DialTimeout:           5 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		MaxConnsPerHost:       20,
		ForceHTTP2:            true,
	},
	ClientTypeDirectory: {
		Timeout:               10 * time.Second,
		MaxRedirects:          5,
		DialTimeout:           3 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ResponseHeaderTimeout: 8 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		ForceHTTP2:            true,
	},
	ClientTypeSideChannel: {
		Timeout:               3 * time.Second,
		MaxRedirects:          -1,
		DialTimeout:           1 * time.Second,
		KeepAlive:             15 * time.Second,
		TLSHandshakeTimeout:   1 * time.Second,
		ResponseHeaderTimeout: 2 * time.Second,
		IdleConnTimeout:       30 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   2,
		MaxConnsPerHost:       5,
		ForceHTTP2:            true,
	},
}

// Factory creates configured HTTP clients and shares transports between
// clients with identical connection settings.
type Factory struct {
	mu         sync.Mutex
	transports map[string]*http.Transport
	logger     logger.Logger
	// TLSConfig, when set, is used by every client without an explicit TLS config.
	TLSConfig *tls.Config
}

// NewFactory creates a new HTTP client factory
func NewFactory(log logger.Logger) *Factory {
	if log == nil {
		log = logger.NoOp()
	}
	return &Factory{
		transports: make(map[string]*http.Transport),
		logger:     log,
		TLSConfig:  secureTLSConfig(),
	}
}

// CreateClient creates an HTTP client with the specified configuration
func (f *Factory) CreateClient(config Config) (*http.Client, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if config.TLSConfig == nil {
		config.TLSConfig = f.TLSConfig
	}

	client := &http.Client{
		Transport: f.transportFor(config),
		Timeout:   config.Timeout,
	}

	switch {
	case config.MaxRedirects < 0:
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	case config.MaxRedirects > 0:
		limit := config.MaxRedirects
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return fmt.Errorf("stopped after %d redirects", limit)
			}
			return nil
		}
	}

	f.logger.Debugf("Created HTTP client: timeout=%v, maxRedirects=%d", config.Timeout, config.MaxRedirects)
	return client, nil
}

// CreateClientWithPreset creates an HTTP client using a preset configuration
func (f *Factory) CreateClientWithPreset(clientType ClientType) (*http.Client, error) {
	config, ok := PresetConfigs[clientType]
	if !ok {
		return nil, fmt.Errorf("unknown client type: %s", clientType)
	}
	return f.CreateClient(config)
}

// MustPreset is CreateClientWithPreset for the built-in presets, which always validate.
func (f *Factory) MustPreset(clientType ClientType) *http.Client {
	client, err := f.CreateClientWithPreset(clientType)
	if err != nil {
		panic(err)
	}
	return client
}

// ValidateConfig validates HTTP client configuration parameters
func ValidateConfig(config Config) error {
	if config.MaxIdleConns < 0 || config.MaxIdleConns > 1000 {
		return fmt.Errorf("MaxIdleConns out of range (0-1000): %d", config.MaxIdleConns)
	}
	if config.MaxIdleConnsPerHost < 0 || config.MaxIdleConnsPerHost > 100 {
		return fmt.Errorf("MaxIdleConnsPerHost out of range (0-100): %d", config.MaxIdleConnsPerHost)
	}
	if config.MaxConnsPerHost < 0 || config.MaxConnsPerHost > 200 {
		return fmt.Errorf("MaxConnsPerHost out of range (0-200): %d", config.MaxConnsPerHost)
	}
	if config.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if config.Timeout > 5*time.Minute {
		return fmt.Errorf("timeout too long (max 5 minutes): %v", config.Timeout)
	}
	return nil
}

func (f *Factory) transportFor(config Config) *http.Transport {
	key := fmt.Sprintf("%v-%v-%d-%d-%d-%p",
		config.DialTimeout,
		config.ResponseHeaderTimeout,
		config.MaxIdleConns,
		config.MaxIdleConnsPerHost,
		config.MaxConnsPerHost,
		config.TLSConfig,
	)

	f.mu.Lock()
	defer f.mu.Unlock()

	if transport, ok := f.transports[key]; ok {
		return transport
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		TLSClientConfig:       config.TLSConfig,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		IdleConnTimeout:       config.IdleConnTimeout,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		ForceAttemptHTTP2:     config.ForceHTTP2,
	}
	f.transports[key] = transport
	return transport
}

// Close releases idle connections held by every shared transport
func (f *Factory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, transport := range f.transports {
		transport.CloseIdleConnections()
		delete(f.transports, key)
	}
}

func secureTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12, // SECURITY: Enforce TLS 1.2 minimum
		MaxVersion: tls.VersionTLS13,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}
