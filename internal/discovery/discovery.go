// Package discovery resolves the ServiceConfig snapshot: the network locations and
// client credentials one authentication lifecycle talks to.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kweaver-ai/consolegate/config"
	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
	"github.com/kweaver-ai/consolegate/internal/logger"
)

// AccessAddrPath is the discovery service route returning the externally reachable address
const AccessAddrPath = "/api/deploy-manager/v1/access-addr/app"

// Endpoint is a scheme/host/port triple. Host is stored without brackets.
type Endpoint struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

// BaseURL renders scheme://host[:port] with IPv6 literals bracketed. Default
// ports for the scheme are omitted.
func (e Endpoint) BaseURL() string {
	scheme := e.Scheme
	if scheme == "" {
		scheme = "https"
	}
	host := strings.Trim(e.Host, "[]")
	if e.Port == 0 || (scheme == "https" && e.Port == 443) || (scheme == "http" && e.Port == 80) {
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		return scheme + "://" + host
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(e.Port))
}

// URL joins path onto the base URL
func (e Endpoint) URL(path string) string {
	return e.BaseURL() + path
}

// IsZero reports whether the endpoint was never set
func (e Endpoint) IsZero() bool {
	return e.Host == ""
}

// ParseEndpoint parses a base URL such as https://[::1]:8443
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: scheme and host are required", raw)
	}
	ep := Endpoint{Scheme: u.Scheme, Host: u.Hostname()}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return Endpoint{}, fmt.Errorf("invalid endpoint %q: bad port: %w", raw, err)
		}
		ep.Port = port
	}
	return ep, nil
}

// ServiceConfig is the snapshot resolved once per authentication lifecycle
type ServiceConfig struct {
	ClientID      string   `json:"client_id"`
	ClientSecret  string   `json:"client_secret"`
	AuthPublic    Endpoint `json:"auth_public"`
	AuthAdmin     Endpoint `json:"auth_admin"`
	UserDirectory Endpoint `json:"user_directory"`
	AuditLog      Endpoint `json:"audit_log"`
	Observability Endpoint `json:"observability"`
	// Access is the discovered address the browser reaches the console on
	Access Endpoint `json:"access"`
}

// Resolver produces a ServiceConfig. cluster is the routing cookie presented by
// the browser, or nil.
type Resolver interface {
	Resolve(ctx context.Context, cluster *http.Cookie) (*ServiceConfig, error)
}

// Static returns the configured snapshot on every call
type Static struct {
	snapshot ServiceConfig
}

// NewStatic builds a Static resolver from the static discovery configuration
func NewStatic(cfg config.DiscoveryConfig) (*Static, error) {
	snapshot, err := baseSnapshot(cfg)
	if err != nil {
		return nil, err
	}
	access, err := ParseEndpoint(cfg.Static.Access)
	if err != nil {
		return nil, fmt.Errorf("access: %w", err)
	}
	snapshot.Access = access
	return &Static{snapshot: snapshot}, nil
}

// NewStaticFromSnapshot wraps an already built snapshot
func NewStaticFromSnapshot(snapshot ServiceConfig) *Static {
	return &Static{snapshot: snapshot}
}

func (s *Static) Resolve(context.Context, *http.Cookie) (*ServiceConfig, error) {
	snapshot := s.snapshot
	return &snapshot, nil
}

// HTTP asks the deploy manager for the access address of the cluster the
// browser is pinned to. Internal service addresses and credentials come from
// the static configuration.
type HTTP struct {
	baseURL string
	client  *http.Client
	base    ServiceConfig
	logger  logger.Logger
}

// NewHTTP creates an HTTP resolver
func NewHTTP(cfg config.DiscoveryConfig, client *http.Client, log logger.Logger) (*HTTP, error) {
	base, err := baseSnapshot(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NoOp()
	}
	return &HTTP{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client:  client,
		base:    base,
		logger:  log,
	}, nil
}

type accessAddr struct {
	Scheme string      `json:"scheme"`
	Host   string      `json:"host"`
	Port   json.Number `json:"port"`
}

// Resolve fetches the access address. Any failure is a DISCOVERY_FAILED error.
func (h *HTTP) Resolve(ctx context.Context, cluster *http.Cookie) (*ServiceConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+AccessAddrPath, nil)
	if err != nil {
		return nil, gwerrors.NewDiscoveryError(err)
	}
	req.Header.Set("Accept", "application/json")
	if cluster != nil {
		req.AddCookie(cluster)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, gwerrors.NewDiscoveryError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, gwerrors.NewDiscoveryError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, gwerrors.NewDiscoveryError(fmt.Errorf("access-addr returned status %d: %s", resp.StatusCode, body))
	}

	var addr accessAddr
	if err := json.Unmarshal(body, &addr); err != nil {
		return nil, gwerrors.NewDiscoveryError(fmt.Errorf("malformed access-addr response: %w", err))
	}
	if addr.Host == "" {
		return nil, gwerrors.NewDiscoveryError(fmt.Errorf("access-addr response has no host"))
	}

	access := Endpoint{Scheme: addr.Scheme, Host: strings.Trim(addr.Host, "[]")}
	if addr.Port != "" {
		port, err := strconv.Atoi(addr.Port.String())
		if err != nil {
			return nil, gwerrors.NewDiscoveryError(fmt.Errorf("access-addr port %q: %w", addr.Port, err))
		}
		access.Port = port
	}

	snapshot := h.base
	snapshot.Access = access
	h.logger.Debugf("Resolved access address %s", access.BaseURL())
	return &snapshot, nil
}

func baseSnapshot(cfg config.DiscoveryConfig) (ServiceConfig, error) {
	snapshot := ServiceConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}
	for _, item := range []struct {
		name   string
		raw    string
		target *Endpoint
	}{
		{"authPublic", cfg.Static.AuthPublic, &snapshot.AuthPublic},
		{"authAdmin", cfg.Static.AuthAdmin, &snapshot.AuthAdmin},
		{"userDirectory", cfg.Static.UserDirectory, &snapshot.UserDirectory},
		{"auditLog", cfg.Static.AuditLog, &snapshot.AuditLog},
		{"observability", cfg.Static.Observability, &snapshot.Observability},
	} {
		ep, err := ParseEndpoint(item.raw)
		if err != nil {
			return ServiceConfig{}, fmt.Errorf("%s: %w", item.name, err)
		}
		*item.target = ep
	}
	return snapshot, nil
}

// New picks the resolver for the configured discovery mode
func New(cfg config.DiscoveryConfig, client *http.Client, log logger.Logger) (Resolver, error) {
	switch cfg.Mode {
	case config.DiscoveryModeStatic:
		static, err := NewStatic(cfg)
		if err != nil {
			return nil, err
		}
		return static, nil
	case config.DiscoveryModeHTTP:
		resolver, err := NewHTTP(cfg, client, log)
		if err != nil {
			return nil, err
		}
		return resolver, nil
	default:
		return nil, fmt.Errorf("unknown discovery mode %q", cfg.Mode)
	}
}
