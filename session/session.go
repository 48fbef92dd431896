package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/kweaver-ai/consolegate/internal/discovery"
	"github.com/kweaver-ai/consolegate/internal/logger"
	"github.com/kweaver-ai/consolegate/internal/oauth"
	"github.com/kweaver-ai/consolegate/internal/userinfo"
)

const (
	keyState            = "state"
	keyLang             = "lang"
	keyIntegrated       = "integrated"
	keyServiceConfig    = "service_config"
	keyUser             = "user"
	keyAccessToken      = "access_token"
	keyIDToken          = "id_token"
	keyRefreshToken     = "refresh_token"
	keyClusterToken     = "cluster_token"
	keySecondaryCookies = "secondary_cookies"
)

// Manager opens sessions for one product cookie.
type Manager struct {
	store      *RedisStore
	cookieName string
	logger     logger.Logger
}

// NewManager returns a Manager whose sessions are carried in cookieName.
func NewManager(store *RedisStore, cookieName string, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NoOp()
	}
	return &Manager{store: store, cookieName: cookieName, logger: log}
}

// Store returns the underlying store.
func (m *Manager) Store() *RedisStore {
	return m.store
}

// Load returns the request's session. A request without a valid session cookie
// gets an empty one.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	raw, err := m.store.Get(r, m.cookieName)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &Session{raw: raw, store: m.store, request: r}, nil
}

// Session is the typed view over one gorilla session record.
type Session struct {
	raw     *sessions.Session
	store   *RedisStore
	request *http.Request
}

// ID returns the current record id, empty until the first Save.
func (s *Session) ID() string {
	return s.raw.ID
}

// IsNew reports whether the session had no stored record when it was loaded.
func (s *Session) IsNew() bool {
	return s.raw.IsNew
}

// Replace drops the stored record and starts over with a fresh id and no values.
func (s *Session) Replace(ctx context.Context) error {
	if s.raw.ID != "" {
		if err := s.store.Delete(ctx, s.raw.ID); err != nil {
			return err
		}
	}
	s.raw.ID = ""
	s.raw.IsNew = true
	s.raw.Values = make(map[interface{}]interface{})
	return nil
}

// Save persists the values and re-issues the id cookie.
func (s *Session) Save(w http.ResponseWriter) error {
	return s.raw.Save(s.request, w)
}

// Destroy deletes the stored record and expires the id cookie.
func (s *Session) Destroy(w http.ResponseWriter) error {
	s.raw.Options.MaxAge = -1
	s.raw.Values = make(map[interface{}]interface{})
	return s.raw.Save(s.request, w)
}

func (s *Session) getString(key string) string {
	v, _ := s.raw.Values[key].(string)
	return v
}

func (s *Session) setString(key, value string) {
	s.raw.Values[key] = value
}

func (s *Session) State() string         { return s.getString(keyState) }
func (s *Session) SetState(state string) { s.setString(keyState, state) }
func (s *Session) Lang() string          { return s.getString(keyLang) }
func (s *Session) SetLang(lang string)   { s.setString(keyLang, lang) }

// Integrated reports whether the console is embedded in a host frame.
func (s *Session) Integrated() bool {
	return s.getString(keyIntegrated) == "true"
}

func (s *Session) SetIntegrated(integrated bool) {
	if integrated {
		s.setString(keyIntegrated, "true")
		return
	}
	s.setString(keyIntegrated, "false")
}

// ServiceConfig returns the snapshot stored at login, or nil when none was stored.
func (s *Session) ServiceConfig() (*discovery.ServiceConfig, error) {
	raw := s.getString(keyServiceConfig)
	if raw == "" {
		return nil, nil
	}
	var cfg discovery.ServiceConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode stored service config: %w", err)
	}
	return &cfg, nil
}

func (s *Session) SetServiceConfig(cfg *discovery.ServiceConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode service config: %w", err)
	}
	s.setString(keyServiceConfig, string(data))
	return nil
}

// User returns the stored profile, or nil before login completes.
func (s *Session) User() (*userinfo.Profile, error) {
	raw := s.getString(keyUser)
	if raw == "" {
		return nil, nil
	}
	var p userinfo.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode stored user: %w", err)
	}
	return &p, nil
}

func (s *Session) SetUser(p *userinfo.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	s.setString(keyUser, string(data))
	return nil
}

// Tokens returns the stored token set.
func (s *Session) Tokens() oauth.TokenSet {
	return oauth.TokenSet{
		AccessToken:  s.getString(keyAccessToken),
		IDToken:      s.getString(keyIDToken),
		RefreshToken: s.getString(keyRefreshToken),
	}
}

// SetTokens stores the token set and binds the session to its access token.
func (s *Session) SetTokens(ts oauth.TokenSet) {
	s.setString(keyAccessToken, ts.AccessToken)
	s.setString(keyIDToken, ts.IDToken)
	s.setString(keyRefreshToken, ts.RefreshToken)
	s.setString(keyClusterToken, ts.AccessToken)
}

// HasTokens reports whether a refresh is possible.
func (s *Session) HasTokens() bool {
	return s.getString(keyAccessToken) != "" && s.getString(keyRefreshToken) != ""
}

// ClusterToken is the access token the session was last bound to.
func (s *Session) ClusterToken() string {
	return s.getString(keyClusterToken)
}

// Owns reports whether the presented access-token cookie value matches the
// session binding.
func (s *Session) Owns(accessToken string) bool {
	cluster := s.ClusterToken()
	return cluster != "" && accessToken == cluster
}

func (s *Session) SecondaryCookies() bool {
	v, _ := s.raw.Values[keySecondaryCookies].(bool)
	return v
}

func (s *Session) SetSecondaryCookies(written bool) {
	s.raw.Values[keySecondaryCookies] = written
}
