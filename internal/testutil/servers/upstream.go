// Package servers provides an in-process fake of every dependency the gateway
// calls: authorization server, user directory, audit log, observability and
// discovery. Each endpoint counts its requests so tests can assert that a flow
// made no upstream calls.
package servers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"

	"github.com/kweaver-ai/consolegate/internal/discovery"
)

// Endpoint names used with Count and Requests
const (
	Token          = "token"
	Introspect     = "introspect"
	Revoke         = "revoke"
	EndSession     = "end_session"
	UserProfile    = "user_profile"
	RoleAssignment = "role_assignment"
	SSO            = "sso"
	Ticket         = "ticket"
	Audit          = "audit"
	Observability  = "observability"
	AccessAddr     = "access_addr"
)

// TokenResponse is returned by the token endpoint
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// User is a directory entry
type User struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	Frozen    bool     `json:"frozen"`
	Priority  int      `json:"priority"`
	CreatedAt int64    `json:"created_at"`
}

// Failure makes an endpoint answer with a fixed status and body
type Failure struct {
	Status int
	Body   string
}

// UpstreamConfig configures the fake behavior. Zero values give a working
// happy path for subject "user-1".
type UpstreamConfig struct {
	CodeTokens    TokenResponse
	RefreshTokens TokenResponse

	Subject  string
	Inactive bool

	Users           map[string]User
	RoleAssignments map[string][]string

	SSOCode string
	// SSORedirectStyle returns {"redirect_to": "...?code="} instead of {"code"}
	SSORedirectStyle bool
	Ticket           string

	// EndSessionStatus defaults to 302
	EndSessionStatus int

	AccessAddr string

	// Failures by endpoint name
	Failures map[string]Failure
}

// RecordedRequest is a copy of what an endpoint received
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Form   url.Values
	Body   []byte
}

// Upstream is the fake dependency server
type Upstream struct {
	*httptest.Server
	mu       sync.Mutex
	Config   *UpstreamConfig
	requests map[string][]RecordedRequest
}

// DefaultConfig returns the happy path configuration
func DefaultConfig() *UpstreamConfig {
	return &UpstreamConfig{
		CodeTokens: TokenResponse{
			AccessToken:  "A",
			IDToken:      "I",
			RefreshToken: "R",
			TokenType:    "bearer",
			ExpiresIn:    3600,
		},
		RefreshTokens: TokenResponse{
			AccessToken:  "A2",
			IDToken:      "I2",
			RefreshToken: "R2",
			TokenType:    "bearer",
			ExpiresIn:    3600,
		},
		Subject: "user-1",
		Users: map[string]User{
			"user-1": {
				ID:        "user-1",
				Name:      "Alice",
				Email:     "alice@example.com",
				Roles:     []string{"super_admin", "normal_user"},
				Priority:  999,
				CreatedAt: 1700000000,
			},
		},
		RoleAssignments: map[string][]string{
			"user-1": {"7dcfcc9c-ad02-11e8-aa06-000c29358ad6"},
		},
		SSOCode:    "sso-code",
		Ticket:     "ticket-1",
		AccessAddr: `{"scheme":"https","host":"::1","port":"443"}`,
	}
}

// NewUpstream starts a fake upstream server
func NewUpstream(config *UpstreamConfig) *Upstream {
	if config == nil {
		config = DefaultConfig()
	}
	u := &Upstream{
		Config:   config,
		requests: make(map[string][]RecordedRequest),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth2/token", u.handle(Token, u.handleToken))
	mux.HandleFunc("POST /admin/oauth2/introspect", u.handle(Introspect, u.handleIntrospect))
	mux.HandleFunc("POST /oauth2/revoke", u.handle(Revoke, func(w http.ResponseWriter, r *RecordedRequest) {
		w.WriteHeader(http.StatusOK)
	}))
	mux.HandleFunc("GET /oauth2/sessions/logout", u.handle(EndSession, u.handleEndSession))
	mux.HandleFunc("GET /api/user-management/v1/users/{id}/{fields}", u.handle(UserProfile, u.handleUser))
	mux.HandleFunc("GET /api/authorization/v1/accessor-roles", u.handle(RoleAssignment, u.handleRoles))
	mux.HandleFunc("POST /api/authentication/v1/sso", u.handle(SSO, u.handleSSO))
	mux.HandleFunc("POST /api/authentication/v1/ticket", u.handle(Ticket, func(w http.ResponseWriter, r *RecordedRequest) {
		writeJSON(w, map[string]string{"ticket": u.Config.Ticket})
	}))
	mux.HandleFunc("POST /api/audit-log/v1/log/login", u.handle(Audit, func(w http.ResponseWriter, r *RecordedRequest) {
		w.WriteHeader(http.StatusCreated)
	}))
	mux.HandleFunc("POST /api/observability/v1/events/login", u.handle(Observability, func(w http.ResponseWriter, r *RecordedRequest) {
		w.WriteHeader(http.StatusAccepted)
	}))
	mux.HandleFunc("GET /api/deploy-manager/v1/access-addr/app", u.handle(AccessAddr, func(w http.ResponseWriter, r *RecordedRequest) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, u.Config.AccessAddr) // #nosec G104 - test server
	}))

	u.Server = httptest.NewServer(mux)
	return u
}

// ServiceConfig points every dependency of a snapshot at this server.
func (u *Upstream) ServiceConfig(access discovery.Endpoint) discovery.ServiceConfig {
	ep, err := discovery.ParseEndpoint(u.URL)
	if err != nil {
		panic(err)
	}
	return discovery.ServiceConfig{
		ClientID:      "console-client",
		ClientSecret:  "console-secret",
		AuthPublic:    ep,
		AuthAdmin:     ep,
		UserDirectory: ep,
		AuditLog:      ep,
		Observability: ep,
		Access:        access,
	}
}

// Count returns the number of requests an endpoint received
func (u *Upstream) Count(endpoint string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.requests[endpoint])
}

// Total returns the number of requests across all endpoints
func (u *Upstream) Total() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	total := 0
	for _, reqs := range u.requests {
		total += len(reqs)
	}
	return total
}

// Requests returns the recorded requests of an endpoint
func (u *Upstream) Requests(endpoint string) []RecordedRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]RecordedRequest(nil), u.requests[endpoint]...)
}

// Last returns the most recent request of an endpoint
func (u *Upstream) Last(endpoint string) (RecordedRequest, bool) {
	reqs := u.Requests(endpoint)
	if len(reqs) == 0 {
		return RecordedRequest{}, false
	}
	return reqs[len(reqs)-1], true
}

// Reset clears request tracking
func (u *Upstream) Reset() {
	u.mu.Lock()
	u.requests = make(map[string][]RecordedRequest)
	u.mu.Unlock()
}

func (u *Upstream) handle(name string, next func(http.ResponseWriter, *RecordedRequest)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body) // #nosec G104 - test server
		rec := RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
		}
		if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
			rec.Form, _ = url.ParseQuery(string(body))
		}
		if name == UserProfile {
			rec.Query.Set("id", r.PathValue("id"))
			rec.Query.Set("fields", r.PathValue("fields"))
		}

		u.mu.Lock()
		u.requests[name] = append(u.requests[name], rec)
		failure, failing := u.Config.Failures[name]
		u.mu.Unlock()

		if failing {
			w.WriteHeader(failure.Status)
			_, _ = io.WriteString(w, failure.Body) // #nosec G104 - test server
			return
		}
		next(w, &rec)
	}
}

func (u *Upstream) handleToken(w http.ResponseWriter, r *RecordedRequest) {
	switch r.Form.Get("grant_type") {
	case "authorization_code":
		writeJSON(w, u.Config.CodeTokens)
	case "refresh_token":
		writeJSON(w, u.Config.RefreshTokens)
	default:
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (u *Upstream) handleIntrospect(w http.ResponseWriter, r *RecordedRequest) {
	writeJSON(w, map[string]any{
		"active": !u.Config.Inactive,
		"sub":    u.Config.Subject,
	})
}

func (u *Upstream) handleEndSession(w http.ResponseWriter, r *RecordedRequest) {
	status := u.Config.EndSessionStatus
	if status == 0 {
		status = http.StatusFound
	}
	if status >= 300 && status < 400 {
		w.Header().Set("Location", r.Query.Get("post_logout_redirect_uri"))
	}
	w.WriteHeader(status)
}

func (u *Upstream) handleUser(w http.ResponseWriter, r *RecordedRequest) {
	users := []User{}
	if user, ok := u.Config.Users[r.Query.Get("id")]; ok {
		users = append(users, user)
	}
	writeJSON(w, users)
}

func (u *Upstream) handleRoles(w http.ResponseWriter, r *RecordedRequest) {
	type role struct {
		ID string `json:"id"`
	}
	roles := []role{}
	for _, id := range u.Config.RoleAssignments[r.Query.Get("accessor_id")] {
		roles = append(roles, role{ID: id})
	}
	writeJSON(w, roles)
}

func (u *Upstream) handleSSO(w http.ResponseWriter, r *RecordedRequest) {
	if u.Config.SSORedirectStyle {
		var body struct {
			RedirectURI string `json:"redirect_uri"`
		}
		_ = json.Unmarshal(r.Body, &body) // #nosec G104 - test server
		writeJSON(w, map[string]string{"redirect_to": body.RedirectURI + "?code=" + url.QueryEscape(u.Config.SSOCode) + "&state=x"})
		return
	}
	writeJSON(w, map[string]string{"code": u.Config.SSOCode})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) // #nosec G104 - test server, error handling not critical
}
