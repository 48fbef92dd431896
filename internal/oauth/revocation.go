package oauth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kweaver-ai/consolegate/internal/discovery"
	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
)

// IntrospectionResponse is the subset of RFC 7662 the gateway reads
type IntrospectionResponse struct {
	Active   bool   `json:"active"`
	Sub      string `json:"sub,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
}

// Introspect resolves a token to its subject id. Inactive tokens and tokens
// without a subject are upstream failures.
func (c *Client) Introspect(ctx context.Context, cfg *discovery.ServiceConfig, token string) (_ string, err error) {
	const op = "introspect"
	defer c.observe(op, time.Now(), &err)

	form := url.Values{}
	form.Set("token", token)
	req, err := c.formRequest(ctx, cfg, cfg.AuthAdmin.URL(IntrospectPath), form)
	if err != nil {
		return "", err
	}

	var out IntrospectionResponse
	if err := c.do(c.http, req, op, &out); err != nil {
		return "", err
	}
	if !out.Active || out.Sub == "" {
		e := gwerrors.NewUpstreamAuthError(op, http.StatusUnauthorized, nil)
		e.Details = "token is not active"
		return "", e
	}
	return out.Sub, nil
}

// Revoke revokes a token at the authorization server. Callers do not retry.
func (c *Client) Revoke(ctx context.Context, cfg *discovery.ServiceConfig, token string) (err error) {
	const op = "revoke"
	defer c.observe(op, time.Now(), &err)

	form := url.Values{}
	form.Set("token", token)
	req, err := c.formRequest(ctx, cfg, cfg.AuthPublic.URL(RevokePath), form)
	if err != nil {
		return err
	}
	return c.do(c.http, req, op, nil)
}

// EndSession identifies the upstream login session to terminate.
type EndSession struct {
	IDToken        string
	State          string
	ClusterCookie  *http.Cookie
	SessionID      string
	RedirectPrefix string
}

// SessionIDHeader carries the gateway session id to the end-session endpoint
const SessionIDHeader = "X-Session-Id"

// RevokeSession calls the end-session endpoint with the affinity headers that
// route it to the cluster node holding the upstream session. Redirects are not
// followed; any 2xx or 3xx is success.
func (c *Client) RevokeSession(ctx context.Context, cfg *discovery.ServiceConfig, es EndSession) (err error) {
	const op = "end_session"
	defer c.observe(op, time.Now(), &err)

	query := url.Values{}
	query.Set("id_token_hint", es.IDToken)
	query.Set("state", es.State)
	query.Set("post_logout_redirect_uri", PostLogoutRedirectURI(cfg, es.RedirectPrefix))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.AuthPublic.URL(EndSessionPath)+"?"+query.Encode(), nil)
	if err != nil {
		return gwerrors.NewTransportError(op, err)
	}
	if es.ClusterCookie != nil {
		req.AddCookie(es.ClusterCookie)
	}
	if es.SessionID != "" {
		req.Header.Set(SessionIDHeader, es.SessionID)
	}

	resp, err := c.endSession.Do(req)
	if err != nil {
		return gwerrors.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024*10)) // Safe to ignore: reading error body for diagnostics
	return gwerrors.NewUpstreamAuthError(op, resp.StatusCode, body)
}

func (c *Client) formRequest(ctx context.Context, cfg *discovery.ServiceConfig, target string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, gwerrors.NewTransportError(target, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(url.QueryEscape(cfg.ClientID), url.QueryEscape(cfg.ClientSecret))
	return req, nil
}
