// Package oauth implements the calls the gateway makes to the authorization
// server and the authentication endpoints of the user directory.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/kweaver-ai/consolegate/internal/discovery"
	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
	"github.com/kweaver-ai/consolegate/internal/logger"
	"github.com/kweaver-ai/consolegate/internal/metrics"
)

// Authorization server routes
const (
	AuthorizePath  = "/oauth2/auth"
	TokenPath      = "/oauth2/token"
	RevokePath     = "/oauth2/revoke"
	EndSessionPath = "/oauth2/sessions/logout"
	IntrospectPath = "/admin/oauth2/introspect"
)

// Gateway routes the authorization server sends the browser back to
const (
	LoginCallbackPath  = "/oauth/login/callback"
	LogoutCallbackPath = "/oauth/logout/callback"
)

const maxBodySize = 1 << 20

// TokenSet is the credential triple issued by the authorization server
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Client performs authorization server calls against the endpoints of a
// ServiceConfig snapshot. It holds no per-user state.
type Client struct {
	http       *http.Client
	endSession *http.Client
	scopes     []string
	logger     logger.Logger
	metrics    *metrics.Metrics
}

// Options configures a Client
type Options struct {
	// HTTPClient is used for every call except end-session
	HTTPClient *http.Client
	// EndSessionClient must not follow redirects
	EndSessionClient *http.Client
	Scopes           []string
	Logger           logger.Logger
	Metrics          *metrics.Metrics
}

// NewClient creates a new OAuth client
func NewClient(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.EndSessionClient == nil {
		c := *opts.HTTPClient
		c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
		opts.EndSessionClient = &c
	}
	if opts.Logger == nil {
		opts.Logger = logger.NoOp()
	}
	return &Client{
		http:       opts.HTTPClient,
		endSession: opts.EndSessionClient,
		scopes:     opts.Scopes,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// RedirectURI builds the login callback on the discovered access address.
func RedirectURI(cfg *discovery.ServiceConfig, prefix string) string {
	return cfg.Access.URL(prefix + LoginCallbackPath)
}

// PostLogoutRedirectURI builds the logout callback on the discovered access address.
func PostLogoutRedirectURI(cfg *discovery.ServiceConfig, prefix string) string {
	return cfg.Access.URL(prefix + LogoutCallbackPath)
}

func (c *Client) config(cfg *discovery.ServiceConfig, prefix string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  RedirectURI(cfg, prefix),
		Scopes:       c.scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthPublic.URL(AuthorizePath),
			TokenURL:  cfg.AuthPublic.URL(TokenPath),
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// AuthCodeURL builds the authorization server redirect for a login attempt.
func (c *Client) AuthCodeURL(cfg *discovery.ServiceConfig, prefix, state, lang, product string) string {
	var opts []oauth2.AuthCodeOption
	if lang != "" {
		opts = append(opts, oauth2.SetAuthURLParam("lang", lang))
	}
	if product != "" {
		opts = append(opts, oauth2.SetAuthURLParam("product", product))
	}
	return c.config(cfg, prefix).AuthCodeURL(state, opts...)
}

// ExchangeCode posts an authorization-code grant. The redirect URI is rebuilt
// from the same prefix and access address used at login start.
func (c *Client) ExchangeCode(ctx context.Context, cfg *discovery.ServiceConfig, code, prefix string) (_ TokenSet, err error) {
	const op = "token_exchange"
	defer c.observe(op, time.Now(), &err)

	token, err := c.config(cfg, prefix).Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return TokenSet{}, grantError(op, err)
	}
	ts := tokenSetFrom(token)
	c.logger.Debugf("Exchanged authorization code (access=%d id=%d refresh=%d bytes)",
		len(ts.AccessToken), len(ts.IDToken), len(ts.RefreshToken))
	return ts, nil
}

// Refresh posts a refresh-token grant. When the server does not rotate the
// refresh token the old one is kept.
func (c *Client) Refresh(ctx context.Context, cfg *discovery.ServiceConfig, refreshToken string) (_ TokenSet, err error) {
	const op = "token_refresh"
	defer c.observe(op, time.Now(), &err)

	if refreshToken == "" {
		return TokenSet{}, gwerrors.NewTokenRefreshFailed(fmt.Errorf("no refresh token"))
	}
	source := c.config(cfg, "").TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return TokenSet{}, grantError(op, err)
	}
	ts := tokenSetFrom(token)
	if ts.RefreshToken == "" {
		ts.RefreshToken = refreshToken
	}
	return ts, nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

func (c *Client) observe(operation string, start time.Time, err *error) {
	c.metrics.ObserveUpstream(operation, start, *err)
	if *err != nil {
		c.logger.Errorf("%s failed: %v", operation, *err)
	}
}

func tokenSetFrom(token *oauth2.Token) TokenSet {
	ts := TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		ts.IDToken = idToken
	}
	if ts.ExpiresIn == 0 && !token.Expiry.IsZero() {
		ts.ExpiresIn = int64(time.Until(token.Expiry).Seconds())
	}
	return ts
}

// grantError maps x/oauth2 failures onto the gateway taxonomy.
func grantError(operation string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return gwerrors.NewUpstreamAuthError(operation, status, retrieveErr.Body)
	}
	return gwerrors.NewTransportError(operation, err)
}

// do sends req and decodes a 2xx JSON body into out (when non-nil). Bodies are
// only ever parsed as data.
func (c *Client) do(client *http.Client, req *http.Request, operation string, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return gwerrors.NewTransportError(operation, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) // Safe to ignore: draining body on defer
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return gwerrors.NewTransportError(operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gwerrors.NewUpstreamAuthError(operation, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return gwerrors.NewMalformedResponse(operation, resp.StatusCode, body, err)
	}
	return nil
}
