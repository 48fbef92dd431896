package consolegate

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/kweaver-ai/consolegate/internal/discovery"
	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
	"github.com/kweaver-ai/consolegate/internal/oauth"
	"github.com/kweaver-ai/consolegate/internal/userinfo"
	"github.com/kweaver-ai/consolegate/session"
)

// callbackState is the branch the login callback takes. The checks are ordered:
// a state mismatch is reported even when the authorization server also sent an
// error, and no token is exchanged unless the state matched.
type callbackState int

const (
	callbackPending callbackState = iota
	callbackStateMismatch
	callbackUpstreamError
	callbackTokenExchange
)

func (s callbackState) String() string {
	switch s {
	case callbackStateMismatch:
		return "state_mismatch"
	case callbackUpstreamError:
		return "upstream_error"
	case callbackTokenExchange:
		return "token_exchange"
	default:
		return "pending"
	}
}

// classifyCallback picks the callback branch from the query and the session nonce.
func classifyCallback(query url.Values, sessionState string) callbackState {
	state := query.Get("state")
	if sessionState == "" || state != sessionState {
		return callbackStateMismatch
	}
	if query.Get("error") != "" {
		return callbackUpstreamError
	}
	return callbackTokenExchange
}

// handleCallback completes the authorization-code flow.
func (g *Gateway) handleCallback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var err error
	defer func() { g.metrics.ObserveFlow(g.product.Name, flowCallback, start, err) }()

	ctx := r.Context()
	query := r.URL.Query()
	prefix := g.redirectPrefix(r)

	sess, err := g.sessions.Load(r)
	if err != nil {
		err = gwerrors.NewSessionError(err)
		g.writeError(w, err)
		return
	}
	integrated := sess.Integrated()

	branch := classifyCallback(query, sess.State())
	g.logger.Debugf("Login callback branch: %s", branch)
	switch branch {
	case callbackStateMismatch:
		err = gwerrors.NewStateMismatch()
		g.navigate(w, integrated, g.errorURL(prefix, "state_mismatch", ""))
		return
	case callbackUpstreamError:
		err = gwerrors.NewUpstreamAuthError("authorize", http.StatusBadRequest, nil)
		g.logger.Infof("Authorization server returned %s: %s", query.Get("error"), query.Get("error_description"))
		g.navigate(w, integrated, g.errorURL(prefix, query.Get("error"), query.Get("error_description")))
		return
	}

	cfg, err := storedServiceConfig(sess)
	if err != nil {
		g.writeError(w, err)
		return
	}
	ts, err := g.oauth.ExchangeCode(ctx, cfg, query.Get("code"), prefix)
	if err != nil {
		g.writeError(w, err)
		return
	}
	user, err := g.establish(ctx, w, sess, cfg, ts)
	if err != nil {
		g.writeError(w, err)
		return
	}

	if err = g.land(ctx, r, cfg, user, ts, flowCallback); err != nil {
		if gwErr, ok := gwerrors.As(err); ok && gwErr.Code == gwerrors.ErrCodeKeepMeLoggedIn {
			g.navigate(w, integrated, g.errorURL(prefix, string(gwErr.Code), ""))
			return
		}
		g.writeError(w, err)
		return
	}

	target := g.homeURL(prefix)
	if integrated {
		if previous, ok := g.previousURL(r); ok {
			target = previous
		}
	}
	g.navigate(w, integrated, target)
}

func storedServiceConfig(sess *session.Session) (*discovery.ServiceConfig, error) {
	cfg, err := sess.ServiceConfig()
	if err != nil {
		return nil, gwerrors.NewSessionError(err)
	}
	if cfg == nil {
		return nil, gwerrors.NewSessionError(nil)
	}
	return cfg, nil
}

// establish is the success path shared by the callback, both SSO variants and
// the query-token bootstrap: introspect the access token, resolve the user,
// write the session and mirror the tokens into cookies. Cookies are only set
// once the session is saved.
func (g *Gateway) establish(ctx context.Context, w http.ResponseWriter, sess *session.Session, cfg *discovery.ServiceConfig, ts oauth.TokenSet) (*userinfo.Profile, error) {
	subject, err := g.oauth.Introspect(ctx, cfg, ts.AccessToken)
	if err != nil {
		return nil, err
	}
	user, err := g.directory.Resolve(ctx, cfg, subject)
	if err != nil {
		return nil, err
	}

	if err := sess.SetServiceConfig(cfg); err != nil {
		return nil, gwerrors.NewSessionError(err)
	}
	if err := sess.SetUser(user); err != nil {
		return nil, gwerrors.NewSessionError(err)
	}
	sess.SetTokens(ts)
	secondary := g.wantsSecondary(user.ID)
	sess.SetSecondaryCookies(secondary)
	if err := sess.Save(w); err != nil {
		g.logger.Errorf("Failed to save session for user %s: %v", user.ID, err)
		return nil, gwerrors.NewSessionError(err)
	}

	g.setCredentialCookies(w, ts, secondary)
	g.logger.Debugf("Session established for user %s (access token length %d)", user.ID, len(ts.AccessToken))
	return user, nil
}
