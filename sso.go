package consolegate

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kweaver-ai/consolegate/internal/discovery"
	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
	"github.com/kweaver-ai/consolegate/internal/oauth"
)

// codeSource obtains an authorization code for a freshly discovered snapshot.
type codeSource func(ctx context.Context, cfg *discovery.ServiceConfig, state, prefix string) (string, error)

// handleSSO logs in with a third-party credential passed as a JSON object in
// the credential query parameter.
func (g *Gateway) handleSSO(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	credential, err := oauth.ParseCredential(query.Get("credential"))
	if err != nil {
		g.logger.Debugf("Rejecting SSO request: %v", err)
		g.ssoFailed(w, r, flowSSO, time.Now(), gwerrors.NewBadRequest("invalid credential"))
		return
	}
	lang := query.Get("lang")
	g.ssoFlow(w, r, flowSSO, func(ctx context.Context, cfg *discovery.ServiceConfig, state, prefix string) (string, error) {
		return g.oauth.SSO(ctx, cfg, oauth.SSORequest{
			Credential:     credential,
			RedirectPrefix: prefix,
			State:          state,
			Lang:           lang,
		})
	})
}

// handleInternalSSO logs into this product with a session held in another one:
// the product token is introspected to a subject and the refresh token is traded
// for a ticket, which becomes the SSO credential.
func (g *Gateway) handleInternalSSO(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	productToken := query.Get("product_token")
	refreshToken := query.Get("refresh_token")
	if productToken == "" || refreshToken == "" {
		g.ssoFailed(w, r, flowInternalSSO, time.Now(), gwerrors.NewBadRequest("product_token and refresh_token are required"))
		return
	}
	lang := query.Get("lang")
	g.ssoFlow(w, r, flowInternalSSO, func(ctx context.Context, cfg *discovery.ServiceConfig, state, prefix string) (string, error) {
		subject, err := g.oauth.Introspect(ctx, cfg, productToken)
		if err != nil {
			return "", err
		}
		ticket, err := g.oauth.IssueTicket(ctx, cfg, refreshToken)
		if err != nil {
			return "", err
		}
		return g.oauth.SSO(ctx, cfg, oauth.SSORequest{
			Credential:     oauth.InternalCredential(ticket, subject),
			RedirectPrefix: prefix,
			State:          state,
			Lang:           lang,
		})
	})
}

// ssoFlow runs the part both SSO variants share: replace the session, discover,
// obtain a code, establish the session, audit and redirect to redirect_url.
func (g *Gateway) ssoFlow(w http.ResponseWriter, r *http.Request, flow string, obtain codeSource) {
	start := time.Now()
	ctx := r.Context()
	query := r.URL.Query()
	prefix := g.redirectPrefix(r)

	sess, err := g.sessions.Load(r)
	if err != nil {
		g.ssoFailed(w, r, flow, start, gwerrors.NewSessionError(err))
		return
	}
	if err := sess.Replace(ctx); err != nil {
		g.ssoFailed(w, r, flow, start, gwerrors.NewSessionError(err))
		return
	}
	cfg, err := g.resolve(r)
	if err != nil {
		g.ssoFailed(w, r, flow, start, err)
		return
	}

	state := uuid.NewString()
	sess.SetState(state)
	sess.SetLang(query.Get("lang"))
	sess.SetIntegrated(query.Get("integrated") == "true")

	code, err := obtain(ctx, cfg, state, prefix)
	if err != nil {
		g.ssoFailed(w, r, flow, start, err)
		return
	}
	ts, err := g.oauth.ExchangeCode(ctx, cfg, code, prefix)
	if err != nil {
		g.ssoFailed(w, r, flow, start, err)
		return
	}
	user, err := g.establish(ctx, w, sess, cfg, ts)
	if err != nil {
		g.ssoFailed(w, r, flow, start, err)
		return
	}
	if err := g.land(ctx, r, cfg, user, ts, flow); err != nil {
		g.ssoFailed(w, r, flow, start, err)
		return
	}

	requested := query.Get("redirect_url")
	target, ok := safeRedirectTarget(requested, cfg.Access)
	if !ok {
		if requested != "" {
			g.logger.Infof("%s redirect_url %q is not on access host %s, landing on home", flow, requested, cfg.Access.Host)
		}
		target = g.homeURL(prefix)
	}
	g.metrics.ObserveFlow(g.product.Name, flow, start, nil)
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

func (g *Gateway) ssoFailed(w http.ResponseWriter, r *http.Request, flow string, start time.Time, err error) {
	g.logger.Errorf("%s failed: %v", flow, err)
	g.metrics.ObserveFlow(g.product.Name, flow, start, err)
	g.renderErrorPage(w, g.redirectPrefix(r), err)
}
