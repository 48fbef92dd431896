package consolegate

import (
	"net/http"
	"time"

	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
	"github.com/kweaver-ai/consolegate/internal/oauth"
	"github.com/kweaver-ai/consolegate/session"
)

// handleLogout revokes the access token and the upstream login session, then
// drops the local session and its cookies. If either revocation fails the
// cookies and the session are kept, since the upstream may still hold state.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var err error
	defer func() { g.metrics.ObserveFlow(g.product.Name, flowLogout, start, err) }()

	ctx := r.Context()
	sess, err := g.sessions.Load(r)
	if err != nil {
		err = gwerrors.NewSessionError(err)
		g.writeError(w, err)
		return
	}
	if sess.ClusterToken() == "" {
		g.writeNull(w, http.StatusOK)
		return
	}
	if !sess.Owns(g.presentedAccessToken(r)) {
		err = gwerrors.NewOwnershipViolation()
		g.logger.Infof("Logout rejected: access token cookie does not match session")
		g.writeNull(w, http.StatusForbidden)
		return
	}
	cfg, err := storedServiceConfig(sess)
	if err != nil {
		g.writeError(w, err)
		return
	}

	ts := sess.Tokens()
	if err = g.oauth.Revoke(ctx, cfg, ts.AccessToken); err != nil {
		g.logger.Errorf("Access token revocation failed: %v", err)
		g.writeErrorStatus(w, http.StatusInternalServerError, err)
		return
	}
	err = g.oauth.RevokeSession(ctx, cfg, oauth.EndSession{
		IDToken:        ts.IDToken,
		State:          sess.State(),
		ClusterCookie:  g.clusterCookie(r),
		SessionID:      sess.ID(),
		RedirectPrefix: g.redirectPrefix(r),
	})
	if err != nil {
		g.logger.Errorf("Upstream session revocation failed: %v", err)
		g.writeErrorStatus(w, http.StatusInternalServerError, err)
		return
	}

	g.terminate(w, sess)
	g.writeNull(w, http.StatusOK)
}

// handleLogoutCallback is where the authorization server sends the browser after
// ending the upstream session.
func (g *Gateway) handleLogoutCallback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var err error
	defer func() { g.metrics.ObserveFlow(g.product.Name, flowLogoutCallback, start, err) }()

	sess, err := g.sessions.Load(r)
	if err != nil {
		err = gwerrors.NewSessionError(err)
		g.writeError(w, err)
		return
	}
	if sess.ClusterToken() == "" {
		g.writeNull(w, http.StatusOK)
		return
	}
	if !sess.Owns(g.presentedAccessToken(r)) {
		err = gwerrors.NewOwnershipViolation()
		g.writeNull(w, http.StatusForbidden)
		return
	}

	g.terminate(w, sess)
	g.writeNull(w, http.StatusOK)
}

// terminate destroys the session and clears the credential cookies. A store
// failure is only logged; the record still expires by TTL.
func (g *Gateway) terminate(w http.ResponseWriter, sess *session.Session) {
	if err := sess.Destroy(w); err != nil {
		g.logger.Errorf("Failed to destroy session: %v", err)
	}
	g.clearCredentialCookies(w)
}
