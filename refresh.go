package consolegate

import (
	"net/http"
	"time"

	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
)

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// handleRefresh rotates the session's token set with the stored refresh token
// against the snapshot resolved at login. On upstream failure the previous
// token set is left in place.
func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var err error
	defer func() { g.metrics.ObserveFlow(g.product.Name, flowRefresh, start, err) }()

	sess, err := g.sessions.Load(r)
	if err != nil {
		err = gwerrors.NewSessionError(err)
		g.writeError(w, err)
		return
	}
	if !sess.HasTokens() {
		err = gwerrors.NewTokenRefreshFailed(nil)
		g.writeError(w, err)
		return
	}
	if !sess.Owns(g.presentedAccessToken(r)) {
		err = gwerrors.NewOwnershipViolation()
		g.logger.Infof("Refresh rejected: access token cookie does not match session")
		g.writeError(w, err)
		return
	}
	cfg, err := storedServiceConfig(sess)
	if err != nil {
		g.writeError(w, err)
		return
	}
	user, err := sess.User()
	if err != nil {
		err = gwerrors.NewSessionError(err)
		g.writeError(w, err)
		return
	}

	previous := sess.Tokens()
	ts, err := g.oauth.Refresh(r.Context(), cfg, previous.RefreshToken)
	if err != nil {
		g.logger.Errorf("Token refresh failed: %v", err)
		g.writeErrorStatus(w, http.StatusInternalServerError, err)
		return
	}
	if ts.IDToken == "" {
		ts.IDToken = previous.IDToken
	}

	secondary := user != nil && g.wantsSecondary(user.ID)
	sess.SetTokens(ts)
	sess.SetSecondaryCookies(secondary)
	if err = sess.Save(w); err != nil {
		err = gwerrors.NewSessionError(err)
		g.writeError(w, err)
		return
	}
	g.setCredentialCookies(w, ts, secondary)

	g.writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken: ts.AccessToken,
		IDToken:     ts.IDToken,
		ExpiresIn:   ts.ExpiresIn,
	})
}
