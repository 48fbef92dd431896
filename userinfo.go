package consolegate

import (
	"net/http"
	"time"

	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
)

// handleUserInfo returns the session user to the console that owns the session.
func (g *Gateway) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var err error
	defer func() { g.metrics.ObserveFlow(g.product.Name, flowUserInfo, start, err) }()

	sess, err := g.sessions.Load(r)
	if err != nil {
		err = gwerrors.NewSessionError(err)
		g.writeError(w, err)
		return
	}
	if !sess.Owns(g.presentedAccessToken(r)) {
		err = gwerrors.NewOwnershipViolation()
		g.writeError(w, err)
		return
	}
	user, err := sess.User()
	if err != nil || user == nil {
		err = gwerrors.NewSessionError(err)
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, user)
}
