package consolegate

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
	"github.com/kweaver-ai/consolegate/internal/oauth"
)

// handleBootstrap builds a session from a token pair the embedding caller
// already holds. There is no state nonce here: possession of a token the
// authorization server still reports active is the credential.
func (g *Gateway) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var err error
	defer func() { g.metrics.ObserveFlow(g.product.Name, flowBootstrap, start, err) }()

	ctx := r.Context()
	query := r.URL.Query()
	ts := oauth.TokenSet{
		AccessToken:  query.Get("access_token"),
		RefreshToken: query.Get("refresh_token"),
	}
	if ts.AccessToken == "" {
		err = gwerrors.NewBadRequest("access_token is required")
		g.writeError(w, err)
		return
	}

	sess, err := g.sessions.Load(r)
	if err != nil {
		err = gwerrors.NewSessionError(err)
		g.writeError(w, err)
		return
	}
	if err = sess.Replace(ctx); err != nil {
		err = gwerrors.NewSessionError(err)
		g.writeError(w, err)
		return
	}
	cfg, err := g.resolve(r)
	if err != nil {
		g.writeError(w, err)
		return
	}

	sess.SetState(uuid.NewString())
	sess.SetLang(query.Get("lang"))
	sess.SetIntegrated(true)
	user, err := g.establish(ctx, w, sess, cfg, ts)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, user)
}
