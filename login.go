package consolegate

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kweaver-ai/consolegate/internal/discovery"
	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
)

// handleLogin starts the authorization-code flow. The session is replaced before
// discovery so a failed attempt never leaves the previous login usable.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var err error
	defer func() { g.metrics.ObserveFlow(g.product.Name, flowLogin, start, err) }()

	ctx := r.Context()
	query := r.URL.Query()
	prefix := g.redirectPrefix(r)

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

	product := query.Get("product")
	if product == "" {
		product = g.product.Name
	}
	lang := query.Get("lang")
	state := uuid.NewString()
	authURL := g.oauth.AuthCodeURL(cfg, prefix, state, lang, product)

	sess.SetState(state)
	sess.SetLang(lang)
	sess.SetIntegrated(query.Get("integrated") == "true")
	if err = sess.SetServiceConfig(cfg); err != nil {
		err = gwerrors.NewSessionError(err)
		g.writeError(w, err)
		return
	}
	if err = sess.Save(w); err != nil {
		g.logger.Errorf("Failed to save session at login: %v", err)
		err = gwerrors.NewSessionError(err)
		g.writeError(w, err)
		return
	}

	http.SetCookie(w, g.originCookie(r, prefix))
	g.logger.Debugf("Redirecting to authorization server, integrated=%v", sess.Integrated())
	http.Redirect(w, r, authURL, http.StatusMovedPermanently)
}

// resolve discovers the ServiceConfig snapshot for a new authentication
// lifecycle, passing the cluster-routing cookie for affinity.
func (g *Gateway) resolve(r *http.Request) (*discovery.ServiceConfig, error) {
	cfg, err := g.resolver.Resolve(r.Context(), g.clusterCookie(r))
	if err != nil {
		g.logger.Errorf("Service discovery failed: %v", err)
		if _, ok := gwerrors.As(err); !ok {
			err = gwerrors.NewDiscoveryError(err)
		}
		return nil, err
	}
	return cfg, nil
}
