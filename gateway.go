// Package consolegate is the authentication and session gateway in front of the
// console products. One Gateway serves one product profile: it runs the
// authorization-code login, the two SSO entry points, token refresh, logout and
// the query-token bootstrap, keeping a server-side session in Redis and
// mirroring the issued credentials into browser cookies.
package consolegate

import (
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/kweaver-ai/consolegate/config"
	"github.com/kweaver-ai/consolegate/internal/audit"
	"github.com/kweaver-ai/consolegate/internal/discovery"
	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
	"github.com/kweaver-ai/consolegate/internal/logger"
	"github.com/kweaver-ai/consolegate/internal/metrics"
	"github.com/kweaver-ai/consolegate/internal/oauth"
	"github.com/kweaver-ai/consolegate/internal/userinfo"
	"github.com/kweaver-ai/consolegate/session"
)

// Flow names used in logs and metrics
const (
	flowLogin          = "login"
	flowCallback       = "callback"
	flowSSO            = "sso"
	flowInternalSSO    = "internal_sso"
	flowRefresh        = "refresh"
	flowLogout         = "logout"
	flowLogoutCallback = "logout_callback"
	flowBootstrap      = "bootstrap"
	flowUserInfo       = "user_info"
)

// Options carries the collaborators shared by every product gateway.
type Options struct {
	Resolver  discovery.Resolver
	OAuth     *oauth.Client
	Directory *userinfo.Directory
	// Recorder is optional; without it logins are not audited.
	Recorder *audit.Recorder
	Store    *session.RedisStore
	Metrics  *metrics.Metrics
	Logger   logger.Logger

	RateLimit config.RateLimitConfig
	// TrustForwardedPrefix lets X-Forwarded-Prefix override the product path prefix
	// in the redirect and callback URIs.
	TrustForwardedPrefix bool
}

// Gateway is the http.Handler for one console product.
type Gateway struct {
	product   config.Product
	resolver  discovery.Resolver
	oauth     *oauth.Client
	directory *userinfo.Directory
	recorder  *audit.Recorder
	sessions  *session.Manager
	metrics   *metrics.Metrics
	logger    logger.Logger

	limiter              *rate.Limiter
	trustForwardedPrefix bool
	mux                  *http.ServeMux
}

// New builds the gateway for product.
func New(product config.Product, opts Options) (*Gateway, error) {
	if err := product.Validate(); err != nil {
		return nil, fmt.Errorf("invalid product %q: %w", product.Name, err)
	}
	if opts.Resolver == nil || opts.OAuth == nil || opts.Directory == nil || opts.Store == nil {
		return nil, fmt.Errorf("resolver, oauth client, directory and session store are required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.NoOp()
	}
	log = log.WithField("product", product.Name)

	g := &Gateway{
		product:              product,
		resolver:             opts.Resolver,
		oauth:                opts.OAuth,
		directory:            opts.Directory,
		recorder:             opts.Recorder,
		sessions:             session.NewManager(opts.Store, product.SessionCookie(), log),
		metrics:              opts.Metrics,
		logger:               log,
		trustForwardedPrefix: opts.TrustForwardedPrefix,
		mux:                  http.NewServeMux(),
	}
	if opts.RateLimit.Enabled {
		g.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit.RequestsPerSecond), opts.RateLimit.Burst)
	}
	g.routes()
	return g, nil
}

func (g *Gateway) routes() {
	p := g.product.PathPrefix
	g.mux.HandleFunc("GET "+p+"/login", g.throttled(flowLogin, g.handleLogin))
	g.mux.HandleFunc("GET "+p+oauth.LoginCallbackPath, g.handleCallback)
	g.mux.HandleFunc("GET "+p+oauth.LogoutCallbackPath, g.handleLogoutCallback)
	g.mux.HandleFunc("POST "+p+"/logout", g.handleLogout)
	g.mux.HandleFunc("GET "+p+"/refreshtoken", g.handleRefresh)
	g.mux.HandleFunc("GET "+p+"/oauth/getUserInfoByToken", g.handleUserInfo)
	g.mux.HandleFunc("GET "+p+"/loginBySSO", g.throttled(flowSSO, g.handleSSO))
	g.mux.HandleFunc("GET "+p+"/loginByInternalSSO", g.throttled(flowInternalSSO, g.handleInternalSSO))
	g.mux.HandleFunc("GET "+p+"/oauth/loginByToken", g.throttled(flowBootstrap, g.handleBootstrap))
}

// ServeHTTP dispatches to the product routes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

// Product returns the profile the gateway was built for.
func (g *Gateway) Product() config.Product {
	return g.product
}

// throttled rejects entry-point requests beyond the configured rate with 429.
func (g *Gateway) throttled(flow string, next http.HandlerFunc) http.HandlerFunc {
	if g.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.limiter.Allow() {
			g.logger.Infof("Rate limit exceeded for %s from %s", flow, clientIP(r))
			g.metrics.Throttled(g.product.Name, flow)
			g.writeError(w, gwerrors.NewRateLimited())
			return
		}
		next(w, r)
	}
}
