package consolegate

import (
	"context"
	"net/http"

	"github.com/kweaver-ai/consolegate/internal/audit"
	"github.com/kweaver-ai/consolegate/internal/discovery"
	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
	"github.com/kweaver-ai/consolegate/internal/oauth"
	"github.com/kweaver-ai/consolegate/internal/userinfo"
)

// land decides whether an established login may proceed to the console.
//
// A subject with a role assignment is audited and lands. A subject without one
// lands unaudited, unless the browser carries a remember-me cookie: that
// combination means the front end believes a role-bearing user is logged in and
// is reported as keep_me_logged_in.
func (g *Gateway) land(ctx context.Context, r *http.Request, cfg *discovery.ServiceConfig, user *userinfo.Profile, ts oauth.TokenSet, flow string) error {
	assigned, err := g.directory.HasRoleAssignment(ctx, cfg, user.ID)
	if err != nil {
		return err
	}
	if assigned {
		g.recordLogin(ctx, r, cfg, user, ts, flow)
		return nil
	}
	if g.rememberMe(r) {
		g.logger.Infof("User %s has no role assignment but presented a remember-me cookie", user.ID)
		return gwerrors.NewKeepMeLoggedIn()
	}
	g.logger.Debugf("User %s has no role assignment, landing without audit", user.ID)
	return nil
}

// recordLogin sends the audit and observability events. It never fails the login.
func (g *Gateway) recordLogin(ctx context.Context, r *http.Request, cfg *discovery.ServiceConfig, user *userinfo.Profile, ts oauth.TokenSet, flow string) {
	if g.recorder == nil {
		return
	}
	g.recorder.RecordLogin(ctx, cfg, audit.LoginEvent{
		Product:   g.product.Name,
		Flow:      flow,
		UserID:    user.ID,
		UserName:  user.Name,
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
		IDToken:   ts.IDToken,
	})
}
