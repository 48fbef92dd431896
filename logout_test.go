package consolegate

import (
	"net/http"
	"strings"

	"github.com/kweaver-ai/consolegate/internal/oauth"
	"github.com/kweaver-ai/consolegate/internal/testutil"
	"github.com/kweaver-ai/consolegate/internal/testutil/servers"
)

func (s *GatewaySuite) TestLogoutWithoutSession() {
	rec := s.serve(s.NewRequest(http.MethodPost, "/studio/logout"))

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("null", strings.TrimSpace(rec.Body.String()))
	s.Zero(s.Upstream.Total())
}

func (s *GatewaySuite) TestLogoutOwnershipMismatch() {
	sid := s.loggedIn()

	rec := s.serve(s.NewRequest(http.MethodPost, "/studio/logout", sid, s.access("someone-else")))

	s.Equal(http.StatusForbidden, rec.Code)
	s.Equal("null", strings.TrimSpace(rec.Body.String()))
	s.Zero(s.Upstream.Total())
	s.Empty(rec.Result().Cookies())
}

func (s *GatewaySuite) TestLogoutEndsUpstreamSession() {
	sid := s.loggedIn()
	cluster := &http.Cookie{Name: s.product.ClusterCookie, Value: "node-2"}

	rec := s.serve(s.NewRequest(http.MethodPost, "/studio/logout", sid, s.access("A"), cluster))

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("null", strings.TrimSpace(rec.Body.String()))

	revoke, ok := s.Upstream.Last(servers.Revoke)
	s.Require().True(ok)
	s.Equal("A", revoke.Form.Get("token"))

	end, ok := s.Upstream.Last(servers.EndSession)
	s.Require().True(ok)
	s.Equal("I", end.Query.Get("id_token_hint"))
	s.NotEmpty(end.Query.Get("state"))
	s.Equal("https://[::1]:8443/studio/oauth/logout/callback", end.Query.Get("post_logout_redirect_uri"))
	s.NotEmpty(end.Header.Get(oauth.SessionIDHeader))
	s.Contains(end.Header.Get("Cookie"), "cluster.id=node-2")

	cookies := testutil.Cookies(rec)
	for _, name := range []string{
		s.product.AccessTokenCookie(),
		s.product.IDTokenCookie(),
		s.product.RefreshTokenCookie(),
		s.product.SecondaryAccessTokenCookie(),
		s.product.SecondaryIDTokenCookie(),
		s.product.SecondaryRefreshTokenCookie(),
		s.product.SessionCookie(),
	} {
		s.Require().Contains(cookies, name)
		s.Less(cookies[name].MaxAge, 0, name)
	}

	info := s.serve(s.NewRequest(http.MethodGet, "/studio/oauth/getUserInfoByToken", sid, s.access("A")))
	s.Equal(http.StatusForbidden, info.Code)
}

func (s *GatewaySuite) TestLogoutRevocationFailureKeepsSession() {
	sid := s.loggedIn()
	s.Upstream.Config.Failures = map[string]servers.Failure{
		servers.Revoke: {Status: http.StatusServiceUnavailable, Body: "unavailable"},
	}

	rec := s.serve(s.NewRequest(http.MethodPost, "/studio/logout", sid, s.access("A")))

	s.Equal(http.StatusInternalServerError, rec.Code)
	s.Equal("UPSTREAM_AUTH_ERROR", s.errorCode(rec))
	s.Zero(s.Upstream.Count(servers.EndSession))
	s.NotContains(testutil.Cookies(rec), s.product.AccessTokenCookie())

	info := s.serve(s.NewRequest(http.MethodGet, "/studio/oauth/getUserInfoByToken", sid, s.access("A")))
	s.Equal(http.StatusOK, info.Code)
}

func (s *GatewaySuite) TestLogoutEndSessionFailure() {
	sid := s.loggedIn()
	s.Upstream.Config.EndSessionStatus = http.StatusBadGateway

	rec := s.serve(s.NewRequest(http.MethodPost, "/studio/logout", sid, s.access("A")))

	s.Equal(http.StatusInternalServerError, rec.Code)
	s.Equal(1, s.Upstream.Count(servers.Revoke))
	s.NotContains(testutil.Cookies(rec), s.product.AccessTokenCookie())
}

func (s *GatewaySuite) TestLogoutCallback() {
	sid := s.loggedIn()

	mismatch := s.serve(s.NewRequest(http.MethodGet, "/studio/oauth/logout/callback", sid, s.access("other")))
	s.Equal(http.StatusForbidden, mismatch.Code)

	rec := s.serve(s.NewRequest(http.MethodGet, "/studio/oauth/logout/callback", sid, s.access("A")))
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("null", strings.TrimSpace(rec.Body.String()))
	s.Less(testutil.Cookies(rec)[s.product.AccessTokenCookie()].MaxAge, 0)
	s.Zero(s.Upstream.Total())

	again := s.serve(s.NewRequest(http.MethodGet, "/studio/oauth/logout/callback", sid, s.access("A")))
	s.Equal(http.StatusOK, again.Code)
}
