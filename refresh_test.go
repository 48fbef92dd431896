package consolegate

import (
	"encoding/json"
	"net/http"

	"github.com/kweaver-ai/consolegate/internal/testutil"
	"github.com/kweaver-ai/consolegate/internal/testutil/servers"
)

func (s *GatewaySuite) TestRefreshWithoutSession() {
	rec := s.serve(s.NewRequest(http.MethodGet, "/studio/refreshtoken", s.access("A")))

	s.Equal(http.StatusInternalServerError, rec.Code)
	s.Equal("TOKEN_REFRESH_FAILED", s.errorCode(rec))
	s.Zero(s.Upstream.Total())
}

func (s *GatewaySuite) TestRefreshRotatesTokens() {
	sid := s.loggedIn()

	rec := s.serve(s.NewRequest(http.MethodGet, "/studio/refreshtoken", sid, s.access("A")))

	s.Require().Equal(http.StatusOK, rec.Code)
	var body refreshResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("A2", body.AccessToken)
	s.Equal("I2", body.IDToken)
	s.Equal(int64(3600), body.ExpiresIn)

	cookies := testutil.Cookies(rec)
	s.Equal("A2", cookies[s.product.AccessTokenCookie()].Value)
	s.Equal("R2", cookies[s.product.RefreshTokenCookie()].Value)
	s.Equal("A2", cookies[s.product.SecondaryAccessTokenCookie()].Value)
	s.Equal(3, s.secondaryCount(cookies))

	token, ok := s.Upstream.Last(servers.Token)
	s.Require().True(ok)
	s.Equal("refresh_token", token.Form.Get("grant_type"))
	s.Equal("R", token.Form.Get("refresh_token"))

	// the old access token no longer owns the session
	stale := s.serve(s.NewRequest(http.MethodGet, "/studio/refreshtoken", sid, s.access("A")))
	s.Equal(http.StatusForbidden, stale.Code)
	s.Equal(1, s.Upstream.Count(servers.Token))

	info := s.serve(s.NewRequest(http.MethodGet, "/studio/oauth/getUserInfoByToken", sid, s.access("A2")))
	s.Equal(http.StatusOK, info.Code)
}

func (s *GatewaySuite) TestRefreshKeepsIDTokenWhenNotReissued() {
	s.Upstream.Config.RefreshTokens.IDToken = ""
	sid := s.loggedIn()

	rec := s.serve(s.NewRequest(http.MethodGet, "/studio/refreshtoken", sid, s.access("A")))

	s.Require().Equal(http.StatusOK, rec.Code)
	var body refreshResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("I", body.IDToken)
	s.Equal("I", testutil.Cookies(rec)[s.product.IDTokenCookie()].Value)
}

func (s *GatewaySuite) TestRefreshOwnershipMismatch() {
	sid := s.loggedIn()

	rec := s.serve(s.NewRequest(http.MethodGet, "/studio/refreshtoken", sid, s.access("someone-else")))

	s.Equal(http.StatusForbidden, rec.Code)
	s.Equal("OWNERSHIP_VIOLATION", s.errorCode(rec))
	s.Zero(s.Upstream.Total())
}

func (s *GatewaySuite) TestRefreshUpstreamFailureKeepsSession() {
	sid := s.loggedIn()
	s.Upstream.Config.Failures = map[string]servers.Failure{
		servers.Token: {Status: http.StatusBadRequest, Body: `{"error":"invalid_grant"}`},
	}

	rec := s.serve(s.NewRequest(http.MethodGet, "/studio/refreshtoken", sid, s.access("A")))

	s.Equal(http.StatusInternalServerError, rec.Code)
	s.Equal("UPSTREAM_AUTH_ERROR", s.errorCode(rec))
	s.NotContains(testutil.Cookies(rec), s.product.AccessTokenCookie())

	info := s.serve(s.NewRequest(http.MethodGet, "/studio/oauth/getUserInfoByToken", sid, s.access("A")))
	s.Equal(http.StatusOK, info.Code)
}
