package consolegate

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/kweaver-ai/consolegate/internal/discovery"
	"github.com/kweaver-ai/consolegate/internal/testutil"
	"github.com/kweaver-ai/consolegate/internal/testutil/mocks"
	"github.com/kweaver-ai/consolegate/internal/testutil/servers"
	"github.com/kweaver-ai/consolegate/internal/userinfo"
)

func (s *GatewaySuite) TestBootstrapFromQueryTokens() {
	rec := s.serve(s.NewRequest(http.MethodGet, "/studio/oauth/loginByToken?access_token=A&refresh_token=R&lang=en"))

	s.Require().Equal(http.StatusOK, rec.Code)
	var user userinfo.Profile
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &user))
	s.Equal("user-1", user.ID)

	cookies := testutil.Cookies(rec)
	s.Equal("A", cookies[s.product.AccessTokenCookie()].Value)
	s.Equal("R", cookies[s.product.RefreshTokenCookie()].Value)
	sid := cookies[s.product.SessionCookie()]
	s.Require().NotNil(sid)
	s.Zero(s.Upstream.Count(servers.Token))

	info := s.serve(s.NewRequest(http.MethodGet, "/studio/oauth/getUserInfoByToken", sid, s.access("A")))
	s.Equal(http.StatusOK, info.Code)

	refresh := s.serve(s.NewRequest(http.MethodGet, "/studio/refreshtoken", sid, s.access("A")))
	s.Equal(http.StatusOK, refresh.Code)
}

func (s *GatewaySuite) TestBootstrapRequiresAccessToken() {
	rec := s.serve(s.NewRequest(http.MethodGet, "/studio/oauth/loginByToken?refresh_token=R"))

	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("BAD_REQUEST", s.errorCode(rec))
	s.Zero(s.Upstream.Total())
}

func (s *GatewaySuite) TestBootstrapInactiveToken() {
	s.Upstream.Config.Inactive = true

	rec := s.serve(s.NewRequest(http.MethodGet, "/studio/oauth/loginByToken?access_token=A&refresh_token=R"))

	s.Equal(http.StatusUnauthorized, rec.Code)
	s.NotContains(testutil.Cookies(rec), s.product.AccessTokenCookie())
}

func (s *GatewaySuite) TestUserInfoRequiresOwnership() {
	rec := s.serve(s.NewRequest(http.MethodGet, "/studio/oauth/getUserInfoByToken", s.access("A")))
	s.Equal(http.StatusForbidden, rec.Code)
	s.Equal("OWNERSHIP_VIOLATION", s.errorCode(rec))

	sid := s.loggedIn()
	rec = s.serve(s.NewRequest(http.MethodGet, "/studio/oauth/getUserInfoByToken", sid))
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *GatewaySuite) TestDiscoveryFailure() {
	resolver := new(mocks.Resolver)
	snapshot := s.Upstream.ServiceConfig(accessEndpoint)
	pinned := mock.MatchedBy(func(c *http.Cookie) bool { return c != nil && c.Value == "node-2" })
	resolver.On("Resolve", mock.Anything, pinned).Return(&snapshot, nil).Once()
	resolver.On("Resolve", mock.Anything, pinned).Return(nil, errors.New("deploy manager unreachable")).Once()
	s.gw = s.newGateway(Options{Resolver: resolver})
	cluster := &http.Cookie{Name: s.product.ClusterCookie, Value: "node-2"}

	_, sid := s.login("", cluster)
	rec := s.serve(s.NewRequest(http.MethodGet, "/studio/login", sid, cluster))

	s.Equal(http.StatusInternalServerError, rec.Code)
	s.Equal("DISCOVERY_FAILED", s.errorCode(rec))
	s.Empty(rec.Header().Get("Location"))
	resolver.AssertExpectations(s.T())
}

func (s *GatewaySuite) TestStaticResolverSnapshotIsIsolated() {
	resolver := discovery.NewStaticFromSnapshot(s.Upstream.ServiceConfig(accessEndpoint))
	first, err := resolver.Resolve(s.T().Context(), nil)
	s.Require().NoError(err)
	first.ClientID = "mutated"

	second, err := resolver.Resolve(s.T().Context(), nil)
	s.Require().NoError(err)
	s.Equal("console-client", second.ClientID)
}
