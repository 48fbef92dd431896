package consolegate

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/kweaver-ai/consolegate/internal/logger"
	"github.com/kweaver-ai/consolegate/internal/oauth"
	"github.com/kweaver-ai/consolegate/internal/testutil"
	"github.com/kweaver-ai/consolegate/internal/testutil/servers"
)

type recordedSSO struct {
	ClientID    string            `json:"client_id"`
	RedirectURI string            `json:"redirect_uri"`
	State       string            `json:"state"`
	Lang        string            `json:"lang"`
	Credential  oauth.Credential  `json:"credential"`
	Params      map[string]string `json:"-"`
}

func (s *GatewaySuite) lastSSO() recordedSSO {
	req, ok := s.Upstream.Last(servers.SSO)
	s.Require().True(ok)
	var body recordedSSO
	s.Require().NoError(json.Unmarshal(req.Body, &body))
	s.Require().NoError(json.Unmarshal(body.Credential.Params, &body.Params))
	return body
}

func ssoURL(credential, redirect string) string {
	query := url.Values{}
	query.Set("credential", credential)
	query.Set("lang", "en")
	if redirect != "" {
		query.Set("redirect_url", redirect)
	}
	return "/studio/loginBySSO?" + query.Encode()
}

func (s *GatewaySuite) TestSSOLogin() {
	rec := s.serve(s.NewRequest(http.MethodGet, ssoURL(`{"id":"ldap","params":{"account":"alice"}}`, "/studio/apps")))

	s.Equal(http.StatusMovedPermanently, rec.Code)
	s.Equal("/studio/apps", rec.Header().Get("Location"))

	cookies := testutil.Cookies(rec)
	s.Equal("A", cookies[s.product.AccessTokenCookie()].Value)
	s.Equal(3, s.secondaryCount(cookies))
	s.Contains(cookies, s.product.SessionCookie())

	body := s.lastSSO()
	s.Equal("console-client", body.ClientID)
	s.Equal("https://[::1]:8443/studio/oauth/login/callback", body.RedirectURI)
	s.Equal("ldap", body.Credential.ID)
	s.Equal("alice", body.Params["account"])
	s.Equal("en", body.Lang)
	s.NotEmpty(body.State)

	token, ok := s.Upstream.Last(servers.Token)
	s.Require().True(ok)
	s.Equal("sso-code", token.Form.Get("code"))
	s.Equal(1, s.Upstream.Count(servers.Audit))
}

func (s *GatewaySuite) TestSSORedirectStyleResponse() {
	s.Upstream.Config.SSORedirectStyle = true

	rec := s.serve(s.NewRequest(http.MethodGet, ssoURL(`{"id":"ldap"}`, "")))

	s.Equal(http.StatusMovedPermanently, rec.Code)
	s.Equal("/studio/home", rec.Header().Get("Location"))
	token, ok := s.Upstream.Last(servers.Token)
	s.Require().True(ok)
	s.Equal("sso-code", token.Form.Get("code"))
}

func (s *GatewaySuite) TestSSORedirectTargets() {
	tests := []struct {
		name     string
		redirect string
		want     string
	}{
		{"relative path", "/studio/apps?tab=1", "/studio/apps?tab=1"},
		{"access host", "https://[::1]:8443/studio/apps", "https://[::1]:8443/studio/apps"},
		{"foreign host", "https://evil.example/studio", "/studio/home"},
		{"protocol relative", "//evil.example/studio", "/studio/home"},
		{"script scheme", "javascript:alert(1)", "/studio/home"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			rec := s.serve(s.NewRequest(http.MethodGet, ssoURL(`{"id":"ldap"}`, tt.redirect)))
			s.Equal(http.StatusMovedPermanently, rec.Code)
			s.Equal(tt.want, rec.Header().Get("Location"))
		})
	}
}

func (s *GatewaySuite) TestSSORejectedRedirectIsLogged() {
	var out bytes.Buffer
	s.gw = s.newGateway(Options{Logger: logger.NewStandardLogger("info", nil, &out)})

	rec := s.serve(s.NewRequest(http.MethodGet, ssoURL(`{"id":"ldap"}`, "https://deploy.example/deploy/apps")))

	s.Equal("/studio/home", rec.Header().Get("Location"))
	s.Contains(out.String(), "INFO: ")
	s.Contains(out.String(), "https://deploy.example/deploy/apps")
}

func (s *GatewaySuite) TestSSOInvalidCredential() {
	for _, credential := range []string{"", "not-json", `{"params":{}}`, `{"id":"ldap"} trailing`} {
		rec := s.serve(s.NewRequest(http.MethodGet, ssoURL(credential, "")))
		s.Equal(http.StatusBadRequest, rec.Code, credential)
		s.Contains(rec.Body.String(), "Authentication Error")
	}
	s.Zero(s.Upstream.Total())
}

func (s *GatewaySuite) TestSSOUpstreamRejection() {
	s.Upstream.Config.Failures = map[string]servers.Failure{
		servers.SSO: {Status: http.StatusBadRequest, Body: `{"code":401001003,"message":"wrong password"}`},
	}

	rec := s.serve(s.NewRequest(http.MethodGet, ssoURL(`{"id":"ldap"}`, "")))

	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Contains(rec.Body.String(), "UPSTREAM_AUTH_ERROR")
	s.Contains(rec.Body.String(), `href="/studio/home"`)
	s.NotContains(testutil.Cookies(rec), s.product.AccessTokenCookie())
	s.Zero(s.Upstream.Count(servers.Token))
}

func (s *GatewaySuite) TestInternalSSO() {
	rec := s.serve(s.NewRequest(http.MethodGet,
		"/studio/loginByInternalSSO?product_token=P&refresh_token=RT&redirect_url=/studio/apps"))

	s.Equal(http.StatusMovedPermanently, rec.Code)
	s.Equal("/studio/apps", rec.Header().Get("Location"))
	s.Equal("A", testutil.Cookies(rec)[s.product.AccessTokenCookie()].Value)

	introspections := s.Upstream.Requests(servers.Introspect)
	s.Require().Len(introspections, 2)
	s.Equal("P", introspections[0].Form.Get("token"))
	s.Equal("A", introspections[1].Form.Get("token"))

	ticket, ok := s.Upstream.Last(servers.Ticket)
	s.Require().True(ok)
	var ticketBody map[string]string
	s.Require().NoError(json.Unmarshal(ticket.Body, &ticketBody))
	s.Equal("RT", ticketBody["refresh_token"])

	body := s.lastSSO()
	s.Equal(oauth.InternalCredentialID, body.Credential.ID)
	s.Equal("ticket-1", body.Params["ticket"])
	s.Equal("user-1", body.Params["user_id"])
}

func (s *GatewaySuite) TestInternalSSORequiresTokens() {
	rec := s.serve(s.NewRequest(http.MethodGet, "/studio/loginByInternalSSO?product_token=P"))

	s.Equal(http.StatusBadRequest, rec.Code)
	s.Zero(s.Upstream.Total())
}

func (s *GatewaySuite) TestInternalSSOInactiveProductToken() {
	s.Upstream.Config.Inactive = true

	rec := s.serve(s.NewRequest(http.MethodGet, "/studio/loginByInternalSSO?product_token=P&refresh_token=RT"))

	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Zero(s.Upstream.Count(servers.Ticket))
	s.Zero(s.Upstream.Count(servers.SSO))
}
