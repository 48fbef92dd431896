// Package testutil holds the shared fixtures of the gateway test suites.
package testutil

import (
	"net/http"
	"net/http/httptest"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/kweaver-ai/consolegate/internal/testutil/fixtures"
	"github.com/kweaver-ai/consolegate/internal/testutil/servers"
)

// GatewaySuite is the base suite for tests that drive a full flow: a fake
// upstream, an in-memory Redis and a token fixture.
type GatewaySuite struct {
	suite.Suite

	Tokens   *fixtures.TokenFixture
	Upstream *servers.Upstream
	Redis    *miniredis.Miniredis
	Client   *redis.Client
}

// SetupSuite runs once before all tests in the suite
func (s *GatewaySuite) SetupSuite() {
	s.Tokens = fixtures.NewTokenFixture()
}

// SetupTest gives each test a fresh upstream and an empty Redis
func (s *GatewaySuite) SetupTest() {
	s.Upstream = servers.NewUpstream(servers.DefaultConfig())
	s.Redis, s.Client = NewRedis(s.T())
}

// TearDownTest runs after each test
func (s *GatewaySuite) TearDownTest() {
	if s.Upstream != nil {
		s.Upstream.Close()
	}
}

// NewRequest creates a request carrying the given cookies
func (s *GatewaySuite) NewRequest(method, target string, cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

// Cookies indexes the cookies a response set by name
func Cookies(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie)
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}
