package servers

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpstreamCountsPerEndpoint(t *testing.T) {
	u := NewUpstream(nil)
	defer u.Close()

	form := url.Values{"grant_type": {"authorization_code"}, "code": {"c1"}}
	resp, err := http.Post(u.URL+"/oauth2/token", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"access_token":"A"`)
	assert.Equal(t, 1, u.Count(Token))
	assert.Equal(t, 1, u.Total())

	rec, ok := u.Last(Token)
	require.True(t, ok)
	assert.Equal(t, "c1", rec.Form.Get("code"))

	u.Reset()
	assert.Equal(t, 0, u.Total())
}

func TestUpstreamUserLookup(t *testing.T) {
	u := NewUpstream(nil)
	defer u.Close()

	resp, err := http.Get(u.URL + "/api/user-management/v1/users/nobody/name,email")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `[]`, string(body))

	rec, ok := u.Last(UserProfile)
	require.True(t, ok)
	assert.Equal(t, "nobody", rec.Query.Get("id"))
	assert.Equal(t, "name,email", rec.Query.Get("fields"))
}

func TestUpstreamFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Failures = map[string]Failure{Revoke: {Status: http.StatusBadGateway, Body: "down"}}
	u := NewUpstream(cfg)
	defer u.Close()

	resp, err := http.Post(u.URL+"/oauth2/revoke", "application/x-www-form-urlencoded", strings.NewReader("token=A"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, 1, u.Count(Revoke))
}
