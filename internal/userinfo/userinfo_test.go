package userinfo

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kweaver-ai/consolegate/internal/discovery"
	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
	"github.com/kweaver-ai/consolegate/internal/testutil/servers"
)

var testRoles = RoleMap{
	"super_admin": "role-super",
	"normal_user": "role-normal",
}

func newTestDirectory(t *testing.T, cfg *servers.UpstreamConfig) (*Directory, *servers.Upstream, *discovery.ServiceConfig) {
	t.Helper()
	upstream := servers.NewUpstream(cfg)
	t.Cleanup(upstream.Close)
	sc := upstream.ServiceConfig(discovery.Endpoint{Scheme: "https", Host: "console.local"})
	return NewDirectory(upstream.Client(), testRoles, nil, nil), upstream, &sc
}

func TestRoleMapRemap(t *testing.T) {
	ids, unknown := testRoles.Remap([]string{"normal_user", "ghost", "super_admin"})
	assert.Equal(t, []string{"role-normal", "role-super"}, ids)
	assert.Equal(t, []string{"ghost"}, unknown)

	ids, unknown = RoleMap(nil).Remap([]string{"super_admin"})
	assert.Empty(t, ids)
	assert.Equal(t, []string{"super_admin"}, unknown)

	assert.Equal(t, []string{"normal_user", "super_admin"}, testRoles.Names())
}

func TestResolve(t *testing.T) {
	dir, upstream, sc := newTestDirectory(t, nil)

	profile, err := dir.Resolve(context.Background(), sc, "user-1")
	require.NoError(t, err)
	assert.Equal(t, &Profile{
		ID:        "user-1",
		Name:      "Alice",
		Email:     "alice@example.com",
		Roles:     []string{"role-super", "role-normal"},
		Priority:  999,
		CreatedAt: 1700000000,
	}, profile)

	rec, ok := upstream.Last(servers.UserProfile)
	require.True(t, ok)
	assert.Equal(t, "user-1", rec.Query.Get("id"))
	assert.Equal(t, profileFields, rec.Query.Get("fields"))
}

func TestResolveUnknownUser(t *testing.T) {
	dir, _, sc := newTestDirectory(t, nil)

	_, err := dir.Resolve(context.Background(), sc, "ghost")
	require.Error(t, err)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.ErrCodeUserNotFound, gwErr.Code)
	assert.Equal(t, http.StatusNotFound, gwErr.HTTPStatus)
}

func TestResolveUpstreamFailure(t *testing.T) {
	cfg := servers.DefaultConfig()
	cfg.Failures = map[string]servers.Failure{
		servers.UserProfile: {Status: http.StatusForbidden, Body: `{"code":403001000,"message":"forbidden"}`},
	}
	dir, _, sc := newTestDirectory(t, cfg)

	_, err := dir.Resolve(context.Background(), sc, "user-1")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, gwerrors.GetHTTPStatus(err))
}

func TestHasRoleAssignment(t *testing.T) {
	cfg := servers.DefaultConfig()
	cfg.RoleAssignments["user-2"] = nil
	dir, upstream, sc := newTestDirectory(t, cfg)

	has, err := dir.HasRoleAssignment(context.Background(), sc, "user-1")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = dir.HasRoleAssignment(context.Background(), sc, "user-2")
	require.NoError(t, err)
	assert.False(t, has)

	rec, ok := upstream.Last(servers.RoleAssignment)
	require.True(t, ok)
	assert.Equal(t, "user-2", rec.Query.Get("accessor_id"))
}

func TestHasRoleAssignmentMalformed(t *testing.T) {
	cfg := servers.DefaultConfig()
	cfg.Failures = map[string]servers.Failure{
		servers.RoleAssignment: {Status: http.StatusOK, Body: `{"not":"an array"}`},
	}
	dir, _, sc := newTestDirectory(t, cfg)

	_, err := dir.HasRoleAssignment(context.Background(), sc, "user-1")
	require.Error(t, err)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "malformed response body", gwErr.Details)
}
