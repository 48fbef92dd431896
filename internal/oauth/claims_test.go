package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kweaver-ai/consolegate/internal/testutil/fixtures"
)

func TestPeekClaims(t *testing.T) {
	f := fixtures.NewTokenFixture()
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)

	claims, ok := PeekClaims(f.IDToken("user-1", "sid-9", exp))
	require.True(t, ok)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "sid-9", claims.SessionID)

	expiry, ok := TokenExpiry(f.IDToken("user-1", "sid-9", exp))
	require.True(t, ok)
	assert.True(t, exp.Equal(expiry))
}

func TestPeekClaimsOpaque(t *testing.T) {
	for _, token := range []string{"", "A", "ory_at_abc.def", "a.b.c"} {
		_, ok := PeekClaims(token)
		assert.False(t, ok, token)
	}

	f := fixtures.NewTokenFixture()
	_, ok := TokenExpiry(f.Token("user-1", map[string]any{"exp": nil}))
	assert.False(t, ok)
}
