package consolegate

import (
	"net/http"
	"net/url"
	"time"

	"github.com/kweaver-ai/consolegate/internal/oauth"
)

const originCookieMaxAge = 10 * 60

// credentialCookie is readable by the console scripts, so HttpOnly stays off.
func credentialCookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   true,
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
	}
}

func expiredCookie(name string) *http.Cookie {
	c := credentialCookie(name, "", -1)
	c.Expires = time.Unix(1, 0)
	return c
}

// credentialMaxAge keeps the cookies alive as long as the refresh token when it
// carries an exp claim. Opaque refresh tokens give browser-session cookies.
func credentialMaxAge(ts oauth.TokenSet) int {
	exp, ok := oauth.TokenExpiry(ts.RefreshToken)
	if !ok {
		return 0
	}
	remaining := int(time.Until(exp) / time.Second)
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// wantsSecondary reports whether a user gets the client-scoped cookie set.
func (g *Gateway) wantsSecondary(userID string) bool {
	return userID != "" && userID != g.product.DefaultAccountID
}

// setCredentialCookies mirrors the token set into the primary cookies and, when
// secondary is true, into all three client-scoped cookies. Otherwise the
// client-scoped names are expired so a previous user's tokens do not linger.
func (g *Gateway) setCredentialCookies(w http.ResponseWriter, ts oauth.TokenSet, secondary bool) {
	maxAge := credentialMaxAge(ts)
	http.SetCookie(w, credentialCookie(g.product.AccessTokenCookie(), ts.AccessToken, maxAge))
	http.SetCookie(w, credentialCookie(g.product.IDTokenCookie(), ts.IDToken, maxAge))
	http.SetCookie(w, credentialCookie(g.product.RefreshTokenCookie(), ts.RefreshToken, maxAge))
	if !secondary {
		g.clearSecondaryCookies(w)
		return
	}
	http.SetCookie(w, credentialCookie(g.product.SecondaryAccessTokenCookie(), ts.AccessToken, maxAge))
	http.SetCookie(w, credentialCookie(g.product.SecondaryIDTokenCookie(), ts.IDToken, maxAge))
	http.SetCookie(w, credentialCookie(g.product.SecondaryRefreshTokenCookie(), ts.RefreshToken, maxAge))
}

// clearCredentialCookies expires all six credential cookies regardless of what
// the session recorded, since the browser may still hold an earlier user's set.
func (g *Gateway) clearCredentialCookies(w http.ResponseWriter) {
	http.SetCookie(w, expiredCookie(g.product.AccessTokenCookie()))
	http.SetCookie(w, expiredCookie(g.product.IDTokenCookie()))
	http.SetCookie(w, expiredCookie(g.product.RefreshTokenCookie()))
	g.clearSecondaryCookies(w)
}

func (g *Gateway) clearSecondaryCookies(w http.ResponseWriter) {
	http.SetCookie(w, expiredCookie(g.product.SecondaryAccessTokenCookie()))
	http.SetCookie(w, expiredCookie(g.product.SecondaryIDTokenCookie()))
	http.SetCookie(w, expiredCookie(g.product.SecondaryRefreshTokenCookie()))
}

// presentedAccessToken is the access-token cookie the browser sent, used for the
// ownership check.
func (g *Gateway) presentedAccessToken(r *http.Request) string {
	c, err := r.Cookie(g.product.AccessTokenCookie())
	if err != nil {
		return ""
	}
	return c.Value
}

// originCookie remembers where the login started. The explicit origin parameter
// wins over the Referer; anything unsafe falls back to the product home.
func (g *Gateway) originCookie(r *http.Request, prefix string) *http.Cookie {
	origin := r.URL.Query().Get("origin")
	if origin == "" {
		if ref, err := url.Parse(r.Referer()); err == nil && ref.Path != "" {
			origin = ref.RequestURI()
		}
	}
	if !isSafeRelativePath(origin) {
		origin = g.homeURL(prefix)
	}
	return credentialCookie(g.product.OriginCookie(), url.QueryEscape(origin), originCookieMaxAge)
}
