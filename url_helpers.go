package consolegate

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/kweaver-ai/consolegate/internal/discovery"
)

// ForwardedPrefixHeader is set by the ingress when the console is mounted below a path.
const ForwardedPrefixHeader = "X-Forwarded-Prefix"

// redirectPrefix is the path prefix embedded in the redirect and callback URIs.
// The forwarded prefix wins only when trusted and well formed.
func (g *Gateway) redirectPrefix(r *http.Request) string {
	if g.trustForwardedPrefix {
		if prefix := strings.TrimRight(r.Header.Get(ForwardedPrefixHeader), "/"); prefix != "" && isSafeRelativePath(prefix) {
			return prefix
		}
	}
	return g.product.PathPrefix
}

func (g *Gateway) homeURL(prefix string) string {
	return prefix + g.product.HomePath
}

// errorURL builds the console error landing page with the error forwarded in the query.
func (g *Gateway) errorURL(prefix, code, description string) string {
	query := url.Values{}
	query.Set("error", code)
	if description != "" {
		query.Set("error_description", description)
	}
	return prefix + g.product.ErrorPath + "?" + query.Encode()
}

// isSafeRelativePath accepts same-origin absolute paths only: no scheme, no host,
// no protocol-relative or backslash tricks and no traversal.
func isSafeRelativePath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.ContainsAny(p, "\\\r\n\t") {
		return false
	}
	u, err := url.Parse(p)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return false
	}
	for _, segment := range strings.Split(u.Path, "/") {
		if segment == ".." {
			return false
		}
	}
	return true
}

// safeRedirectTarget validates a caller-supplied redirect. Relative paths and
// absolute http(s) URLs on the discovered access host are allowed.
func safeRedirectTarget(raw string, access discovery.Endpoint) (string, bool) {
	if raw == "" {
		return "", false
	}
	if isSafeRelativePath(raw) {
		return raw, true
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.User != nil {
		return "", false
	}
	if !strings.EqualFold(u.Hostname(), strings.Trim(access.Host, "[]")) {
		return "", false
	}
	return u.String(), true
}

// previousURL returns the console path stored by the front end before it sent
// the user to log in, if it is safe to land on.
func (g *Gateway) previousURL(r *http.Request) (string, bool) {
	c, err := r.Cookie(g.product.PreviousURLCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	value, err := url.QueryUnescape(c.Value)
	if err != nil || !isSafeRelativePath(value) {
		g.logger.Debugf("Ignoring unsafe previous URL cookie")
		return "", false
	}
	return value, true
}

func (g *Gateway) clusterCookie(r *http.Request) *http.Cookie {
	c, err := r.Cookie(g.product.ClusterCookie)
	if err != nil {
		return nil
	}
	return c
}

func (g *Gateway) rememberMe(r *http.Request) bool {
	c, err := r.Cookie(g.product.RememberMeCookie)
	return err == nil && c.Value != "" && c.Value != "false"
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
