// Package security hardens the responses the gateway sends to browsers.
package security

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"

	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
	"github.com/kweaver-ai/consolegate/internal/logger"
)

// HeadersConfig configures the security headers added to every response
type HeadersConfig struct {
	// ContentSecurityPolicy covers the navigate and error pages. frame-ancestors
	// must admit the embedding console for integrated logins.
	ContentSecurityPolicy string

	// HSTS, sent only for HTTPS requests
	StrictTransportSecurityMaxAge     int // seconds
	StrictTransportSecuritySubdomains bool

	ContentTypeOptions string
	ReferrerPolicy     string

	// Custom headers
	CustomHeaders map[string]string

	DisableServerHeader bool
}

// DefaultHeadersConfig returns the headers suitable for the console gateway.
// Framing is limited to the same origin so integrated consoles keep working.
func DefaultHeadersConfig() *HeadersConfig {
	return &HeadersConfig{
		ContentSecurityPolicy: "default-src 'none'; script-src 'unsafe-inline'; style-src 'unsafe-inline'; frame-ancestors 'self'; base-uri 'none'; form-action 'self';",

		StrictTransportSecurityMaxAge:     31536000, // 1 year
		StrictTransportSecuritySubdomains: true,

		ContentTypeOptions: "nosniff",
		ReferrerPolicy:     "same-origin",

		DisableServerHeader: true,
	}
}

// Headers applies security headers and recovers handler panics
type Headers struct {
	config *HeadersConfig
	logger logger.Logger
}

// NewHeaders creates the middleware. A nil config selects the defaults.
func NewHeaders(config *HeadersConfig, log logger.Logger) *Headers {
	if config == nil {
		config = DefaultHeadersConfig()
	}
	if log == nil {
		log = logger.NoOp()
	}
	return &Headers{config: config, logger: log}
}

// Apply sets the configured headers on the response
func (m *Headers) Apply(rw http.ResponseWriter, req *http.Request) {
	headers := rw.Header()

	if m.config.ContentSecurityPolicy != "" {
		headers.Set("Content-Security-Policy", m.config.ContentSecurityPolicy)
	}

	if req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https" {
		if hsts := m.buildHSTSHeader(); hsts != "" {
			headers.Set("Strict-Transport-Security", hsts)
		}
	}

	if m.config.ContentTypeOptions != "" {
		headers.Set("X-Content-Type-Options", m.config.ContentTypeOptions)
	}
	if m.config.ReferrerPolicy != "" {
		headers.Set("Referrer-Policy", m.config.ReferrerPolicy)
	}

	for name, value := range m.config.CustomHeaders {
		headers.Set(name, value)
	}

	if m.config.DisableServerHeader {
		headers.Del("Server")
	}
}

func (m *Headers) buildHSTSHeader() string {
	if m.config.StrictTransportSecurityMaxAge <= 0 {
		return ""
	}
	parts := []string{"max-age=" + strconv.Itoa(m.config.StrictTransportSecurityMaxAge)}
	if m.config.StrictTransportSecuritySubdomains {
		parts = append(parts, "includeSubDomains")
	}
	return strings.Join(parts, "; ")
}

// Wrap applies the headers before next runs. A panic in next is logged with its
// stack and answered with a 500 JSON body when nothing was written yet.
func (m *Headers) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		m.Apply(rw, req)
		tw := &trackingWriter{ResponseWriter: rw}
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if r == http.ErrAbortHandler {
				panic(r)
			}
			m.logger.Errorf("Handler panic recovered on %s %s: %v\n%s", req.Method, req.URL.Path, r, debug.Stack())
			if tw.wroteHeader {
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(rw).Encode(gwerrors.NewSessionError(nil).ToJSON()) // Safe to ignore: best effort after panic
		}()
		next.ServeHTTP(tw, req)
	})
}

// trackingWriter records whether the status line went out
type trackingWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *trackingWriter) WriteHeader(status int) {
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (w *trackingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
