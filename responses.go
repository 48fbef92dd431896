package consolegate

import (
	"encoding/json"
	"html/template"
	"net/http"

	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
)

// navigatePage moves the browser to URL from the top window, or from the
// embedding frame's parent when the console runs integrated.
var navigatePage = template.Must(template.New("navigate").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Redirecting</title></head>
<body>
<script>{{if .Parent}}window.parent{{else}}window.top{{end}}.location.href = {{.URL}};</script>
<noscript><a href="{{.URL}}">Continue</a></noscript>
</body>
</html>`))

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Authentication Error</title>
    <style>
        body { font-family: sans-serif; padding: 20px; background-color: #f8f9fa; color: #343a40; }
        h1 { color: #dc3545; }
        .container { max-width: 600px; margin: auto; background: #fff; padding: 20px; border-radius: 5px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        code { color: #6c757d; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Authentication Error</h1>
        <p>{{.Message}}</p>
        <p><code>{{.Code}}</code></p>
        <p><a href="{{.Home}}">Return to the console</a></p>
    </div>
</body>
</html>`))

type navigateData struct {
	Parent bool
	URL    string
}

type errorPageData struct {
	Message string
	Code    string
	Home    string
}

// navigate renders the script redirect used by the callback state machine.
func (g *Gateway) navigate(w http.ResponseWriter, parent bool, target string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := navigatePage.Execute(w, navigateData{Parent: parent, URL: target}); err != nil {
		g.logger.Errorf("Failed to render navigate page: %v", err)
	}
}

// renderErrorPage is the failure response of the browser-navigated SSO flows.
func (g *Gateway) renderErrorPage(w http.ResponseWriter, prefix string, err error) {
	code := string(gwerrors.ErrCodeSessionFailed)
	if gwErr, ok := gwerrors.As(err); ok {
		code = string(gwErr.Code)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(gwerrors.GetHTTPStatus(err))
	data := errorPageData{
		Message: gwerrors.FormatUserMessage(err),
		Code:    code,
		Home:    g.homeURL(prefix),
	}
	if execErr := errorPage.Execute(w, data); execErr != nil {
		g.logger.Errorf("Failed to render error page: %v", execErr)
	}
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Errorf("Failed to write response: %v", err)
	}
}

// writeNull answers the logout routes, whose body is always JSON null.
func (g *Gateway) writeNull(w http.ResponseWriter, status int) {
	g.writeJSON(w, status, nil)
}

// writeError renders err as the JSON error body with its derived status.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	g.writeErrorStatus(w, gwerrors.GetHTTPStatus(err), err)
}

// writeErrorStatus renders err with a fixed status.
func (g *Gateway) writeErrorStatus(w http.ResponseWriter, status int, err error) {
	gwErr, ok := gwerrors.As(err)
	if !ok {
		gwErr = gwerrors.NewSessionError(err)
	}
	g.writeJSON(w, status, gwErr.ToJSON())
}
