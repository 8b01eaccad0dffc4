package oauth

import (
	"html/template"
	"net/http"

	"github.com/elnormous/contenttype"

	"github.com/giantswarm/mcp-authserver/security"
)

var (
	htmlMediaType = contenttype.NewMediaType("text/html")
	jsonMediaType = contenttype.NewMediaType("application/json")

	pageMediaTypes = []contenttype.MediaType{htmlMediaType, jsonMediaType}
)

// loginErrorMessages maps ?error= codes on /login to user facing text.
var loginErrorMessages = map[string]string{
	"no_oauth_session":          "Your sign-in request expired. Return to your application and try again.",
	"unsupported_response_type": "Only 'code' response type is supported",
	"invalid_credentials":       "Invalid email or password",
}

type loginPage struct {
	ClientName string
	Scope      string
	Error      string
	Email      string
}

type errorPage struct {
	Title   string
	Message string
}

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sign in</title>
<style>
body { font-family: system-ui, sans-serif; background: #f4f5f7; display: flex; justify-content: center; padding-top: 10vh; }
main { background: #fff; padding: 2rem; border-radius: 8px; box-shadow: 0 1px 4px rgba(0,0,0,.15); width: 22rem; }
label { display: block; margin-top: 1rem; font-size: .9rem; }
input { width: 100%; padding: .5rem; margin-top: .25rem; box-sizing: border-box; }
button { margin-top: 1.5rem; width: 100%; padding: .6rem; background: #2451b7; color: #fff; border: 0; border-radius: 4px; }
.error { color: #b00020; margin-top: 1rem; }
.scope { color: #555; font-size: .85rem; }
</style>
</head>
<body>
<main>
<h1>Sign in</h1>
{{if .ClientName}}<p><strong>{{.ClientName}}</strong> is requesting access.</p>{{end}}
{{if .Scope}}<p class="scope">Requested scope: {{.Scope}}</p>{{end}}
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="post" action="/login">
<label>Email <input type="email" name="username" value="{{.Email}}" autocomplete="username" required></label>
<label>Password <input type="password" name="password" autocomplete="current-password" required></label>
<button type="submit">Sign in</button>
</form>
</main>
</body>
</html>
`))

var errorTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; background: #f4f5f7; display: flex; justify-content: center; padding-top: 10vh; }
main { background: #fff; padding: 2rem; border-radius: 8px; box-shadow: 0 1px 4px rgba(0,0,0,.15); width: 28rem; }
</style>
</head>
<body>
<main>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</main>
</body>
</html>
`))

// wantsJSON reports whether the client prefers JSON over HTML.
func wantsJSON(r *http.Request) bool {
	mt, _, err := contenttype.GetAcceptableMediaType(r, pageMediaTypes)
	if err != nil {
		return false
	}
	return mt.Type == jsonMediaType.Type && mt.Subtype == jsonMediaType.Subtype
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, page loginPage, status int) {
	if wantsJSON(r) {
		if page.Error != "" {
			h.writeError(w, ErrorCodeAccessDenied, page.Error, status)
			return
		}
		security.SetPageHeaders(w, h.server.Config.Issuer)
		h.writeJSON(w, status, map[string]string{
			"login_url":   h.server.Config.Issuer + loginPath,
			"client_name": page.ClientName,
			"scope":       page.Scope,
		})
		return
	}

	security.SetPageHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginTemplate.Execute(w, page); err != nil {
		h.logger.Error("Failed to render login page", "error", err)
	}
}

// renderError shows an OAuth error inline, for failures that must not be
// redirected to an unverified client.
func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, oauthErr *OAuthError) {
	if wantsJSON(r) {
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	security.SetPageHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(oauthErr.Status)
	if err := errorTemplate.Execute(w, errorPage{Title: "Authorization failed", Message: oauthErr.Description}); err != nil {
		h.logger.Error("Failed to render error page", "error", err)
	}
}
