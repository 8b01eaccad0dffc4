package security

import (
	"net/http"
	"net/url"
)

// contentSecurityPolicyAPI is used for JSON endpoints.
const contentSecurityPolicyAPI = "default-src 'none'; frame-ancestors 'none'"

// contentSecurityPolicyPage allows the login page's inline styles and its
// form post back to the same origin.
const contentSecurityPolicyPage = "default-src 'none'; style-src 'unsafe-inline'; form-action 'self'; frame-ancestors 'none'"

// SetSecurityHeaders sets the headers shared by every OAuth response.
// HSTS is only sent when issuer is an https URL.
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Content-Security-Policy", contentSecurityPolicyAPI)

	if parsed, err := url.Parse(issuer); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

// SetNoStore marks a response as uncacheable. Token responses must carry it.
func SetNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// SetPageHeaders sets security headers for server-rendered HTML pages.
func SetPageHeaders(w http.ResponseWriter, issuer string) {
	SetSecurityHeaders(w, issuer)
	SetNoStore(w)
	w.Header().Set("Content-Security-Policy", contentSecurityPolicyPage)
}
