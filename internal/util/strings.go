package util

import (
	"net/url"
	"strings"
)

// SafeTruncate returns at most maxLen bytes of s. A negative maxLen yields "".
// Used to log short prefixes of codes and tokens.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL strips trailing slashes so that "https://as.example/" and
// "https://as.example" compare equal as issuer and audience identifiers.
func NormalizeURL(u string) string {
	return strings.TrimRight(u, "/")
}

// ParseScopes splits a space-delimited scope string, dropping empty entries.
func ParseScopes(scope string) []string {
	return strings.Fields(scope)
}

// AppendQuery appends the given key/value pairs to base, joining with "&" when
// base already carries a query and "?" otherwise. Pairs with an empty value are
// skipped. Order of pairs is preserved.
func AppendQuery(base string, pairs ...string) string {
	var b strings.Builder
	b.WriteString(base)

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}

	for i := 0; i+1 < len(pairs); i += 2 {
		key, value := pairs[i], pairs[i+1]
		if value == "" {
			continue
		}
		b.WriteString(sep)
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(value))
		sep = "&"
	}
	return b.String()
}
