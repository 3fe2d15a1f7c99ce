package httpx

import (
	"net/http"
	"strings"
)

// HeaderAuthToken is the fallback header clients may use instead of the
// Authorization bearer scheme.
const HeaderAuthToken = "X-Auth-Token"

// ExtractCredential pulls the raw credential from the request. The bearer
// scheme on Authorization wins; X-Auth-Token is consulted only when no bearer
// credential is present.
func ExtractCredential(r *http.Request) (string, bool) {
	if authz := r.Header.Get("Authorization"); authz != "" {
		scheme, rest, found := strings.Cut(authz, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			if tok := strings.TrimSpace(rest); tok != "" {
				return tok, true
			}
		}
	}

	if tok := strings.TrimSpace(r.Header.Get(HeaderAuthToken)); tok != "" {
		return tok, true
	}

	return "", false
}

// WriteUnauthorized writes an RFC 6750 bearer challenge with a generic body.
// The description must never reveal why verification failed.
func WriteUnauthorized(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteJSON(w, http.StatusUnauthorized, map[string]string{
		"error":             "invalid_token",
		"error_description": desc,
	})
}
