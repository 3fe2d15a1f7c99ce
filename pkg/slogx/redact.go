package slogx

import "strings"

// RedactEmail keeps the first character of the local part and the domain,
// so "alice@example.com" logs as "a***@example.com".
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	return local[:1] + "***@" + domain
}

// RedactToken keeps a short prefix of a credential for correlation.
func RedactToken(tok string) string {
	const keep = 6
	if len(tok) <= keep {
		return "***"
	}
	return tok[:keep] + "***"
}
