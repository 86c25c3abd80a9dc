// Package validate provides shared input validation helpers.
package validate

import (
	"regexp"
	"strings"
)

// domainRegexp validates RFC-compliant hostnames.
var domainRegexp = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// IsDomain reports whether s is a valid RFC-compliant hostname.
func IsDomain(s string) bool {
	return domainRegexp.MatchString(s)
}

// NormalizeDomain lowercases s and strips surrounding whitespace and a trailing
// dot. Provider payloads mix cases and FQDN forms; dedup keys must not.
func NormalizeDomain(s string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), "."))
}
