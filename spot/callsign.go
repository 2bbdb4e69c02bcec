package spot

import (
	"regexp"
	"strings"
	"unicode"
)

var callsignPattern = regexp.MustCompile(`^[A-Z0-9]+(?:/[A-Z0-9]+)*$`)

// NormalizeCallsign uppercases and trims call, strips the angle brackets the
// decoders put around hashed callsigns, and removes a trailing slash.
func NormalizeCallsign(call string) string {
	normalized := strings.ToUpper(strings.TrimSpace(call))
	normalized = strings.TrimPrefix(normalized, "<")
	normalized = strings.TrimSuffix(normalized, ">")
	normalized = strings.TrimSuffix(normalized, "/")
	return strings.TrimSpace(normalized)
}

// IsValidCallsign reports whether call looks like an amateur callsign after
// normalization: 3 to 15 characters, at least one digit, slash separated
// portable parts only. Unresolved hashes ("<...>") are rejected.
func IsValidCallsign(call string) bool {
	normalized := NormalizeCallsign(call)
	if len(normalized) < 3 || len(normalized) > 15 {
		return false
	}
	if strings.IndexFunc(normalized, unicode.IsDigit) < 0 {
		return false
	}
	return callsignPattern.MatchString(normalized)
}
