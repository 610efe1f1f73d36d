package identity

import "strings"

// NormalizeName is the uniqueness key for account names: trimmed and lower-cased.
// The display form keeps the caller's casing (see DisplayName).
func NormalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// DisplayName is the stored form of a name.
func DisplayName(s string) string {
	return strings.TrimSpace(s)
}
