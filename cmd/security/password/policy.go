package password

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/lo"
)

var trivialSecrets = []string{
	"password", "password123", "123456", "123456789", "qwerty", "qwerty123", "11111111", "letmein",
}

// Validate checks the secret against the policy. Lengths count runes, not bytes.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)

	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if c.Policy.MaxLength > 0 && n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}
	if c.Policy.RejectVeryWeak && looksVeryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

// looksVeryWeak catches only the most obvious cases: blank, one repeated
// character, short all-digit PINs, and a handful of well-known secrets.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	runes := []rune(s)
	if lo.EveryBy(runes, func(r rune) bool { return r == runes[0] }) {
		return true
	}
	if len(runes) < 12 && lo.EveryBy(runes, unicode.IsDigit) {
		return true
	}
	return lo.Contains(trivialSecrets, strings.ToLower(s))
}
