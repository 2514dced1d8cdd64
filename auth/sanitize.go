package auth

import (
	"net/mail"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// The strict policy drops every tag and escapes what it keeps, so "a & b"
// is stored as "a &amp; b".
var strict = bluemonday.StrictPolicy()

func stripMarkup(input string) string {
	return strings.TrimSpace(strict.Sanitize(input))
}

// SanitizeUsername strips markup from a username. The result still has to
// match the username pattern.
func SanitizeUsername(username string) string {
	return stripMarkup(username)
}

// SanitizeLogin cleans the username-or-email given at login.
func SanitizeLogin(login string) string {
	return stripMarkup(login)
}

// NormalizeEmail strips markup and returns the bare address. Display-name
// forms such as "Alice <alice@example.com>" are rejected.
func NormalizeEmail(email string) (string, error) {
	email = stripMarkup(email)
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return "", ErrInvalidEmail
	}
	if addr.Name != "" || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return addr.Address, nil
}

// SanitizeGameName strips markup and collapses runs of whitespace into one
// space.
func SanitizeGameName(name string) string {
	return strings.Join(strings.Fields(stripMarkup(name)), " ")
}
