package game

import (
	"crypto/rand"
	"regexp"
	"strings"
)

const joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var joinCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// NewJoinCode returns JoinCodeLength random upper-case alphanumerics.
func NewJoinCode() (string, error) {
	b := make([]byte, JoinCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = joinCodeAlphabet[int(b[i])%len(joinCodeAlphabet)]
	}
	return string(b), nil
}

// NormalizeJoinCode upper-cases a typed code and reports whether it is well formed.
func NormalizeJoinCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	return code, joinCodePattern.MatchString(code)
}
