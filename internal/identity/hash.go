package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

type PIIKind int

const (
	PIIEmail PIIKind = iota
	PIIPhone
	PIIName
	PIIExternalID
)

// HashPII normalizes and SHA-256 hashes a personal identifier. Values that already
// look like a SHA-256 hex digest are returned unchanged so upstream hashing is not
// applied twice.
func HashPII(kind PIIKind, value string) string {
	v := normalizePII(kind, value)
	if v == "" {
		return ""
	}
	if IsSHA256Hex(v) {
		return v
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

func normalizePII(kind PIIKind, value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if kind != PIIPhone {
		return v
	}
	if IsSHA256Hex(v) {
		return v
	}
	var b strings.Builder
	for _, r := range v {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func IsSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
