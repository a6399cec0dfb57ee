// Package identity holds the stateless helpers shared by every tracking component:
// session ids, user-agent parsing, attribution, client addressing and PII hashing.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const sessionIDPrefix = "s_"

var ErrInvalidSessionID = errors.New("invalid session id")

// NewSessionID returns an opaque, unguessable session identifier.
func NewSessionID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		id := uuid.New()
		return sessionIDPrefix + hex.EncodeToString(id[:])
	}
	return sessionIDPrefix + hex.EncodeToString(b[:])
}

// NormalizeSessionID trims client input and rejects ids that cannot be stored.
func NormalizeSessionID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > 64 {
		return "", false
	}
	for _, r := range id {
		if r <= ' ' || r == 0x7f {
			return "", false
		}
	}
	return id, true
}

// ParseTimestamp accepts RFC3339 strings, unix seconds and unix milliseconds.
func ParseTimestamp(v any, fallback time.Time) time.Time {
	if fallback.IsZero() {
		fallback = time.Now().UTC()
	}
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UTC()
		}
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts.UTC()
		}
	case float64:
		if t > 1e12 {
			return time.UnixMilli(int64(t)).UTC()
		}
		sec := int64(t)
		nsec := int64((t - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC()
	case int64:
		if t > 1e12 {
			return time.UnixMilli(t).UTC()
		}
		return time.Unix(t, 0).UTC()
	}
	return fallback.UTC()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
