package identity

import (
	"strings"
	"testing"
	"time"
)

func TestNewSessionID_Unique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewSessionID()
		if !strings.HasPrefix(id, "s_") || len(id) != 34 {
			t.Fatalf("unexpected session id shape: %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNormalizeSessionID(t *testing.T) {
	t.Parallel()

	if got, ok := NormalizeSessionID("  abc  "); !ok || got != "abc" {
		t.Fatalf("expected abc, got %q ok=%v", got, ok)
	}
	for _, bad := range []string{"", "   ", "a b", strings.Repeat("x", 65)} {
		if _, ok := NormalizeSessionID(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	fallback := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := ParseTimestamp("2024-01-02T03:04:05Z", time.Time{}); !got.Equal(fallback) {
		t.Fatalf("rfc3339: %v", got)
	}
	if got := ParseTimestamp(float64(fallback.Unix()), time.Time{}); !got.Equal(fallback) {
		t.Fatalf("unix seconds: %v", got)
	}
	if got := ParseTimestamp(float64(fallback.UnixMilli()), time.Time{}); !got.Equal(fallback) {
		t.Fatalf("unix millis: %v", got)
	}
	if got := ParseTimestamp("nope", fallback); !got.Equal(fallback) {
		t.Fatalf("fallback: %v", got)
	}
}

func TestParseUserAgent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		ua   string
		want string
		bot  bool
	}{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", DeviceDesktop, false},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1", DeviceMobile, false},
		{"Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Safari/604.1", DeviceTablet, false},
		{"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", DeviceBot, true},
		{"curl/8.4.0", DeviceBot, true},
		{"", DeviceDesktop, false},
	}
	for _, tc := range cases {
		d := ParseUserAgent(tc.ua)
		if d.Type != tc.want || d.Bot != tc.bot {
			t.Fatalf("ParseUserAgent(%q) = %+v, want type=%s bot=%v", tc.ua, d, tc.want, tc.bot)
		}
		if d.Browser == "" || d.OS == "" {
			t.Fatalf("expected browser/os to be filled for %q: %+v", tc.ua, d)
		}
	}
}

func TestNormalizeDeviceType(t *testing.T) {
	t.Parallel()

	if NormalizeDeviceType("") != DeviceDesktop || NormalizeDeviceType("PHONE") != DeviceMobile || NormalizeDeviceType(" tablet ") != DeviceTablet {
		t.Fatalf("unexpected device normalization")
	}
}

func TestExtractUTM(t *testing.T) {
	t.Parallel()

	u := ExtractUTM("https://shop.example/landing?utm_source=facebook&utm_medium=cpc&utm_campaign=%20spring%20&fbclid=abc")
	if u.Source != "facebook" || u.Medium != "cpc" || u.Campaign != "spring" || u.FBClickID != "abc" {
		t.Fatalf("unexpected utm: %+v", u)
	}
	if !ExtractUTM("/plain").Empty() || !ExtractUTM("").Empty() {
		t.Fatalf("expected empty utm")
	}
	merged := UTM{Source: "google"}.Merge(UTM{Source: "facebook", Term: "haircut"})
	if merged.Source != "google" || merged.Term != "haircut" {
		t.Fatalf("unexpected merge: %+v", merged)
	}
}

func TestNormalizeIP(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"203.0.113.9":          "203.0.113.9",
		" 10.0.0.1:5555 ":      "10.0.0.1",
		"[2001:db8::1]:443":    "2001:db8::1",
		"2001:0db8:0000::0001": "2001:db8::1",
		"not-an-ip":            "",
		"":                     "",
	}
	for in, want := range cases {
		if got := NormalizeIP(in); got != want {
			t.Fatalf("NormalizeIP(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHashPII(t *testing.T) {
	t.Parallel()

	a := HashPII(PIIEmail, "  John.Doe@Example.com ")
	b := HashPII(PIIEmail, "john.doe@example.com")
	if a != b || !IsSHA256Hex(a) {
		t.Fatalf("expected stable normalized digest, got %q vs %q", a, b)
	}
	// sha256("john.doe@example.com")
	if a != "836f82db99121b3481011f16b49dfa5fbc714a0d1b1b9f784a1ebbbf5b39577f" {
		t.Fatalf("unexpected digest %q", a)
	}
	if HashPII(PIIPhone, "+34 600-123-456") != HashPII(PIIPhone, "34600123456") {
		t.Fatalf("expected phone normalization to digits")
	}
	if HashPII(PIIEmail, a) != a {
		t.Fatalf("expected pre-hashed value to pass through")
	}
	if HashPII(PIIName, "   ") != "" {
		t.Fatalf("expected empty for blank input")
	}
}
