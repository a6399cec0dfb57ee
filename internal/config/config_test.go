package config

import (
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HTTP_ADDR", "APP_ENV", "DATABASE_URL", "POSTGRES_URL", "NSQD_ADDRESS", "REDIS_ADDR",
		"PIXEL_ENABLED", "PIXEL_ID", "PIXEL_ACCESS_TOKEN", "RETENTION_DAYS", "SESSION_IDLE_TIMEOUT",
		"LOCAL_WORKERS", "MAINTENANCE_MODE", "ENABLE_METRICS", "PIXEL_RATE_PER_SEC",
		"TRUSTED_PROXIES",
	} {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default HTTPAddr=:8080, got %q", cfg.HTTPAddr)
	}
	if cfg.Environment != "development" || cfg.IsProduction() {
		t.Fatalf("expected development env, got %q", cfg.Environment)
	}
	if cfg.PixelEnabled {
		t.Fatalf("expected pixel dispatch disabled outside production")
	}
	if cfg.UseNSQ() {
		t.Fatalf("expected in-process queue when NSQD_ADDRESS is empty")
	}
	if cfg.EnableMetrics {
		t.Fatalf("expected metrics disabled when REDIS_ADDR is empty")
	}
	if cfg.SessionIdleExpiry != 30*time.Minute {
		t.Fatalf("unexpected idle expiry: %v", cfg.SessionIdleExpiry)
	}
	if cfg.RetentionDays != 180 {
		t.Fatalf("unexpected retention: %d", cfg.RetentionDays)
	}
	if cfg.PixelAPIVersion != "v19.0" {
		t.Fatalf("unexpected pixel api version: %q", cfg.PixelAPIVersion)
	}
}

func TestFromEnv_ProductionRequiresPixelCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")

	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error when pixel is enabled without credentials")
	}

	t.Setenv("PIXEL_ID", "123")
	t.Setenv("PIXEL_ACCESS_TOKEN", "EAAB-secret-token")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if !cfg.PixelEnabled {
		t.Fatalf("expected pixel enabled in production")
	}
	if strings.Contains(cfg.String(), "secret") {
		t.Fatalf("String() leaked token: %s", cfg.String())
	}

	t.Setenv("PIXEL_ENABLED", "false")
	cfg, err = FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.PixelEnabled {
		t.Fatalf("expected explicit PIXEL_ENABLED=false to win")
	}
}

func TestFromEnv_Toggles(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_URL", "postgres://u:p@db:5432/track")
	t.Setenv("NSQD_ADDRESS", "127.0.0.1:4150")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("SESSION_IDLE_TIMEOUT", "not-a-duration")
	t.Setenv("LOCAL_WORKERS", "0")
	t.Setenv("MAINTENANCE_MODE", "true")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if !cfg.UseNSQ() || !cfg.EnableMetrics || !cfg.MaintenanceMode {
		t.Fatalf("unexpected toggles: %+v", cfg)
	}
	if cfg.SessionIdleExpiry != 30*time.Minute {
		t.Fatalf("expected fallback idle expiry, got %v", cfg.SessionIdleExpiry)
	}
	if cfg.LocalWorkers != 1 {
		t.Fatalf("expected LocalWorkers clamped to 1, got %d", cfg.LocalWorkers)
	}
	if !strings.Contains(cfg.String(), "u@db:5432/track") || strings.Contains(cfg.String(), ":p@") {
		t.Fatalf("unexpected redaction: %s", cfg.String())
	}

	t.Setenv("RETENTION_DAYS", "-1")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for negative retention")
	}
}

func TestFromEnv_TrustedProxies(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Fatalf("expected no trusted proxies by default, got %v", cfg.TrustedProxies)
	}

	t.Setenv("TRUSTED_PROXIES", " 10.0.0.0/8, 192.0.2.1 ,,")
	cfg, err = FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.0/8" || cfg.TrustedProxies[1] != "192.0.2.1" {
		t.Fatalf("unexpected proxies: %v", cfg.TrustedProxies)
	}

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,proxy.internal")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for a hostname entry")
	}
}

func TestHelpers_ParseAndRedact(t *testing.T) {
	if parseBoolDefault("not-bool", true) != true {
		t.Fatalf("expected parseBoolDefault fallback")
	}
	if parseIntDefault("not-int", 7) != 7 {
		t.Fatalf("expected parseIntDefault fallback")
	}
	if parseFloatDefault("-2", 3) != 3 {
		t.Fatalf("expected parseFloatDefault fallback for non-positive")
	}
	if parseDurationDefault("-1s", 3*time.Second) != 3*time.Second {
		t.Fatalf("expected parseDurationDefault fallback for non-positive")
	}
	if got := redactPostgresURL(""); got != "<none>" {
		t.Fatalf("expected <none>, got %q", got)
	}
	if got := redactPostgresURL("http://bad url"); got != "<set>" {
		t.Fatalf("expected <set> for invalid url, got %q", got)
	}
	if got := redactSecret("abc"); got != "***" {
		t.Fatalf("unexpected short redaction %q", got)
	}
	if got := firstNonEmpty(" ", "b", "c"); got != "b" {
		t.Fatalf("firstNonEmpty=%q", got)
	}
}
