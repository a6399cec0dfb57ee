package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr    string
	Environment string
	LogLevel    string

	PostgresURL     string
	SQLitePath      string
	DBMaxOpenConns  int
	DBMaxIdleConns  int
	RetentionDays   int
	CleanupSchedule string

	NSQDAddress       string
	NSQDHTTPAddress   string
	NSQSignalChannel  string
	NSQMaxInFlight    int
	NSQConcurrency    int
	RunConsumers      bool
	LocalWorkers      int
	EventBatchSize    int
	EventFlushEvery   time.Duration
	SessionIdleExpiry time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	EnableMetrics bool

	GeoIPCityMMDB string

	ClickHouseAddr     string
	ClickHouseDB       string
	ClickHouseUser     string
	ClickHousePassword string

	FunnelsFile string
	FunnelTick  time.Duration

	PixelEnabled       bool
	PixelID            string
	PixelAccessToken   string
	PixelAPIVersion    string
	PixelTestEventCode string
	PixelQueueSize     int
	PixelFlushInterval time.Duration
	PixelRatePerSec    float64

	RateLimitPerSec float64
	RateLimitBurst  int

	// TrustedProxies lists the peers (IPs or CIDRs) whose forwarding headers name
	// the client. Empty means the socket address is always used.
	TrustedProxies []string

	MaintenanceMode      bool
	EnableDebugEndpoints bool
}

func FromEnv() (Config, error) {
	cfg := Config{
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		Environment: strings.ToLower(getenvDefault("APP_ENV", "development")),
		LogLevel:    getenvDefault("LOG_LEVEL", "info"),

		PostgresURL:     firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("POSTGRES_URL")),
		SQLitePath:      getenvDefault("SQLITE_PATH", "tracking.db"),
		DBMaxOpenConns:  parseIntDefault(getenvDefault("DB_MAX_OPEN_CONNS", "10"), 10),
		DBMaxIdleConns:  parseIntDefault(getenvDefault("DB_MAX_IDLE_CONNS", "2"), 2),
		RetentionDays:   parseIntDefault(getenvDefault("RETENTION_DAYS", "180"), 180),
		CleanupSchedule: getenvDefault("CLEANUP_SCHEDULE", "0 */5 * * * *"),

		NSQDAddress:      strings.TrimSpace(os.Getenv("NSQD_ADDRESS")),
		NSQDHTTPAddress:  strings.TrimSpace(os.Getenv("NSQD_HTTP_ADDRESS")),
		NSQSignalChannel: getenvDefault("NSQ_SIGNAL_CHANNEL", "signal-consumer"),
		NSQMaxInFlight:   parseIntDefault(getenvDefault("NSQ_MAX_IN_FLIGHT", "200"), 200),
		NSQConcurrency:   parseIntDefault(getenvDefault("NSQ_CONCURRENCY", "4"), 4),
		LocalWorkers:     parseIntDefault(getenvDefault("LOCAL_WORKERS", "16"), 16),
		EventBatchSize:   parseIntDefault(getenvDefault("DB_EVENT_BATCH_SIZE", "200"), 200),

		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       parseIntDefault(getenvDefault("REDIS_DB", "0"), 0),

		GeoIPCityMMDB: strings.TrimSpace(os.Getenv("GEOIP_CITY_MMDB")),

		ClickHouseAddr:     strings.TrimSpace(os.Getenv("CLICKHOUSE_ADDR")),
		ClickHouseDB:       getenvDefault("CLICKHOUSE_DB", "default"),
		ClickHouseUser:     getenvDefault("CLICKHOUSE_USERNAME", "default"),
		ClickHousePassword: os.Getenv("CLICKHOUSE_PASSWORD"),

		FunnelsFile: strings.TrimSpace(os.Getenv("FUNNELS_FILE")),

		PixelID:            strings.TrimSpace(os.Getenv("PIXEL_ID")),
		PixelAccessToken:   strings.TrimSpace(os.Getenv("PIXEL_ACCESS_TOKEN")),
		PixelAPIVersion:    getenvDefault("PIXEL_API_VERSION", "v19.0"),
		PixelTestEventCode: strings.TrimSpace(os.Getenv("PIXEL_TEST_EVENT_CODE")),
		PixelQueueSize:     parseIntDefault(getenvDefault("PIXEL_QUEUE_SIZE", "1000"), 1000),
		PixelRatePerSec:    parseFloatDefault(getenvDefault("PIXEL_RATE_PER_SEC", "20"), 20),

		RateLimitPerSec: parseFloatDefault(getenvDefault("RATE_LIMIT_PER_SEC", "50"), 50),
		RateLimitBurst:  parseIntDefault(getenvDefault("RATE_LIMIT_BURST", "100"), 100),

		MaintenanceMode: parseBoolDefault(getenvDefault("MAINTENANCE_MODE", "false"), false),
		TrustedProxies:  parseListDefault(os.Getenv("TRUSTED_PROXIES")),
	}
	cfg.EventFlushEvery = parseDurationDefault(getenvDefault("DB_EVENT_FLUSH_INTERVAL", "50ms"), 50*time.Millisecond)
	cfg.SessionIdleExpiry = parseDurationDefault(getenvDefault("SESSION_IDLE_TIMEOUT", "30m"), 30*time.Minute)
	cfg.FunnelTick = parseDurationDefault(getenvDefault("FUNNEL_TICK", "250ms"), 250*time.Millisecond)
	cfg.PixelFlushInterval = parseDurationDefault(getenvDefault("PIXEL_FLUSH_INTERVAL", "1s"), time.Second)

	cfg.EnableDebugEndpoints = parseBoolDefault(getenvDefault("ENABLE_DEBUG_ENDPOINTS", "false"), false)
	cfg.RunConsumers = parseBoolDefault(getenvDefault("RUN_CONSUMERS", "true"), true)
	cfg.EnableMetrics = parseBoolDefault(getenvDefault("ENABLE_METRICS", "true"), true) && cfg.RedisAddr != ""
	cfg.PixelEnabled = parseBoolDefault(os.Getenv("PIXEL_ENABLED"), cfg.IsProduction())

	if cfg.PixelEnabled && (cfg.PixelID == "" || cfg.PixelAccessToken == "") {
		return Config{}, errors.New("PIXEL_ID and PIXEL_ACCESS_TOKEN are required when pixel dispatch is enabled")
	}
	if cfg.RetentionDays < 0 {
		return Config{}, errors.New("RETENTION_DAYS must be >= 0")
	}
	if cfg.LocalWorkers <= 0 {
		cfg.LocalWorkers = 1
	}
	for _, p := range cfg.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return Config{}, fmt.Errorf("TRUSTED_PROXIES: invalid entry %q", p)
			}
		}
	}
	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// UseNSQ reports whether signals travel through nsqd instead of the in-process queue.
func (c Config) UseNSQ() bool {
	return c.NSQDAddress != ""
}

func getenvDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func parseListDefault(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBoolDefault(value string, defaultValue bool) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseIntDefault(value string, defaultValue int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloatDefault(value string, defaultValue float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

func parseDurationDefault(value string, defaultValue time.Duration) time.Duration {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

func (c Config) String() string {
	db := redactPostgresURL(c.PostgresURL)
	if c.PostgresURL == "" {
		db = "sqlite:" + c.SQLitePath
	}
	return fmt.Sprintf(
		"http=%s env=%s db=%s nsqd=%s consumers=%v redis=%s metrics=%v geoip=%v clickhouse=%v pixel=%v(id=%s token=%s) maintenance=%v",
		c.HTTPAddr,
		c.Environment,
		db,
		orNone(c.NSQDAddress),
		c.RunConsumers,
		orNone(c.RedisAddr),
		c.EnableMetrics,
		c.GeoIPCityMMDB != "",
		c.ClickHouseAddr != "",
		c.PixelEnabled,
		orNone(c.PixelID),
		redactSecret(c.PixelAccessToken),
		c.MaintenanceMode,
	)
}

func redactPostgresURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "<none>"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "<set>"
	}
	user := ""
	if u.User != nil {
		user = u.User.Username()
	}
	host := u.Host
	db := strings.TrimPrefix(u.Path, "/")
	if user == "" && host == "" && db == "" {
		return "<set>"
	}
	if user == "" {
		user = "?"
	}
	if host == "" {
		host = "?"
	}
	if db == "" {
		db = "?"
	}
	return fmt.Sprintf("%s@%s/%s", user, host, db)
}

func redactSecret(s string) string {
	if s == "" {
		return "<none>"
	}
	if len(s) <= 6 {
		return "***"
	}
	return s[:4] + "***"
}

func orNone(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "<none>"
	}
	return s
}
