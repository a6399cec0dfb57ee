// Package warehouse mirrors analytics events into ClickHouse for long-range
// reporting.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/xokuso/peluquerias-app-sub000/internal/model"
	"go.uber.org/zap"
)

const DefaultTable = "analytics_events"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
	Logger   *zap.Logger
}

// ClickHouseSink implements events.Sink.
type ClickHouseSink struct {
	conn   driver.Conn
	table  string
	logger *zap.Logger
}

// NewClickHouse connects over the native protocol and pings. The caller owns Close.
func NewClickHouse(ctx context.Context, o Options) (*ClickHouseSink, error) {
	addr := strings.TrimSpace(o.Addr)
	if addr == "" {
		return nil, errors.New("clickhouse address is required")
	}
	table := o.Table
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse table %q", table)
	}
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: o.Database,
			Username: o.Username,
			Password: o.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "tracking-gateway", Version: "0.1.0"}},
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &ClickHouseSink{conn: conn, table: table, logger: logger.Named("warehouse")}, nil
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// EnsureSchema creates the events table when missing.
func (s *ClickHouseSink) EnsureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, createTableDDL(s.table))
}

func createTableDDL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
	id String,
	session_id Nullable(String),
	name LowCardinality(String),
	category LowCardinality(String),
	action String,
	label String,
	value Nullable(Float64),
	page String,
	revenue Nullable(Float64),
	currency LowCardinality(String),
	transaction_id String,
	properties String,
	created_at DateTime64(3, 'UTC')
) ENGINE = MergeTree
PARTITION BY toYYYYMM(created_at)
ORDER BY (name, created_at)`
}

func insertQuery(table string) string {
	return "INSERT INTO " + table + " (id, session_id, name, category, action, label, value, page, revenue, currency, transaction_id, properties, created_at)"
}

func (s *ClickHouseSink) Write(ctx context.Context, rows []model.AnalyticsEvent) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, insertQuery(s.table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(toColumns(r)...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append event %s: %w", r.ID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	s.logger.Debug("mirrored events", zap.Int("rows", len(rows)))
	return nil
}

func toColumns(r model.AnalyticsEvent) []any {
	props := string(r.Properties)
	if props == "" {
		props = "{}"
	}
	return []any{
		r.ID.String(),
		r.SessionID,
		r.Name,
		r.Category,
		r.Action,
		r.Label,
		r.Value,
		r.Page,
		r.Revenue,
		r.Currency,
		r.TransactionID,
		props,
		r.CreatedAt.UTC(),
	}
}
