package warehouse

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xokuso/peluquerias-app-sub000/internal/model"
)

func TestToColumns_MatchesInsertOrder(t *testing.T) {
	sid := "s1"
	v := 49.5
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	row := model.AnalyticsEvent{
		ID:        uuid.MustParse("7d0f3c1e-1111-4a4a-9b9b-000000000001"),
		SessionID: &sid,
		Name:      "purchase",
		Category:  "ecommerce",
		Value:     &v,
		Currency:  "EUR",
		CreatedAt: at,
	}

	cols := toColumns(row)
	q := insertQuery(DefaultTable)
	names := strings.Split(q[strings.Index(q, "(")+1:strings.Index(q, ")")], ",")
	require.Len(t, cols, len(names))

	require.Equal(t, "7d0f3c1e-1111-4a4a-9b9b-000000000001", cols[0])
	require.Equal(t, &sid, cols[1])
	require.Equal(t, "{}", cols[11])
	require.Equal(t, at.UTC(), cols[12])
}

func TestCreateTableDDL(t *testing.T) {
	ddl := createTableDDL("events_mirror")
	require.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS events_mirror")
	require.Contains(t, ddl, "ENGINE = MergeTree")
}

func TestNewClickHouse_RejectsBadOptions(t *testing.T) {
	_, err := NewClickHouse(context.Background(), Options{})
	require.Error(t, err)

	_, err = NewClickHouse(context.Background(), Options{Addr: "127.0.0.1:9000", Table: "events; DROP"})
	require.ErrorContains(t, err, "invalid clickhouse table")
}
