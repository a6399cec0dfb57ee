package store

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Retention only applies to the append-only tables; sessions and heatmap counters
// are kept.
var retentionTables = map[string]string{
	"page_views":       "viewed_at",
	"analytics_events": "created_at",
	"pixel_events":     "created_at",
}

func RetentionTables() []string {
	return []string{"page_views", "analytics_events", "pixel_events"}
}

// DeleteBeforeBatched removes at most batchSize rows older than before from one of
// the retention tables.
func DeleteBeforeBatched(ctx context.Context, db *gorm.DB, table string, before time.Time, batchSize int) (int64, error) {
	if db == nil {
		return 0, gorm.ErrInvalidDB
	}
	col, ok := retentionTables[table]
	if !ok {
		return 0, gorm.ErrInvalidData
	}
	if batchSize <= 0 {
		batchSize = 5000
	}

	before = before.UTC()
	// Use a subquery to limit deletion size and keep transactions short.
	res := db.WithContext(ctx).Exec(`
		WITH doomed AS (
			SELECT id FROM `+table+`
			WHERE `+col+` < ?
			ORDER BY `+col+` ASC
			LIMIT ?
		)
		DELETE FROM `+table+` WHERE id IN (SELECT id FROM doomed)
	`, before, batchSize)
	return res.RowsAffected, res.Error
}
