package store

import (
	"context"
	"time"

	"github.com/xokuso/peluquerias-app-sub000/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IncrementHeatmapPoint inserts the point with click_count = 1 or bumps the
// existing counter for the same (page, x, y, element, device_type) key.
func IncrementHeatmapPoint(ctx context.Context, db *gorm.DB, row model.HeatmapPoint) error {
	if db == nil {
		return gorm.ErrInvalidDB
	}
	now := time.Now().UTC()
	row.ID = 0
	row.ClickCount = 1
	row.CreatedAt = now
	row.UpdatedAt = now
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "page"},
				{Name: "x"},
				{Name: "y"},
				{Name: "element"},
				{Name: "device_type"},
			},
			DoUpdates: clause.Assignments(map[string]any{
				"click_count":   gorm.Expr("heatmap_points.click_count + 1"),
				"screen_width":  gorm.Expr("COALESCE(EXCLUDED.screen_width, heatmap_points.screen_width)"),
				"screen_height": gorm.Expr("COALESCE(EXCLUDED.screen_height, heatmap_points.screen_height)"),
				"updated_at":    now,
			}),
		}).
		Create(&row).Error
}

func ListHeatmapPoints(ctx context.Context, db *gorm.DB, page, deviceType string, limit int) ([]model.HeatmapPoint, error) {
	if db == nil {
		return nil, gorm.ErrInvalidDB
	}
	if limit <= 0 || limit > 10000 {
		limit = 5000
	}
	q := db.WithContext(ctx).Where("page = ?", page)
	if deviceType != "" {
		q = q.Where("device_type = ?", deviceType)
	}
	var out []model.HeatmapPoint
	err := q.Order("click_count DESC, id ASC").Limit(limit).Find(&out).Error
	return out, err
}
