package store

import (
	"context"

	"gorm.io/gorm"
)

type TableCounts struct {
	Sessions        int64 `json:"sessions"`
	OpenSessions    int64 `json:"open_sessions"`
	PageViews       int64 `json:"page_views"`
	AnalyticsEvents int64 `json:"analytics_events"`
	FunnelSteps     int64 `json:"funnel_step_records"`
	OpenFunnelSteps int64 `json:"open_funnel_steps"`
	HeatmapPoints   int64 `json:"heatmap_points"`
	PixelEvents     int64 `json:"pixel_events"`
}

func CountRows(ctx context.Context, db *gorm.DB) (TableCounts, error) {
	if db == nil {
		return TableCounts{}, gorm.ErrInvalidDB
	}
	var out TableCounts
	for _, c := range []struct {
		table string
		where string
		dst   *int64
	}{
		{"sessions", "", &out.Sessions},
		{"sessions", "ended_at IS NULL", &out.OpenSessions},
		{"page_views", "", &out.PageViews},
		{"analytics_events", "", &out.AnalyticsEvents},
		{"funnel_step_records", "", &out.FunnelSteps},
		{"funnel_step_records", "open_key IS NOT NULL", &out.OpenFunnelSteps},
		{"heatmap_points", "", &out.HeatmapPoints},
		{"pixel_events", "", &out.PixelEvents},
	} {
		q := db.WithContext(ctx).Table(c.table)
		if c.where != "" {
			q = q.Where(c.where)
		}
		if err := q.Count(c.dst).Error; err != nil {
			return TableCounts{}, err
		}
	}
	return out, nil
}
