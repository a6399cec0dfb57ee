package store

import (
	"context"

	"github.com/xokuso/peluquerias-app-sub000/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Append-only tables. Rows are immutable once written.

func InsertPageViews(ctx context.Context, db *gorm.DB, rows []model.PageView) error {
	if db == nil || len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(&rows, 200).Error
}

func InsertAnalyticsEvents(ctx context.Context, db *gorm.DB, rows []model.AnalyticsEvent) error {
	if db == nil || len(rows) == 0 {
		return nil
	}
	// Primary keys are minted before publish, so a redelivered batch is a no-op.
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, 200).Error
}

func InsertPixelEvents(ctx context.Context, db *gorm.DB, rows []model.PixelEvent) error {
	if db == nil || len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(&rows, 200).Error
}

func ListPageViews(ctx context.Context, db *gorm.DB, sessionID string, limit int) ([]model.PageView, error) {
	if db == nil {
		return nil, gorm.ErrInvalidDB
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var out []model.PageView
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("viewed_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func ListAnalyticsEvents(ctx context.Context, db *gorm.DB, sessionID string, limit int) ([]model.AnalyticsEvent, error) {
	if db == nil {
		return nil, gorm.ErrInvalidDB
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var out []model.AnalyticsEvent
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
