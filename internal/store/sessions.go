package store

import (
	"context"
	"errors"
	"time"

	"github.com/xokuso/peluquerias-app-sub000/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionTouch selects the counters a session upsert applies on top of the
// attribute merge.
type SessionTouch struct {
	PageViews  int64
	Conversion bool
}

const laterActivity = "CASE WHEN EXCLUDED.last_activity > sessions.last_activity THEN EXCLUDED.last_activity ELSE sessions.last_activity END"

func keepKnown(col string) clause.Expr {
	return gorm.Expr("CASE WHEN EXCLUDED." + col + " <> '' THEN EXCLUDED." + col + " ELSE sessions." + col + " END")
}

// UpsertSession inserts the session or merges into the existing open row in a single
// statement. Origin fields are only written on insert. Closed sessions are left
// untouched; applied is false in that case.
func UpsertSession(ctx context.Context, db *gorm.DB, row model.Session, touch SessionTouch) (applied bool, err error) {
	if db == nil {
		return false, gorm.ErrInvalidDB
	}
	if row.ID == "" {
		return false, gorm.ErrPrimaryKeyRequired
	}
	row.StartedAt = row.StartedAt.UTC().Truncate(time.Microsecond)
	row.LastActivity = row.LastActivity.UTC().Truncate(time.Microsecond)
	if row.LastActivity.Before(row.StartedAt) {
		row.LastActivity = row.StartedAt
	}
	row.PageViews = touch.PageViews
	row.EndedAt = nil
	row.Duration = nil

	updates := map[string]any{
		"last_activity":   gorm.Expr(laterActivity),
		"user_id":         gorm.Expr("COALESCE(EXCLUDED.user_id, sessions.user_id)"),
		"user_agent":      keepKnown("user_agent"),
		"device_type":     keepKnown("device_type"),
		"browser":         keepKnown("browser"),
		"browser_version": keepKnown("browser_version"),
		"os":              keepKnown("os"),
		"os_version":      keepKnown("os_version"),
		"country":         keepKnown("country"),
		"region":          keepKnown("region"),
		"city":            keepKnown("city"),
	}
	if touch.PageViews != 0 {
		updates["page_views"] = gorm.Expr("sessions.page_views + EXCLUDED.page_views")
	}
	if touch.Conversion {
		row.HasConverted = true
		updates["has_converted"] = true
		updates["conversion_type"] = gorm.Expr("EXCLUDED.conversion_type")
		updates["conversion_value"] = gorm.Expr("EXCLUDED.conversion_value")
	} else {
		row.HasConverted = false
		row.ConversionType = ""
		row.ConversionValue = nil
	}

	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(updates),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "sessions.ended_at IS NULL"},
			}},
		}).
		Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func GetSession(ctx context.Context, db *gorm.DB, id string) (model.Session, error) {
	if db == nil {
		return model.Session{}, gorm.ErrInvalidDB
	}
	var s model.Session
	err := db.WithContext(ctx).Where("id = ?", id).Take(&s).Error
	return s, err
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// CloseSessionIf sets the end time and duration only if the session is still open
// and its last activity equals the value the duration was computed from.
func CloseSessionIf(ctx context.Context, db *gorm.DB, id string, lastActivity, endedAt time.Time, durationSeconds int64) (bool, error) {
	if db == nil {
		return false, gorm.ErrInvalidDB
	}
	res := db.WithContext(ctx).
		Model(&model.Session{}).
		Where("id = ? AND ended_at IS NULL AND last_activity = ?", id, lastActivity).
		Updates(map[string]any{
			"ended_at":         endedAt.UTC().Truncate(time.Microsecond),
			"duration_seconds": durationSeconds,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListIdleSessionIDs returns open sessions whose last activity is before cutoff,
// oldest first.
func ListIdleSessionIDs(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]string, error) {
	if db == nil {
		return nil, gorm.ErrInvalidDB
	}
	if limit <= 0 {
		limit = 500
	}
	var ids []string
	err := db.WithContext(ctx).
		Model(&model.Session{}).
		Where("ended_at IS NULL AND last_activity < ?", cutoff.UTC()).
		Order("last_activity ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func SessionExists(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	if db == nil {
		return false, gorm.ErrInvalidDB
	}
	var n int64
	err := db.WithContext(ctx).Model(&model.Session{}).Where("id = ?", id).Limit(1).Count(&n).Error
	return n > 0, err
}
