package store

import (
	"context"
	"time"

	"github.com/xokuso/peluquerias-app-sub000/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertOpenFunnelStep creates the open visit for row.OpenKey, or restarts the
// visit that is already open under that key. Concurrent entries of the same step
// converge on one open row.
func UpsertOpenFunnelStep(ctx context.Context, db *gorm.DB, row model.FunnelStepRecord) error {
	if db == nil {
		return gorm.ErrInvalidDB
	}
	if row.OpenKey == nil || *row.OpenKey == "" {
		return gorm.ErrInvalidData
	}
	if len(row.Metadata) == 0 {
		row.Metadata = datatypes.JSON("{}")
	}
	row.ID = 0
	row.EnteredAt = row.EnteredAt.UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "open_key"}},
			DoUpdates: clause.Assignments(map[string]any{
				"entered_at": gorm.Expr("EXCLUDED.entered_at"),
				"metadata":   gorm.Expr("EXCLUDED.metadata"),
				"step_order": gorm.Expr("EXCLUDED.step_order"),
			}),
		}).
		Create(&row).Error
}

// StepResolution closes an open visit, either as completed or as an exit point.
type StepResolution struct {
	At        time.Time
	TimeSpent *int64
	Metadata  datatypes.JSON
	// ExitReason marks the visit as an exit point when non-empty.
	ExitReason string
}

// ResolveOpenFunnelStep resolves the visit currently open under openKey and clears
// the key. It returns false when nothing was open, which covers double completion
// and abandoning an already completed visit.
func ResolveOpenFunnelStep(ctx context.Context, db *gorm.DB, openKey string, r StepResolution) (bool, error) {
	if db == nil {
		return false, gorm.ErrInvalidDB
	}
	at := r.At.UTC()
	updates := map[string]any{
		"open_key":           nil,
		"time_spent_seconds": r.TimeSpent,
	}
	if r.ExitReason != "" {
		updates["is_exit_point"] = true
		updates["exit_reason"] = r.ExitReason
		updates["exited_at"] = at
	} else {
		updates["completed"] = true
		updates["completed_at"] = at
	}
	if len(r.Metadata) > 0 && string(r.Metadata) != "null" {
		updates["metadata"] = r.Metadata
	}
	res := db.WithContext(ctx).
		Model(&model.FunnelStepRecord{}).
		Where("open_key = ?", openKey).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func ListFunnelRecords(ctx context.Context, db *gorm.DB, sessionID, funnelName string) ([]model.FunnelStepRecord, error) {
	if db == nil {
		return nil, gorm.ErrInvalidDB
	}
	q := db.WithContext(ctx).Where("session_id = ?", sessionID)
	if funnelName != "" {
		q = q.Where("funnel_name = ?", funnelName)
	}
	var out []model.FunnelStepRecord
	err := q.Order("entered_at ASC, id ASC").Find(&out).Error
	return out, err
}

type StepCount struct {
	StepName     string   `gorm:"column:step_name" json:"step_name"`
	StepOrder    int      `gorm:"column:step_order" json:"step_order"`
	Count        int64    `gorm:"column:n" json:"count"`
	AvgTimeSpent *float64 `gorm:"column:avg_time_spent" json:"avg_time_spent,omitempty"`
}

// FunnelStepCounts is the reporting aggregation: visits grouped by (step name, step
// order), computed separately for all visits, completed visits and exit points,
// optionally bounded by entry time.
type FunnelStepCounts struct {
	All       []StepCount
	Completed []StepCount
	Exits     []StepCount
}

func CountFunnelSteps(ctx context.Context, db *gorm.DB, funnelName string, start, end *time.Time) (FunnelStepCounts, error) {
	if db == nil {
		return FunnelStepCounts{}, gorm.ErrInvalidDB
	}
	base := func() *gorm.DB {
		q := db.WithContext(ctx).
			Model(&model.FunnelStepRecord{}).
			Where("funnel_name = ?", funnelName)
		if start != nil {
			q = q.Where("entered_at >= ?", start.UTC())
		}
		if end != nil {
			q = q.Where("entered_at < ?", end.UTC())
		}
		return q
	}
	scan := func(q *gorm.DB, sel string) ([]StepCount, error) {
		var out []StepCount
		err := q.Select(sel).
			Group("step_name, step_order").
			Order("step_order ASC").
			Scan(&out).Error
		return out, err
	}

	var out FunnelStepCounts
	var err error
	if out.All, err = scan(base(), "step_name, step_order, COUNT(*) AS n"); err != nil {
		return FunnelStepCounts{}, err
	}
	if out.Completed, err = scan(base().Where("completed = ?", true),
		"step_name, step_order, COUNT(*) AS n, AVG(time_spent_seconds) AS avg_time_spent"); err != nil {
		return FunnelStepCounts{}, err
	}
	if out.Exits, err = scan(base().Where("is_exit_point = ?", true), "step_name, step_order, COUNT(*) AS n"); err != nil {
		return FunnelStepCounts{}, err
	}
	return out, nil
}
