package migrate

import (
	"context"

	"github.com/xokuso/peluquerias-app-sub000/internal/model"
	"gorm.io/gorm"
)

func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	gdb := db.WithContext(ctx)
	if err := gdb.AutoMigrate(model.All()...); err != nil {
		return err
	}

	// The reaper scans open sessions by last activity.
	if err := gdb.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_open_activity ON sessions (last_activity) WHERE ended_at IS NULL`).Error; err != nil {
		return err
	}

	if gdb.Dialector.Name() != "postgres" {
		return nil
	}

	// GIN indexes for JSONB.
	if err := gdb.Exec(`CREATE INDEX IF NOT EXISTS idx_analytics_events_properties ON analytics_events USING GIN (properties)`).Error; err != nil {
		return err
	}
	if err := gdb.Exec(`CREATE INDEX IF NOT EXISTS idx_funnel_step_records_metadata ON funnel_step_records USING GIN (metadata)`).Error; err != nil {
		return err
	}
	return nil
}
