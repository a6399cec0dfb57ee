package consumer

import (
	"context"
	"time"

	"github.com/xokuso/peluquerias-app-sub000/internal/config"
	"github.com/xokuso/peluquerias-app-sub000/internal/model"
	"github.com/xokuso/peluquerias-app-sub000/internal/obs"
	"github.com/xokuso/peluquerias-app-sub000/internal/store"
	"gorm.io/gorm"
)

// Writers batches the append-only rows produced while applying signals. Their
// Insert methods plug into session.WithPageViewInserter and events.WithInserter.
type Writers struct {
	pageViews *Batcher[model.PageView]
	events    *Batcher[model.AnalyticsEvent]
}

func NewWriters(cfg config.Config, db *gorm.DB, stats *obs.Stats) *Writers {
	return &Writers{
		pageViews: NewBatcher[model.PageView](cfg.EventBatchSize, cfg.EventFlushEvery, 5*time.Second, func(ctx context.Context, rows []model.PageView) error {
			start := time.Now()
			err := store.InsertPageViews(ctx, db, rows)
			stats.ObserveDBFlush(len(rows), time.Since(start), err)
			return err
		}),
		events: NewBatcher[model.AnalyticsEvent](cfg.EventBatchSize, cfg.EventFlushEvery, 5*time.Second, func(ctx context.Context, rows []model.AnalyticsEvent) error {
			start := time.Now()
			err := store.InsertAnalyticsEvents(ctx, db, rows)
			stats.ObserveDBFlush(len(rows), time.Since(start), err)
			return err
		}),
	}
}

func (w *Writers) InsertPageViews(ctx context.Context, rows []model.PageView) error {
	return w.pageViews.Write(ctx, rows...)
}

func (w *Writers) InsertEvents(ctx context.Context, rows []model.AnalyticsEvent) error {
	return w.events.Write(ctx, rows...)
}

// Close flushes pending rows. Call it after the signal sources have stopped.
func (w *Writers) Close() {
	w.pageViews.Close()
	w.events.Close()
}
