// Package cleanup runs the scheduled housekeeping: idle sessions are closed and
// append-only tables are trimmed to the retention window.
package cleanup

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xokuso/peluquerias-app-sub000/internal/obs"
	"github.com/xokuso/peluquerias-app-sub000/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IdleCloser is the session manager.
type IdleCloser interface {
	CloseIdle(ctx context.Context, idle time.Duration) ([]string, error)
}

// SessionEnder is the funnel engine; closed sessions abandon their open steps.
type SessionEnder interface {
	EndSession(ctx context.Context, sessionID string) int
}

type Worker struct {
	DB              *gorm.DB
	Sessions        IdleCloser
	Funnels         SessionEnder
	IdleAfter       time.Duration
	RetentionDays   int
	DeleteBatchSize int
	MaxBatches      int
	Stats           *obs.Stats
	Logger          *zap.Logger
	Now             func() time.Time
}

func NewWorker(db *gorm.DB, sessions IdleCloser) *Worker {
	return &Worker{
		DB:              db,
		Sessions:        sessions,
		IdleAfter:       30 * time.Minute,
		DeleteBatchSize: 5000,
		MaxBatches:      50,
		Logger:          zap.NewNop(),
		Now:             func() time.Time { return time.Now().UTC() },
	}
}

type Result struct {
	ClosedSessions   int
	AbandonedSteps   int
	DeletedRows      int64
	RetentionPending bool
}

// RunOnce performs one pass. Retention stops after MaxBatches per table and reports
// RetentionPending so the next run picks up the rest.
func (w *Worker) RunOnce(ctx context.Context) (Result, error) {
	var out Result
	if w == nil {
		return out, nil
	}
	logger := w.logger()

	if w.Sessions != nil && w.IdleAfter > 0 {
		ids, err := w.Sessions.CloseIdle(ctx, w.IdleAfter)
		out.ClosedSessions = len(ids)
		if w.Funnels != nil {
			for _, id := range ids {
				out.AbandonedSteps += w.Funnels.EndSession(ctx, id)
			}
		}
		if err != nil {
			w.Stats.ObserveCleanup(int64(out.ClosedSessions), 0)
			return out, err
		}
	}

	if w.DB != nil && w.RetentionDays > 0 {
		before := w.now().Add(-time.Duration(w.RetentionDays) * 24 * time.Hour)
		for _, table := range store.RetentionTables() {
			n, pending, err := w.trim(ctx, table, before)
			out.DeletedRows += n
			out.RetentionPending = out.RetentionPending || pending
			if err != nil {
				w.Stats.ObserveCleanup(int64(out.ClosedSessions), out.DeletedRows)
				return out, err
			}
		}
	}

	w.Stats.ObserveCleanup(int64(out.ClosedSessions), out.DeletedRows)
	if out.ClosedSessions > 0 || out.DeletedRows > 0 {
		logger.Info("cleanup pass",
			zap.Int("closed_sessions", out.ClosedSessions),
			zap.Int("abandoned_steps", out.AbandonedSteps),
			zap.Int64("deleted_rows", out.DeletedRows),
			zap.Bool("retention_pending", out.RetentionPending))
	}
	return out, nil
}

func (w *Worker) trim(ctx context.Context, table string, before time.Time) (int64, bool, error) {
	maxBatches := w.MaxBatches
	if maxBatches <= 0 {
		maxBatches = 1
	}
	batchSize := w.DeleteBatchSize
	if batchSize <= 0 {
		batchSize = 5000
	}

	var total, last int64
	for i := 0; i < maxBatches; i++ {
		n, err := store.DeleteBeforeBatched(ctx, w.DB, table, before, batchSize)
		total += n
		if err != nil {
			return total, false, err
		}
		last = n
		if n < int64(batchSize) {
			return total, false, nil
		}
		if err := ctx.Err(); err != nil {
			return total, true, err
		}
	}
	return total, last > 0, nil
}

// Start schedules RunOnce on a six-field cron spec (with seconds). Overlapping runs
// are skipped. Stop the returned scheduler to release it.
func (w *Worker) Start(ctx context.Context, spec string) (*cron.Cron, error) {
	cl := cronLogger{w.logger()}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	_, err := c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if _, err := w.RunOnce(runCtx); err != nil {
			w.logger().Warn("cleanup pass failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

// Run blocks until ctx is done, then waits for a running pass to finish.
func (w *Worker) Run(ctx context.Context, spec string) error {
	c, err := w.Start(ctx, spec)
	if err != nil {
		return err
	}
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (w *Worker) logger() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger.Named("cleanup")
}

func (w *Worker) now() time.Time {
	if w.Now == nil {
		return time.Now().UTC()
	}
	return w.Now()
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ l *zap.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
