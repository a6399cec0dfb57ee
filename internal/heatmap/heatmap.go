// Package heatmap aggregates click coordinates into sparse per-key counters.
package heatmap

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/xokuso/peluquerias-app-sub000/internal/identity"
	"github.com/xokuso/peluquerias-app-sub000/internal/model"
	"github.com/xokuso/peluquerias-app-sub000/internal/obs"
	"github.com/xokuso/peluquerias-app-sub000/internal/outcome"
	"github.com/xokuso/peluquerias-app-sub000/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrMissingPage = errors.New("heatmap click without page")

// Click is one reported click. Screen dimensions are metadata only and never part
// of the dedup key.
type Click struct {
	Page         string `json:"page"`
	X            int    `json:"x"`
	Y            int    `json:"y"`
	Element      string `json:"element,omitempty"`
	ElementTag   string `json:"tag,omitempty"`
	DeviceType   string `json:"device_type,omitempty"`
	ScreenWidth  *int   `json:"screen_width,omitempty"`
	ScreenHeight *int   `json:"screen_height,omitempty"`
}

type Aggregator struct {
	db       *gorm.DB
	stats    *obs.Stats
	logger   *zap.Logger
	attempts int
	backoff  time.Duration
}

type Option func(*Aggregator)

func WithStats(s *obs.Stats) Option { return func(a *Aggregator) { a.stats = s } }

func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l.Named("heatmap")
		}
	}
}

// WithRetry sets how often a conflicting increment is retried before it is counted
// as lost.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(a *Aggregator) {
		if attempts > 0 {
			a.attempts = attempts
		}
		if backoff > 0 {
			a.backoff = backoff
		}
	}
}

func New(db *gorm.DB, opts ...Option) *Aggregator {
	a := &Aggregator{db: db, logger: zap.NewNop(), attempts: 4, backoff: 20 * time.Millisecond}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Key normalizes the dedup tuple: device defaults to desktop, element to "",
// coordinates are clamped at zero.
func Key(c Click) model.HeatmapPoint {
	p := model.HeatmapPoint{
		Page:         truncate(c.Page, 500),
		X:            max(c.X, 0),
		Y:            max(c.Y, 0),
		Element:      truncate(c.Element, 255),
		ElementTag:   strings.ToLower(truncate(c.ElementTag, 50)),
		DeviceType:   identity.NormalizeDeviceType(c.DeviceType),
		ScreenWidth:  c.ScreenWidth,
		ScreenHeight: c.ScreenHeight,
	}
	return p
}

// RecordClick counts the click against its (page, x, y, element, device) point.
// Conflicting increments are retried; an increment that is still lost is surfaced
// through stats and the result, never to the client.
func (a *Aggregator) RecordClick(ctx context.Context, c Click) outcome.Result {
	const op = "heatmap.record_click"
	p := Key(c)
	if p.Page == "" {
		return outcome.Report(outcome.Noop(op, ErrMissingPage), a.logger, a.stats)
	}

	retries, err := store.Retry(ctx, a.attempts, a.backoff, func() error {
		return store.IncrementHeatmapPoint(ctx, a.db, p)
	})
	a.stats.ObserveUpsert(retries, err)
	if err != nil {
		return outcome.Report(outcome.Fail(op, err), a.logger, a.stats,
			zap.String("page", p.Page), zap.Int("x", p.X), zap.Int("y", p.Y), zap.Int("retries", retries))
	}
	return outcome.OK(op)
}

func (a *Aggregator) Points(ctx context.Context, page, deviceType string) ([]model.HeatmapPoint, error) {
	if deviceType != "" {
		deviceType = identity.NormalizeDeviceType(deviceType)
	}
	return store.ListHeatmapPoints(ctx, a.db, strings.TrimSpace(page), deviceType, 0)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
