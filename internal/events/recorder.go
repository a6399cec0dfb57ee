// Package events appends immutable analytics events. There is no update or delete
// path; reporting reads are owned elsewhere.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xokuso/peluquerias-app-sub000/internal/identity"
	"github.com/xokuso/peluquerias-app-sub000/internal/model"
	"github.com/xokuso/peluquerias-app-sub000/internal/obs"
	"github.com/xokuso/peluquerias-app-sub000/internal/outcome"
	"github.com/xokuso/peluquerias-app-sub000/internal/store"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrMissingName = errors.New("event name is required")

// Sink mirrors persisted events to a secondary store (warehouse, stream).
type Sink interface {
	Name() string
	Write(ctx context.Context, rows []model.AnalyticsEvent) error
}

type Recorder struct {
	db     *gorm.DB
	insert func(ctx context.Context, rows []model.AnalyticsEvent) error
	sinks  []Sink
	stats  *obs.Stats
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Recorder)

// WithInserter replaces the direct insert, e.g. with a batching writer.
func WithInserter(fn func(ctx context.Context, rows []model.AnalyticsEvent) error) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.insert = fn
		}
	}
}

func WithSink(s Sink) Option {
	return func(r *Recorder) {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
}

func WithStats(s *obs.Stats) Option { return func(r *Recorder) { r.stats = s } }

func WithLogger(l *zap.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l.Named("events")
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRecorder(db *gorm.DB, opts ...Option) *Recorder {
	r := &Recorder{
		db:     db,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	r.insert = func(ctx context.Context, rows []model.AnalyticsEvent) error {
		return store.InsertAnalyticsEvents(ctx, r.db, rows)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Record appends one event. An unknown session is treated as a late or duplicate
// report: the event is kept with no session linkage.
func (r *Recorder) Record(ctx context.Context, sessionID string, ev Event) outcome.Result {
	const op = "events.record"
	row, err := r.build(ev)
	if err != nil {
		return outcome.Report(outcome.Noop(op, err), r.logger, r.stats, zap.String("session_id", sessionID))
	}

	if id, ok := identity.NormalizeSessionID(sessionID); ok {
		exists, err := store.SessionExists(ctx, r.db, id)
		if err != nil || exists {
			row.SessionID = &id
		}
	}

	rows := []model.AnalyticsEvent{row}
	if err := r.insert(ctx, rows); err != nil {
		return outcome.Report(outcome.Fail(op, fmt.Errorf("insert event %q: %w", row.Name, err)), r.logger, r.stats,
			zap.String("session_id", sessionID))
	}
	for _, s := range r.sinks {
		if err := s.Write(ctx, rows); err != nil {
			r.logger.Warn("event mirror failed", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
	return outcome.OK(op)
}

func (r *Recorder) build(ev Event) (model.AnalyticsEvent, error) {
	name := truncate(ev.Name, 100)
	if name == "" {
		return model.AnalyticsEvent{}, ErrMissingName
	}
	at := ev.At
	if at.IsZero() {
		at = r.now()
	}

	row := model.AnalyticsEvent{
		ID:        uuid.New(),
		Name:      name,
		Category:  NormalizeCategory(ev.Category),
		Action:    truncate(ev.Action, 100),
		Label:     truncate(ev.Label, 255),
		Value:     ev.Value,
		Page:      truncate(ev.Page, 500),
		Currency:  DefaultCurrency,
		CreatedAt: at.UTC(),
	}
	if el := ev.Element; el != nil {
		row.Element = truncate(el.Selector, 255)
		row.ElementID = truncate(el.ID, 255)
		row.ElementClass = truncate(el.Class, 255)
		row.PositionX = el.X
		row.PositionY = el.Y
	}
	if ec := ev.Ecommerce; ec != nil {
		row.Revenue = ec.Revenue
		if c := strings.ToUpper(strings.TrimSpace(ec.Currency)); len(c) == 3 {
			row.Currency = c
		}
		row.TransactionID = truncate(ec.TransactionID, 100)
		row.ItemID = truncate(ec.ItemID, 100)
		row.ItemName = truncate(ec.ItemName, 255)
		row.ItemCategory = truncate(ec.ItemCategory, 100)
		row.Quantity = ec.Quantity
	}

	props := properties{Form: ev.Form, Custom: ev.Custom}
	b, err := json.Marshal(props)
	if err != nil {
		return model.AnalyticsEvent{}, fmt.Errorf("encode properties: %w", err)
	}
	row.Properties = datatypes.JSON(b)
	return row, nil
}

// Properties decodes the stored payload extension of a row.
func Properties(row model.AnalyticsEvent) (form *Form, custom map[string]any, err error) {
	if len(row.Properties) == 0 {
		return nil, nil, nil
	}
	var p properties
	if err := json.Unmarshal(row.Properties, &p); err != nil {
		return nil, nil, err
	}
	return p.Form, p.Custom, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
