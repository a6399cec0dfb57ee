// Package funnel tracks users through static multi-step conversion funnels.
//
// A visit to a step is active from entry until it is completed or abandoned. The
// active set lives in memory for timing and timeouts; the persisted record is the
// source of truth for reporting and carries an open key so that at most one visit
// per (funnel, step, session) is open in the store at any time.
package funnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xokuso/peluquerias-app-sub000/internal/events"
	"github.com/xokuso/peluquerias-app-sub000/internal/identity"
	"github.com/xokuso/peluquerias-app-sub000/internal/model"
	"github.com/xokuso/peluquerias-app-sub000/internal/obs"
	"github.com/xokuso/peluquerias-app-sub000/internal/outcome"
	"github.com/xokuso/peluquerias-app-sub000/internal/store"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrUnknownFunnel = errors.New("unknown funnel")
	ErrUnknownStep   = errors.New("unknown funnel step")
	// ErrNotActive is returned when completing or abandoning a visit that is not open.
	ErrNotActive = errors.New("funnel step not active")
)

const (
	ReasonTimeout       = "timeout"
	ReasonSkipped       = "skipped_to_next_step"
	ReasonUserExit      = "user_exit"
	ReasonSessionEnded  = "session_ended"
	defaultMaxActiveAge = 24 * time.Hour
)

const (
	EventStepEntered   = "funnel_step_entered"
	EventStepCompleted = "funnel_step_completed"
	EventStepAbandoned = "funnel_step_abandoned"
)

// EventRecorder is satisfied by *events.Recorder.
type EventRecorder interface {
	Record(ctx context.Context, sessionID string, ev events.Event) outcome.Result
}

// PixelEmitter forwards a step's configured ad-network event.
type PixelEmitter interface {
	Emit(ctx context.Context, sessionID, eventName string, custom map[string]any) outcome.Result
}

// StepObserver receives step transitions; *metrics.RedisRecorder implements it.
type StepObserver interface {
	ObserveFunnelStep(ctx context.Context, funnel, step, state string, ts time.Time)
}

// ActiveStep is a visit currently tracked in memory.
type ActiveStep struct {
	Funnel    string    `json:"funnel"`
	Step      string    `json:"step"`
	Order     int       `json:"order"`
	EnteredAt time.Time `json:"entered_at"`
}

type Engine struct {
	db       *gorm.DB
	catalog  *Catalog
	events   EventRecorder
	pixel    PixelEmitter
	observer StepObserver
	stats    *obs.Stats
	logger   *zap.Logger
	now      func() time.Time

	tick      time.Duration
	maxAge    time.Duration
	fireAfter time.Duration
	attempts  int

	reg *registry
	wd  *watchdog

	stopOnce sync.Once
}

type Option func(*Engine)

func WithEvents(r EventRecorder) Option { return func(e *Engine) { e.events = r } }

func WithPixel(p PixelEmitter) Option { return func(e *Engine) { e.pixel = p } }

func WithObserver(o StepObserver) Option { return func(e *Engine) { e.observer = o } }

func WithStats(s *obs.Stats) Option { return func(e *Engine) { e.stats = s } }

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l.Named("funnel")
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTick sets the watchdog resolution. Timeouts fire no earlier than declared and
// at most one tick late.
func WithTick(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tick = d
		}
	}
}

// WithMaxActiveAge bounds how long a visit without a timeout stays in memory. The
// persisted record is left open when the entry is dropped.
func WithMaxActiveAge(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.maxAge = d
		}
	}
}

// New starts the engine's watchdog goroutine; call Stop to release it.
func New(db *gorm.DB, catalog *Catalog, opts ...Option) *Engine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	e := &Engine{
		db:       db,
		catalog:  catalog,
		logger:   zap.NewNop(),
		now:      time.Now,
		tick:     250 * time.Millisecond,
		maxAge:   defaultMaxActiveAge,
		attempts: 3,
		reg:      newRegistry(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.wd = newWatchdog(e.tick, e.now, e.fire)
	go e.wd.run()
	return e
}

func (e *Engine) Catalog() *Catalog { return e.catalog }

// Stop halts the watchdog. Pending timeouts are dropped and their records stay open.
func (e *Engine) Stop() {
	e.stopOnce.Do(e.wd.close)
}

// Active lists the visits of sessionID currently tracked in memory.
func (e *Engine) Active(sessionID string) []ActiveStep {
	return e.reg.snapshot(sessionID)
}

// EnterStep opens a visit. Visits to earlier steps of the same funnel that are still
// active are abandoned first with reason skipped_to_next_step. Re-entering an active
// step restarts it.
func (e *Engine) EnterStep(ctx context.Context, sessionID, funnelName, stepName string, metadata map[string]any) outcome.Result {
	const op = "funnel.enter"
	key, def, step, res, ok := e.resolve(op, sessionID, funnelName, stepName)
	if !ok {
		return res
	}
	now := e.now().UTC()

	for _, prev := range e.reg.takeEarlier(key.Session, key.Funnel, step.Order) {
		e.abandon(ctx, prev.key, prev.step, ReasonSkipped, nil, now)
	}

	gen := e.reg.put(key, now, step.Order)
	if d := step.timeout(); d > 0 {
		e.wd.schedule(task{at: now.Add(d), key: key, gen: gen, kind: taskTimeout})
	} else {
		e.wd.schedule(task{at: now.Add(e.maxAge), key: key, gen: gen, kind: taskExpire})
	}

	meta := encodeMetadata(metadata)
	openKey := key.openKey()
	row := model.FunnelStepRecord{
		SessionID:  key.Session,
		FunnelName: key.Funnel,
		StepName:   key.Step,
		StepOrder:  step.Order,
		Metadata:   meta,
		OpenKey:    &openKey,
		EnteredAt:  now,
	}
	retries, err := store.Retry(ctx, e.attempts, 20*time.Millisecond, func() error {
		return store.UpsertOpenFunnelStep(ctx, e.db, row)
	})
	e.stats.ObserveUpsert(retries, err)
	e.stats.ObserveFunnel("enter")
	if err != nil {
		return outcome.Report(outcome.Fail(op, fmt.Errorf("persist step: %w", err)), e.logger, e.stats, keyFields(key)...)
	}

	e.recordEvent(ctx, key, step.Order, EventStepEntered, nil, map[string]any{"metadata": metadata, "funnel_version": def.Version})
	e.observe(ctx, key, "entered", now)
	if step.PixelEvent != "" && e.pixel != nil {
		custom := map[string]any{"funnel": key.Funnel, "step": key.Step, "step_order": step.Order}
		for k, v := range metadata {
			if _, taken := custom[k]; !taken {
				custom[k] = v
			}
		}
		e.pixel.Emit(ctx, key.Session, step.PixelEvent, custom)
	}
	return outcome.Report(outcome.OK(op), e.logger, e.stats)
}

// CompleteStep resolves the open visit as completed. Time spent is known only when
// the entry is still tracked in memory. Completing a visit that is not open is a
// no-op.
func (e *Engine) CompleteStep(ctx context.Context, sessionID, funnelName, stepName string, metadata map[string]any) outcome.Result {
	const op = "funnel.complete"
	key, _, step, res, ok := e.resolve(op, sessionID, funnelName, stepName)
	if !ok {
		return res
	}
	now := e.now().UTC()

	var spent *int64
	if a, tracked := e.reg.take(key); tracked {
		spent = secondsSince(a.EnteredAt, now)
	}
	var meta datatypes.JSON
	if metadata != nil {
		meta = encodeMetadata(metadata)
	}
	resolved, err := e.resolveOpen(ctx, key, store.StepResolution{At: now, TimeSpent: spent, Metadata: meta})
	if err != nil {
		return outcome.Report(outcome.Fail(op, fmt.Errorf("complete step: %w", err)), e.logger, e.stats, keyFields(key)...)
	}
	if !resolved {
		return outcome.Report(outcome.Noop(op, ErrNotActive), e.logger, e.stats, keyFields(key)...)
	}
	e.stats.ObserveFunnel("complete")

	var value *float64
	if spent != nil {
		v := float64(*spent)
		value = &v
	}
	e.recordEvent(ctx, key, step.Order, EventStepCompleted, value, map[string]any{"metadata": metadata})
	e.observe(ctx, key, "completed", now)
	return outcome.Report(outcome.OK(op), e.logger, e.stats)
}

// AbandonStep resolves the open visit as an exit point. A completed visit is never
// turned into an exit; abandoning it is a no-op.
func (e *Engine) AbandonStep(ctx context.Context, sessionID, funnelName, stepName, reason string) outcome.Result {
	const op = "funnel.abandon"
	key, _, step, res, ok := e.resolve(op, sessionID, funnelName, stepName)
	if !ok {
		return res
	}
	if reason == "" {
		reason = ReasonUserExit
	}
	a, tracked := e.reg.take(key)
	if !tracked {
		a = activeStep{Order: step.Order}
	}
	return e.abandon(ctx, key, a, reason, nil, e.now().UTC())
}

// EndSession abandons every visit of sessionID still tracked in memory.
func (e *Engine) EndSession(ctx context.Context, sessionID string) int {
	id, ok := identity.NormalizeSessionID(sessionID)
	if !ok {
		return 0
	}
	now := e.now().UTC()
	n := 0
	for _, ks := range e.reg.takeSession(id) {
		if e.abandon(ctx, ks.key, ks.step, ReasonSessionEnded, nil, now).OK() {
			n++
		}
	}
	return n
}

func (e *Engine) abandon(ctx context.Context, key stepKey, a activeStep, reason string, metadata map[string]any, now time.Time) outcome.Result {
	const op = "funnel.abandon"
	var spent *int64
	if !a.EnteredAt.IsZero() {
		spent = secondsSince(a.EnteredAt, now)
	}
	resolved, err := e.resolveOpen(ctx, key, store.StepResolution{At: now, TimeSpent: spent, ExitReason: reason})
	if err != nil {
		return outcome.Report(outcome.Fail(op, fmt.Errorf("abandon step: %w", err)), e.logger, e.stats, keyFields(key)...)
	}
	if !resolved {
		return outcome.Report(outcome.Noop(op, ErrNotActive), e.logger, e.stats, keyFields(key)...)
	}
	if reason == ReasonTimeout {
		e.stats.ObserveFunnel("timeout")
	} else {
		e.stats.ObserveFunnel("abandon")
	}

	var value *float64
	if spent != nil {
		v := float64(*spent)
		value = &v
	}
	custom := map[string]any{"reason": reason}
	if metadata != nil {
		custom["metadata"] = metadata
	}
	e.recordEvent(ctx, key, a.Order, EventStepAbandoned, value, custom)
	e.observe(ctx, key, "abandoned", now)
	return outcome.Report(outcome.OK(op), e.logger, e.stats)
}

func (e *Engine) fire(t task) {
	a, ok := e.reg.takeIf(t.key, t.gen)
	if !ok {
		return
	}
	switch t.kind {
	case taskTimeout:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e.abandon(ctx, t.key, a, ReasonTimeout, nil, e.now().UTC())
	case taskExpire:
		e.logger.Debug("dropping stale funnel step", keyFields(t.key)...)
	}
}

func (e *Engine) resolve(op, sessionID, funnelName, stepName string) (stepKey, Definition, Step, outcome.Result, bool) {
	id, ok := identity.NormalizeSessionID(sessionID)
	if !ok {
		return stepKey{}, Definition{}, Step{}, outcome.Report(outcome.Noop(op, identity.ErrInvalidSessionID), e.logger, e.stats), false
	}
	def, step, err := e.catalog.Lookup(funnelName, stepName)
	if err != nil {
		e.logger.Warn("ignoring funnel call", zap.String("op", op), zap.String("session_id", id), zap.Error(err))
		return stepKey{}, Definition{}, Step{}, outcome.Report(outcome.Noop(op, err), nil, e.stats), false
	}
	return stepKey{Session: id, Funnel: def.Name, Step: step.Name}, def, step, outcome.Result{}, true
}

func (e *Engine) resolveOpen(ctx context.Context, key stepKey, r store.StepResolution) (bool, error) {
	var resolved bool
	retries, err := store.Retry(ctx, e.attempts, 20*time.Millisecond, func() error {
		var err error
		resolved, err = store.ResolveOpenFunnelStep(ctx, e.db, key.openKey(), r)
		return err
	})
	e.stats.ObserveUpsert(retries, err)
	return resolved, err
}

func (e *Engine) recordEvent(ctx context.Context, key stepKey, order int, name string, value *float64, custom map[string]any) {
	if e.events == nil {
		return
	}
	props := map[string]any{"funnel": key.Funnel, "step": key.Step, "step_order": order}
	for k, v := range custom {
		if v != nil {
			props[k] = v
		}
	}
	e.events.Record(ctx, key.Session, events.Event{
		Name:     name,
		Category: events.CategoryFunnel,
		Action:   key.Funnel,
		Label:    key.Step,
		Value:    value,
		Custom:   props,
	})
}

func (e *Engine) observe(ctx context.Context, key stepKey, state string, ts time.Time) {
	if e.observer != nil {
		e.observer.ObserveFunnelStep(ctx, key.Funnel, key.Step, state, ts)
	}
}

func secondsSince(from, to time.Time) *int64 {
	s := int64(to.Sub(from) / time.Second)
	if s < 0 {
		s = 0
	}
	return &s
}

func encodeMetadata(m map[string]any) datatypes.JSON {
	if len(m) == 0 {
		return datatypes.JSON("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(b)
}

func keyFields(k stepKey) []zap.Field {
	return []zap.Field{
		zap.String("session_id", k.Session),
		zap.String("funnel", k.Funnel),
		zap.String("step", k.Step),
	}
}
