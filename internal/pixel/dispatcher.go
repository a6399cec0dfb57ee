// Package pixel forwards conversion events to an ad-attribution network.
//
// Calls never fail the caller: events are queued in memory, flushed in batches once
// the transport has been initialized, and delivered at most once. Every accepted
// event gets a fresh event id and is recorded as a PixelEvent row.
package pixel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xokuso/peluquerias-app-sub000/internal/identity"
	"github.com/xokuso/peluquerias-app-sub000/internal/model"
	"github.com/xokuso/peluquerias-app-sub000/internal/obs"
	"github.com/xokuso/peluquerias-app-sub000/internal/outcome"
	"github.com/xokuso/peluquerias-app-sub000/internal/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrDisabled    = errors.New("pixel dispatch disabled")
	ErrMissingName = errors.New("pixel event name is required")
	ErrQueueFull   = errors.New("pixel queue full, oldest event dropped")
	ErrNotReady    = errors.New("pixel transport not initialized")
)

// MaxBatch is the Conversions API limit of events per request.
const MaxBatch = 1000

type Dispatcher struct {
	enabled   bool
	transport Transport
	db        *gorm.DB
	stats     *obs.Stats
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string

	queueSize  int
	batchSize  int
	flushEvery time.Duration
	limiter    *rate.Limiter

	mu    sync.Mutex
	queue []Event
	wake  chan struct{}

	initOnce sync.Once
	initErr  error
	ready    atomic.Bool
}

type Option func(*Dispatcher)

func WithEnabled(on bool) Option { return func(d *Dispatcher) { d.enabled = on } }

// WithDB records every accepted event as a PixelEvent row.
func WithDB(db *gorm.DB) Option { return func(d *Dispatcher) { d.db = db } }

func WithStats(s *obs.Stats) Option { return func(d *Dispatcher) { d.stats = s } }

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l.Named("pixel")
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 && n <= MaxBatch {
			d.batchSize = n
		}
	}
}

func WithFlushInterval(every time.Duration) Option {
	return func(d *Dispatcher) {
		if every > 0 {
			d.flushEvery = every
		}
	}
}

// WithRate paces outbound requests; perSec <= 0 leaves them unpaced.
func WithRate(perSec float64) Option {
	return func(d *Dispatcher) {
		if perSec > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
		} else {
			d.limiter = nil
		}
	}
}

func New(transport Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport:  transport,
		logger:     zap.NewNop(),
		now:        time.Now,
		newID:      uuid.NewString,
		queueSize:  1000,
		batchSize:  MaxBatch,
		flushEvery: time.Second,
		limiter:    rate.NewLimiter(rate.Limit(20), 1),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.transport == nil {
		d.enabled = false
	}
	return d
}

func (d *Dispatcher) Enabled() bool { return d != nil && d.enabled }

// Ready reports whether Init has succeeded.
func (d *Dispatcher) Ready() bool { return d != nil && d.ready.Load() }

func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Init initializes the transport. Only the first call does any work; later calls
// return its result.
func (d *Dispatcher) Init(ctx context.Context) error {
	if !d.Enabled() {
		return ErrDisabled
	}
	d.initOnce.Do(func() {
		d.initErr = d.transport.Init(ctx)
		if d.initErr != nil {
			d.logger.Error("pixel transport init failed, events stay queued", zap.Error(d.initErr))
			return
		}
		d.ready.Store(true)
		d.logger.Info("pixel transport ready", zap.Int("pending", d.Pending()))
		d.signal()
	})
	return d.initErr
}

// Track accepts ev for delivery and returns the event id minted for it. A new id
// is minted on every call, including repeats of the same logical event.
func (d *Dispatcher) Track(ctx context.Context, ev Event) (string, outcome.Result) {
	const op = "pixel.track"
	if !d.Enabled() {
		return "", outcome.Noop(op, ErrDisabled)
	}
	ev.Name = strings.TrimSpace(ev.Name)
	if ev.Name == "" {
		return "", outcome.Report(outcome.Noop(op, ErrMissingName), d.logger, d.stats)
	}
	ev.ID = d.newID()
	if ev.Time.IsZero() {
		ev.Time = d.now()
	}
	ev.Time = ev.Time.UTC()

	dropped := d.enqueue(ev)
	d.stats.ObservePixel(1, 0, 0, dropped)
	d.persist(ctx, ev, SourceServer)

	if dropped > 0 {
		d.logger.Warn("pixel queue full, dropped oldest", zap.Int("dropped", dropped))
		return ev.ID, outcome.Report(outcome.Noop(op, ErrQueueFull), d.logger, d.stats)
	}
	return ev.ID, outcome.Report(outcome.OK(op), d.logger, d.stats)
}

// Emit is the untyped entry point used for funnel steps. Well-known custom keys
// (value, currency, content_name, content_category, content_ids, content_type,
// num_items) are lifted into the typed descriptors.
func (d *Dispatcher) Emit(ctx context.Context, sessionID, eventName string, custom map[string]any) outcome.Result {
	ev := Event{Name: eventName, SessionID: sessionID}
	ev.Custom = liftCustom(&ev, custom)
	_, res := d.Track(ctx, ev)
	return res
}

// RecordBrowserEvent stores an event the browser pixel already sent, keeping its
// event id so both sides can be reconciled. Nothing is dispatched.
func (d *Dispatcher) RecordBrowserEvent(ctx context.Context, ev Event) outcome.Result {
	const op = "pixel.browser"
	ev.Name = strings.TrimSpace(ev.Name)
	if ev.Name == "" {
		return outcome.Report(outcome.Noop(op, ErrMissingName), d.logger, d.stats)
	}
	if strings.TrimSpace(ev.ID) == "" {
		ev.ID = d.newID()
	}
	if ev.Time.IsZero() {
		ev.Time = d.now()
	}
	if err := d.insert(ctx, ev, SourceBrowser); err != nil {
		return outcome.Report(outcome.Fail(op, err), d.logger, d.stats, zap.String("event", ev.Name))
	}
	return outcome.Report(outcome.OK(op), d.logger, d.stats)
}

func (d *Dispatcher) enqueue(ev Event) (dropped int) {
	d.mu.Lock()
	if len(d.queue) >= d.queueSize {
		dropped = len(d.queue) - d.queueSize + 1
		d.queue = append(d.queue[:0], d.queue[dropped:]...)
	}
	d.queue = append(d.queue, ev)
	full := len(d.queue) >= d.batchSize
	d.mu.Unlock()
	if full {
		d.signal()
	}
	return dropped
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) take(n int) []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n > len(d.queue) {
		n = len(d.queue)
	}
	if n == 0 {
		return nil
	}
	batch := make([]Event, n)
	copy(batch, d.queue[:n])
	d.queue = append(d.queue[:0], d.queue[n:]...)
	return batch
}

// Flush sends queued events in order until the queue is empty. Failed batches are
// logged and discarded. It is a no-op until Init has succeeded.
func (d *Dispatcher) Flush(ctx context.Context) (sent int, err error) {
	if !d.Ready() {
		return 0, nil
	}
	for {
		batch := d.take(d.batchSize)
		if len(batch) == 0 {
			return sent, err
		}
		if d.limiter != nil {
			if werr := d.limiter.Wait(ctx); werr != nil {
				d.requeueFront(batch)
				return sent, werr
			}
		}
		wire := make([]ServerEvent, len(batch))
		for i, ev := range batch {
			wire[i] = toServerEvent(ev)
		}
		if serr := d.transport.Send(ctx, wire); serr != nil {
			d.stats.ObservePixel(0, 0, len(batch), 0)
			d.logger.Warn("pixel batch failed",
				zap.Int("events", len(batch)),
				zap.Bool("permanent", IsPermanent(serr)),
				zap.Error(serr))
			err = errors.Join(err, serr)
			continue
		}
		d.stats.ObservePixel(0, len(batch), 0, 0)
		sent += len(batch)
	}
}

func (d *Dispatcher) requeueFront(batch []Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(batch, d.queue...)
	if over := len(d.queue) - d.queueSize; over > 0 {
		d.queue = d.queue[over:]
	}
}

// Run initializes the transport and flushes periodically until ctx is done, then
// makes one last bounded flush.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.Enabled() {
		return nil
	}
	_ = d.Init(ctx)

	t := time.NewTicker(d.flushEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, _ = d.Flush(drainCtx)
			cancel()
			return nil
		case <-t.C:
		case <-d.wake:
		}
		_, _ = d.Flush(ctx)
	}
}

func (d *Dispatcher) persist(ctx context.Context, ev Event, source string) {
	if err := d.insert(ctx, ev, source); err != nil {
		d.logger.Warn("persist pixel event failed", zap.String("event", ev.Name), zap.Error(err))
	}
}

func (d *Dispatcher) insert(ctx context.Context, ev Event, source string) error {
	if d.db == nil {
		return nil
	}
	row := model.PixelEvent{
		EventName:       truncate(ev.Name, 50),
		EventID:         truncate(ev.ID, 100),
		Source:          source,
		Value:           ev.Value,
		ContentName:     truncate(ev.ContentName, 255),
		ContentCategory: truncate(ev.ContentCategory, 100),
		ContentType:     truncate(ev.ContentType, 50),
		NumItems:        ev.NumItems,
		HashedEmail:     identity.HashPII(identity.PIIEmail, ev.User.Email),
		HashedPhone:     identity.HashPII(identity.PIIPhone, ev.User.Phone),
		SourceURL:       ev.SourceURL,
		CreatedAt:       ev.Time.UTC(),
	}
	if id, ok := identity.NormalizeSessionID(ev.SessionID); ok {
		row.SessionID = &id
	}
	if ev.Value != nil || ev.Currency != "" {
		row.Currency = orDefault(ev.Currency, DefaultCurrency)
	}
	if len(ev.ContentIDs) > 0 {
		b, err := json.Marshal(ev.ContentIDs)
		if err != nil {
			return fmt.Errorf("encode content ids: %w", err)
		}
		row.ContentIDs = datatypes.JSON(b)
	}
	if len(ev.Custom) > 0 {
		b, err := json.Marshal(ev.Custom)
		if err != nil {
			return fmt.Errorf("encode custom data: %w", err)
		}
		row.CustomData = datatypes.JSON(b)
	}
	return store.InsertPixelEvents(ctx, d.db, []model.PixelEvent{row})
}

func liftCustom(ev *Event, custom map[string]any) map[string]any {
	if len(custom) == 0 {
		return nil
	}
	rest := make(map[string]any, len(custom))
	for k, v := range custom {
		switch k {
		case "value":
			if f, ok := toFloat(v); ok {
				ev.Value = &f
				continue
			}
		case "currency":
			if s, ok := v.(string); ok {
				ev.Currency = s
				continue
			}
		case "content_name":
			if s, ok := v.(string); ok {
				ev.ContentName = s
				continue
			}
		case "content_category":
			if s, ok := v.(string); ok {
				ev.ContentCategory = s
				continue
			}
		case "content_type":
			if s, ok := v.(string); ok {
				ev.ContentType = s
				continue
			}
		case "content_ids":
			if ids := toStrings(v); ids != nil {
				ev.ContentIDs = ids
				continue
			}
		case "num_items":
			if f, ok := toFloat(v); ok {
				n := int(f)
				ev.NumItems = &n
				continue
			}
		}
		rest[k] = v
	}
	if len(rest) == 0 {
		return nil
	}
	return rest
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, x := range s {
			out = append(out, fmt.Sprint(x))
		}
		return out
	case string:
		return []string{s}
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}
