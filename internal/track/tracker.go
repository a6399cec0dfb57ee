// Package track applies client signals to the tracking components. It is the one
// place that knows which component a signal type feeds; every component call is
// best-effort and reports through outcome.Result.
package track

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xokuso/peluquerias-app-sub000/internal/events"
	"github.com/xokuso/peluquerias-app-sub000/internal/funnel"
	"github.com/xokuso/peluquerias-app-sub000/internal/heatmap"
	"github.com/xokuso/peluquerias-app-sub000/internal/identity"
	"github.com/xokuso/peluquerias-app-sub000/internal/obs"
	"github.com/xokuso/peluquerias-app-sub000/internal/outcome"
	"github.com/xokuso/peluquerias-app-sub000/internal/pixel"
	"github.com/xokuso/peluquerias-app-sub000/internal/session"
	"go.uber.org/zap"
)

// LiveMetrics is satisfied by *metrics.RedisRecorder.
type LiveMetrics interface {
	ObserveSession(ctx context.Context, sessionID string, ts time.Time, dims map[string]string)
	ObservePageView(ctx context.Context, path string, ts time.Time)
	ObserveClick(ctx context.Context, page string, ts time.Time)
	ObserveConversion(ctx context.Context, conversionType string, value float64, ts time.Time)
}

// Components are the sinks a Tracker feeds. Sessions is required; the rest may be
// nil, in which case the matching signals are accepted and dropped.
type Components struct {
	Sessions *session.Manager
	Events   *events.Recorder
	Heatmap  *heatmap.Aggregator
	Funnels  *funnel.Engine
	Pixel    *pixel.Dispatcher
	Live     LiveMetrics
}

type Tracker struct {
	c       Components
	stats   *obs.Stats
	logger  *zap.Logger
	timeout time.Duration
}

type Option func(*Tracker)

func WithStats(s *obs.Stats) Option { return func(t *Tracker) { t.stats = s } }

func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l.Named("track")
		}
	}
}

// WithLiveTimeout bounds each Redis update.
func WithLiveTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

func New(c Components, opts ...Option) *Tracker {
	t := &Tracker{c: c, logger: zap.NewNop(), timeout: 2 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Apply routes one signal. Malformed signals are reported as no-ops.
func (t *Tracker) Apply(ctx context.Context, sig Signal) outcome.Result {
	op := "track." + sig.Type
	if err := sig.Normalize(); err != nil {
		return outcome.Report(outcome.Noop(op, err), t.logger, t.stats)
	}
	at := sig.At()
	meta := sig.meta()

	switch sig.Type {
	case TypeSessionStart:
		return t.sessionStart(ctx, sig, meta, at)
	case TypeSessionEnd:
		return t.sessionEnd(ctx, sig)
	case TypePageView:
		return t.pageView(ctx, sig, meta, at)
	case TypeEvent:
		var ev EventData
		if err := sig.decode(&ev); err != nil {
			return outcome.Report(outcome.Noop(op, err), t.logger, t.stats)
		}
		if ev.At.IsZero() {
			ev.At = at
		}
		if t.c.Events == nil {
			return outcome.OK(op)
		}
		return t.c.Events.Record(ctx, sig.SessionID, ev)
	case TypeClick:
		return t.click(ctx, sig, meta, at)
	case TypeConversion:
		return t.conversion(ctx, sig, meta, at)
	case TypeFacebookPixel:
		var p PixelData
		if err := sig.decode(&p); err != nil {
			return outcome.Report(outcome.Noop(op, err), t.logger, t.stats)
		}
		if t.c.Pixel == nil {
			return outcome.OK(op)
		}
		return t.c.Pixel.RecordBrowserEvent(ctx, p.event(sig.SessionID, at))
	case TypeFunnelEnter, TypeFunnelComplete, TypeFunnelAbandon:
		return t.funnel(ctx, sig)
	}
	return outcome.Noop(op, fmt.Errorf("%w: %q", ErrUnknownType, sig.Type))
}

func (t *Tracker) attrs(meta Meta, at time.Time) session.Attributes {
	return session.Attributes{
		IP:        meta.ClientIP,
		UserAgent: meta.UserAgent,
		Referrer:  meta.Referrer,
		At:        at,
	}
}

func (t *Tracker) sessionStart(ctx context.Context, sig Signal, meta Meta, at time.Time) outcome.Result {
	var d SessionStartData
	if err := sig.decode(&d); err != nil {
		return outcome.Report(outcome.Noop("track.session_start", err), t.logger, t.stats)
	}
	a := t.attrs(meta, at)
	a.UserID = d.UserID
	if d.Referrer != "" {
		a.Referrer = d.Referrer
	}
	a.LandingPage = d.LandingPage
	if a.LandingPage == "" {
		a.LandingPage = d.URL
	}
	if d.URL != "" {
		a.UTM = identity.ExtractUTM(d.URL)
	}
	res := t.c.Sessions.OpenOrTouch(ctx, sig.SessionID, a)
	if res.OK() && t.c.Live != nil {
		dev := identity.ParseUserAgent(meta.UserAgent)
		dims := map[string]string{"device": dev.Type, "browser": dev.Browser, "os": dev.OS}
		if row, err := t.c.Sessions.Get(ctx, sig.SessionID); err == nil && row.Country != "" {
			dims["country"] = row.Country
		}
		t.live(ctx, func(ctx context.Context) { t.c.Live.ObserveSession(ctx, sig.SessionID, at, dims) })
	}
	return res
}

func (t *Tracker) sessionEnd(ctx context.Context, sig Signal) outcome.Result {
	res := t.c.Sessions.Close(ctx, sig.SessionID)
	if t.c.Funnels != nil {
		if n := t.c.Funnels.EndSession(ctx, sig.SessionID); n > 0 {
			t.logger.Debug("abandoned open funnel steps at session end",
				zap.String("session_id", sig.SessionID), zap.Int("steps", n))
		}
	}
	return res
}

func (t *Tracker) pageView(ctx context.Context, sig Signal, meta Meta, at time.Time) outcome.Result {
	var d PageViewData
	if err := sig.decode(&d); err != nil {
		return outcome.Report(outcome.Noop("track.page_view", err), t.logger, t.stats)
	}
	a := t.attrs(meta, at)
	a.UserID = d.UserID
	a.LandingPage = d.URL
	if d.URL != "" {
		a.UTM = identity.ExtractUTM(d.URL)
	}
	res := t.c.Sessions.RecordPageView(ctx, sig.SessionID, a, session.PageView{
		Path:       d.Path,
		Title:      d.Title,
		URL:        d.URL,
		Referrer:   d.Referrer,
		LoadTimeMs: d.LoadTimeMs,
		At:         at,
	})
	if res.OK() && t.c.Live != nil {
		t.live(ctx, func(ctx context.Context) { t.c.Live.ObservePageView(ctx, d.Path, at) })
	}
	return res
}

func (t *Tracker) click(ctx context.Context, sig Signal, meta Meta, at time.Time) outcome.Result {
	var c ClickData
	if err := sig.decode(&c); err != nil {
		return outcome.Report(outcome.Noop("track.click", err), t.logger, t.stats)
	}
	if c.DeviceType == "" && meta.UserAgent != "" {
		c.DeviceType = identity.ParseUserAgent(meta.UserAgent).Type
	}
	if t.c.Heatmap == nil {
		return outcome.OK("track.click")
	}
	res := t.c.Heatmap.RecordClick(ctx, c)
	if res.OK() && t.c.Live != nil {
		t.live(ctx, func(ctx context.Context) { t.c.Live.ObserveClick(ctx, c.Page, at) })
	}
	return res
}

func (t *Tracker) conversion(ctx context.Context, sig Signal, meta Meta, at time.Time) outcome.Result {
	var d ConversionData
	if err := sig.decode(&d); err != nil {
		return outcome.Report(outcome.Noop("track.conversion", err), t.logger, t.stats)
	}
	d.Type = strings.ToLower(strings.TrimSpace(d.Type))
	res := t.c.Sessions.MarkConversion(ctx, sig.SessionID, d.Type, d.Value)
	if !res.OK() {
		return res
	}
	if t.c.Events != nil {
		v := d.Value
		t.c.Events.Record(ctx, sig.SessionID, events.Event{
			Name:     "conversion",
			Category: events.CategoryEcommerce,
			Action:   d.Type,
			Value:    &v,
			At:       at,
			Ecommerce: &events.Ecommerce{
				Revenue:       &v,
				Currency:      d.Currency,
				TransactionID: d.OrderID,
			},
		})
	}
	if t.c.Live != nil {
		t.live(ctx, func(ctx context.Context) { t.c.Live.ObserveConversion(ctx, d.Type, d.Value, at) })
	}
	if t.c.Pixel != nil {
		t.forwardConversion(ctx, sig.SessionID, meta, d)
	}
	return res
}

// forwardConversion maps a conversion type onto the matching pixel helper.
func (t *Tracker) forwardConversion(ctx context.Context, sessionID string, meta Meta, d ConversionData) {
	m := pixel.Meta{
		SessionID: sessionID,
		SourceURL: d.URL,
		User: pixel.UserData{
			Email:     d.Email,
			Phone:     d.Phone,
			ClientIP:  meta.ClientIP,
			UserAgent: meta.UserAgent,
		},
	}
	order := pixel.Order{ID: d.OrderID, Total: d.Value, Currency: d.Currency}
	for _, id := range d.ItemIDs {
		order.Items = append(order.Items, pixel.Product{ID: id})
	}
	switch d.Type {
	case "purchase":
		t.c.Pixel.PurchaseCompleted(ctx, m, order)
	case "lead":
		v := d.Value
		t.c.Pixel.LeadCompleted(ctx, m, d.Form, &v)
	case "contact":
		t.c.Pixel.ContactSubmitted(ctx, m, d.Form)
	case "signup", "registration":
		t.c.Pixel.RegistrationCompleted(ctx, m, d.Form)
	}
}

func (t *Tracker) funnel(ctx context.Context, sig Signal) outcome.Result {
	op := "track." + sig.Type
	var d FunnelData
	if err := sig.decode(&d); err != nil {
		return outcome.Report(outcome.Noop(op, err), t.logger, t.stats)
	}
	if t.c.Funnels == nil {
		return outcome.OK(op)
	}
	switch sig.Type {
	case TypeFunnelEnter:
		return t.c.Funnels.EnterStep(ctx, sig.SessionID, d.Funnel, d.Step, d.Metadata)
	case TypeFunnelComplete:
		return t.c.Funnels.CompleteStep(ctx, sig.SessionID, d.Funnel, d.Step, d.Metadata)
	default:
		return t.c.Funnels.AbandonStep(ctx, sig.SessionID, d.Funnel, d.Step, d.Reason)
	}
}

func (t *Tracker) live(ctx context.Context, fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()
	fn(ctx)
}
