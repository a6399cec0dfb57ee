// Package session owns the session lifecycle: open/extend, page-view counters,
// conversion flags and close. Every write is a single atomic statement keyed by
// session id; closed sessions are terminal.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xokuso/peluquerias-app-sub000/internal/enrich"
	"github.com/xokuso/peluquerias-app-sub000/internal/identity"
	"github.com/xokuso/peluquerias-app-sub000/internal/model"
	"github.com/xokuso/peluquerias-app-sub000/internal/obs"
	"github.com/xokuso/peluquerias-app-sub000/internal/outcome"
	"github.com/xokuso/peluquerias-app-sub000/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrSessionClosed  = errors.New("session already closed")
	ErrNotFound       = errors.New("session not found")
	ErrInvalidID      = identity.ErrInvalidSessionID
	ErrCloseContended = errors.New("session close lost to concurrent activity")
)

const closeAttempts = 3

// GeoLookup resolves IPs to geographic hints; *enrich.GeoIP implements it.
type GeoLookup interface {
	Lookup(ip string) (enrich.Geo, bool)
}

// Attributes is what a client signal knows about its session. Zero values mean
// "unknown" and never erase stored data.
type Attributes struct {
	UserID      string
	IP          string
	UserAgent   string
	Referrer    string
	LandingPage string
	UTM         identity.UTM
	At          time.Time
}

type PageView struct {
	Path       string
	Title      string
	URL        string
	Referrer   string
	LoadTimeMs *int64
	At         time.Time
}

type Manager struct {
	db       *gorm.DB
	geo      GeoLookup
	stats    *obs.Stats
	logger   *zap.Logger
	now      func() time.Time
	insertPV func(ctx context.Context, rows []model.PageView) error
}

type Option func(*Manager)

func WithGeo(g GeoLookup) Option { return func(m *Manager) { m.geo = g } }

func WithStats(s *obs.Stats) Option { return func(m *Manager) { m.stats = s } }

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l.Named("session")
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithPageViewInserter routes page view rows through a batching writer.
func WithPageViewInserter(fn func(ctx context.Context, rows []model.PageView) error) Option {
	return func(m *Manager) {
		if fn != nil {
			m.insertPV = fn
		}
	}
}

func New(db *gorm.DB, opts ...Option) *Manager {
	m := &Manager{
		db:     db,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	m.insertPV = func(ctx context.Context, rows []model.PageView) error {
		return store.InsertPageViews(ctx, m.db, rows)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Manager) at(t time.Time) time.Time {
	if t.IsZero() {
		return m.now()
	}
	return t.UTC()
}

func (m *Manager) report(r outcome.Result, id string) outcome.Result {
	return outcome.Report(r, m.logger, m.stats, zap.String("session_id", id))
}

// OpenOrTouch creates the session on first contact, otherwise extends it and fills
// in attributes that were unknown so far.
func (m *Manager) OpenOrTouch(ctx context.Context, id string, attrs Attributes) outcome.Result {
	_, res := m.upsert(ctx, "session.open_or_touch", id, m.rowFrom(id, attrs), store.SessionTouch{})
	return res
}

// RecordPageView atomically increments the page-view counter, creating the session
// if this is its first signal, and appends the immutable page view row.
func (m *Manager) RecordPageView(ctx context.Context, id string, attrs Attributes, pv PageView) outcome.Result {
	const op = "session.record_page_view"
	if pv.At.IsZero() {
		pv.At = attrs.At
	}
	attrs.At = pv.At
	if attrs.LandingPage == "" {
		attrs.LandingPage = pv.URL
	}
	sid, res := m.upsert(ctx, op, id, m.rowFrom(id, attrs), store.SessionTouch{PageViews: 1})
	if !res.OK() {
		return res
	}
	row := model.PageView{
		SessionID:  &sid,
		Path:       truncate(orDefault(pv.Path, "/"), 500),
		Title:      truncate(pv.Title, 500),
		URL:        pv.URL,
		Referrer:   pv.Referrer,
		LoadTimeMs: pv.LoadTimeMs,
		ViewedAt:   m.at(pv.At),
	}
	if err := m.insertPV(ctx, []model.PageView{row}); err != nil {
		return m.report(outcome.Fail(op, fmt.Errorf("insert page view: %w", err)), id)
	}
	return outcome.OK(op)
}

// MarkConversion flags the session as converted. Repeated calls overwrite type and
// value.
func (m *Manager) MarkConversion(ctx context.Context, id, conversionType string, value float64) outcome.Result {
	row := m.rowFrom(id, Attributes{})
	row.ConversionType = truncate(conversionType, 50)
	row.ConversionValue = &value
	_, res := m.upsert(ctx, "session.mark_conversion", id, row, store.SessionTouch{Conversion: true})
	return res
}

func (m *Manager) upsert(ctx context.Context, op, rawID string, row model.Session, touch store.SessionTouch) (string, outcome.Result) {
	id, ok := identity.NormalizeSessionID(rawID)
	if !ok {
		return "", m.report(outcome.Noop(op, ErrInvalidID), rawID)
	}
	row.ID = id

	var applied bool
	retries, err := store.Retry(ctx, 3, 25*time.Millisecond, func() error {
		var err error
		applied, err = store.UpsertSession(ctx, m.db, row, touch)
		return err
	})
	m.stats.ObserveUpsert(retries, err)
	if err != nil {
		return id, m.report(outcome.Fail(op, err), id)
	}
	if !applied {
		return id, m.report(outcome.Noop(op, ErrSessionClosed), id)
	}
	return id, outcome.OK(op)
}

func (m *Manager) rowFrom(id string, a Attributes) model.Session {
	at := m.at(a.At)
	utm := a.UTM
	if a.LandingPage != "" {
		utm = utm.Merge(identity.ExtractUTM(a.LandingPage))
	}
	row := model.Session{
		ID:           id,
		IPAddress:    a.IP,
		UserAgent:    a.UserAgent,
		Referrer:     a.Referrer,
		LandingPage:  a.LandingPage,
		UTMSource:    utm.Source,
		UTMMedium:    utm.Medium,
		UTMCampaign:  utm.Campaign,
		UTMContent:   utm.Content,
		UTMTerm:      utm.Term,
		FBClickID:    utm.FBClickID,
		StartedAt:    at,
		LastActivity: at,
	}
	if uid := strings.TrimSpace(a.UserID); uid != "" {
		row.UserID = &uid
	}
	if a.UserAgent != "" {
		d := identity.ParseUserAgent(a.UserAgent)
		row.DeviceType = d.Type
		row.Browser = truncate(d.Browser, 100)
		row.BrowserVersion = truncate(d.BrowserVersion, 50)
		row.OS = truncate(d.OS, 100)
		row.OSVersion = truncate(d.OSVersion, 50)
		row.IsBot = d.Bot
	}
	if a.IP != "" && m.geo != nil {
		if g, ok := m.geo.Lookup(a.IP); ok {
			row.Country = g.Country
			row.Region = g.Region
			row.City = g.City
		}
	}
	return row
}

// Close ends the session. Duration is last activity minus start, in whole seconds.
// Closing a closed or unknown session is a reported no-op.
func (m *Manager) Close(ctx context.Context, rawID string) outcome.Result {
	const op = "session.close"
	id, ok := identity.NormalizeSessionID(rawID)
	if !ok {
		return m.report(outcome.Noop(op, ErrInvalidID), rawID)
	}

	for attempt := 0; attempt < closeAttempts; attempt++ {
		s, err := store.GetSession(ctx, m.db, id)
		if store.IsNotFound(err) {
			return m.report(outcome.Noop(op, ErrNotFound), id)
		}
		if err != nil {
			return m.report(outcome.Fail(op, err), id)
		}
		if s.Closed() {
			return m.report(outcome.Noop(op, ErrSessionClosed), id)
		}

		duration := int64(s.LastActivity.Sub(s.StartedAt) / time.Second)
		if duration < 0 {
			duration = 0
		}
		ended := m.now()
		if ended.Before(s.LastActivity) {
			ended = s.LastActivity
		}
		// Applies only if no signal moved last_activity since the read.
		closed, err := store.CloseSessionIf(ctx, m.db, id, s.LastActivity, ended, duration)
		if err != nil {
			return m.report(outcome.Fail(op, err), id)
		}
		if closed {
			return outcome.OK(op)
		}
	}
	return m.report(outcome.Fail(op, ErrCloseContended), id)
}

// CloseIdle closes every open session inactive since before now-idle and returns the
// ids it closed.
func (m *Manager) CloseIdle(ctx context.Context, idle time.Duration) ([]string, error) {
	if idle <= 0 {
		return nil, nil
	}
	cutoff := m.now().Add(-idle)
	var closed []string
	for {
		ids, err := store.ListIdleSessionIDs(ctx, m.db, cutoff, 500)
		if err != nil {
			return closed, err
		}
		progressed := false
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return closed, err
			}
			if r := m.Close(ctx, id); r.OK() {
				closed = append(closed, id)
				progressed = true
			}
		}
		if len(ids) < 500 || !progressed {
			return closed, nil
		}
	}
}

func (m *Manager) Get(ctx context.Context, id string) (model.Session, error) {
	s, err := store.GetSession(ctx, m.db, id)
	if store.IsNotFound(err) {
		return model.Session{}, ErrNotFound
	}
	return s, err
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
