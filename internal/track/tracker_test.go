package track

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/xokuso/peluquerias-app-sub000/internal/events"
	"github.com/xokuso/peluquerias-app-sub000/internal/funnel"
	"github.com/xokuso/peluquerias-app-sub000/internal/heatmap"
	"github.com/xokuso/peluquerias-app-sub000/internal/identity"
	"github.com/xokuso/peluquerias-app-sub000/internal/metrics"
	"github.com/xokuso/peluquerias-app-sub000/internal/model"
	"github.com/xokuso/peluquerias-app-sub000/internal/pixel"
	"github.com/xokuso/peluquerias-app-sub000/internal/session"
	"github.com/xokuso/peluquerias-app-sub000/internal/store"
	"github.com/xokuso/peluquerias-app-sub000/internal/testkit"
	"gorm.io/gorm"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type fixture struct {
	db      *gorm.DB
	tracker *Tracker
	live    *metrics.RedisRecorder
	pixel   *pixel.Dispatcher
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testkit.OpenTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	live := metrics.NewRedisRecorder(rdb)
	rec := events.NewRecorder(db)
	px := pixel.New(nopTransport{}, pixel.WithEnabled(true), pixel.WithDB(db))
	engine := funnel.New(db, nil, funnel.WithEvents(rec), funnel.WithPixel(px), funnel.WithObserver(live))
	t.Cleanup(engine.Stop)

	tr := New(Components{
		Sessions: session.New(db),
		Events:   rec,
		Heatmap:  heatmap.New(db),
		Funnels:  engine,
		Pixel:    px,
		Live:     live,
	})
	return fixture{db: db, tracker: tr, live: live, pixel: px}
}

type nopTransport struct{}

func (nopTransport) Init(context.Context) error                       { return nil }
func (nopTransport) Send(context.Context, []pixel.ServerEvent) error { return nil }

func signal(t *testing.T, typ, sessionID string, data any) Signal {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return Signal{
		Type:      typ,
		SessionID: sessionID,
		Data:      b,
		Received:  time.Now().UTC(),
		Meta:      &Meta{ClientIP: "203.0.113.9", UserAgent: chromeUA},
	}
}

func TestTracker_SessionJourney(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := "s_journey"

	apply := func(typ string, data any) {
		t.Helper()
		res := f.tracker.Apply(ctx, signal(t, typ, id, data))
		require.Truef(t, res.OK(), "%s: %v", typ, res.Err)
	}

	apply(TypeSessionStart, SessionStartData{URL: "https://example.com/?utm_source=google&utm_medium=cpc"})
	apply(TypePageView, PageViewData{Path: "/", Title: "Home"})
	apply(TypePageView, PageViewData{Path: "/plantillas"})
	apply(TypeClick, ClickData{Page: "/plantillas", X: 10, Y: 20, Element: "a.card"})
	apply(TypeEvent, EventData{Name: "template_preview", Category: "engagement"})
	apply(TypeFunnelEnter, FunnelData{Funnel: "main_purchase", Step: "checkout"})
	apply(TypeFunnelEnter, FunnelData{Funnel: "main_purchase", Step: "payment"})
	apply(TypeFunnelComplete, FunnelData{Funnel: "main_purchase", Step: "payment"})
	apply(TypeConversion, ConversionData{Type: "purchase", Value: 149, Email: "a@b.c", ItemIDs: []string{"tpl-1"}})
	apply(TypeFacebookPixel, PixelData{EventName: "PageView", EventID: "browser-1"})
	apply(TypeSessionEnd, nil)

	row, err := store.GetSession(ctx, f.db, id)
	require.NoError(t, err)
	require.Equal(t, int64(2), row.PageViews)
	require.True(t, row.HasConverted)
	require.NotNil(t, row.ConversionValue)
	require.Equal(t, 149.0, *row.ConversionValue)
	require.NotNil(t, row.EndedAt)
	require.Equal(t, "google", row.UTMSource)
	require.Equal(t, identity.DeviceDesktop, row.DeviceType)

	points, err := heatmap.New(f.db).Points(ctx, "/plantillas", "")
	require.NoError(t, err)
	require.Len(t, points, 1)

	steps, err := store.ListFunnelRecords(ctx, f.db, id, "main_purchase")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, funnel.ReasonSkipped, steps[0].ExitReason)
	require.True(t, steps[1].Completed)

	var pixels []model.PixelEvent
	require.NoError(t, f.db.Order("id ASC").Find(&pixels).Error)
	names := map[string]string{}
	for _, p := range pixels {
		names[p.EventName] = p.Source
	}
	require.Equal(t, pixel.SourceServer, names[pixel.EventInitiateCheckout])
	require.Equal(t, pixel.SourceServer, names[pixel.EventAddPaymentInfo])
	require.Equal(t, pixel.SourceServer, names[pixel.EventPurchase])
	require.Equal(t, pixel.SourceBrowser, names[pixel.EventPageView])

	today, ok, err := f.live.Today(ctx, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), today.Sessions)
	require.Equal(t, int64(2), today.PageViews)
	require.Equal(t, int64(1), today.Clicks)
	require.Equal(t, int64(1), today.Conversions)
	require.Equal(t, 149.0, today.Revenue)

	// The end signal is delivered twice by beacon retries; the second one is a no-op.
	again := f.tracker.Apply(ctx, signal(t, TypeSessionEnd, id, nil))
	require.True(t, again.Noop)
}

func TestTracker_RejectsMalformedSignals(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	res := f.tracker.Apply(ctx, Signal{Type: "teleport", SessionID: "s1"})
	require.True(t, res.Noop)
	require.ErrorIs(t, res.Err, ErrUnknownType)

	res = f.tracker.Apply(ctx, Signal{Type: TypePageView, SessionID: " "})
	require.True(t, res.Noop)
	require.ErrorIs(t, res.Err, identity.ErrInvalidSessionID)

	res = f.tracker.Apply(ctx, Signal{Type: TypeClick, SessionID: "s1", Data: json.RawMessage(`{"x":"left"}`)})
	require.True(t, res.Noop)

	res = f.tracker.Apply(ctx, signal(t, TypeFunnelEnter, "s1", FunnelData{Funnel: "unknown", Step: "x"}))
	require.True(t, res.Noop)
	require.ErrorIs(t, res.Err, funnel.ErrUnknownFunnel)
}

func TestSignal_At(t *testing.T) {
	t.Parallel()

	recv := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	s := Signal{Received: recv}
	require.Equal(t, recv, s.At())

	s.Timestamp = float64(1714564800000)
	require.Equal(t, time.UnixMilli(1714564800000).UTC(), s.At())

	s.Timestamp = "2025-05-01T10:00:00Z"
	require.Equal(t, time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC), s.At())
}
