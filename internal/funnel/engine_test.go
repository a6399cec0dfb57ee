package funnel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xokuso/peluquerias-app-sub000/internal/events"
	"github.com/xokuso/peluquerias-app-sub000/internal/model"
	"github.com/xokuso/peluquerias-app-sub000/internal/obs"
	"github.com/xokuso/peluquerias-app-sub000/internal/outcome"
	"github.com/xokuso/peluquerias-app-sub000/internal/session"
	"github.com/xokuso/peluquerias-app-sub000/internal/store"
	"github.com/xokuso/peluquerias-app-sub000/internal/testkit"
	"go.uber.org/goleak"
	"gorm.io/gorm"
)

type clock struct{ ns atomic.Int64 }

func newClock(t time.Time) *clock {
	c := &clock{}
	c.ns.Store(t.UnixNano())
	return c
}

func (c *clock) Now() time.Time          { return time.Unix(0, c.ns.Load()).UTC() }
func (c *clock) Advance(d time.Duration) { c.ns.Add(int64(d)) }

type pixelCall struct {
	session string
	event   string
	custom  map[string]any
}

type fakePixel struct {
	mu    sync.Mutex
	calls []pixelCall
}

func (p *fakePixel) Emit(_ context.Context, sessionID, eventName string, custom map[string]any) outcome.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pixelCall{session: sessionID, event: eventName, custom: custom})
	return outcome.OK("pixel.emit")
}

func (p *fakePixel) Calls() []pixelCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pixelCall(nil), p.calls...)
}

func newEngine(t *testing.T, db *gorm.DB, catalog *Catalog, opts ...Option) *Engine {
	t.Helper()
	e := New(db, catalog, opts...)
	t.Cleanup(e.Stop)
	return e
}

func records(t *testing.T, db *gorm.DB, session, funnel string) []model.FunnelStepRecord {
	t.Helper()
	rows, err := store.ListFunnelRecords(context.Background(), db, session, funnel)
	require.NoError(t, err)
	return rows
}

func TestEngine_SkipAbandonsEarlierStep(t *testing.T) {
	t.Parallel()

	db := testkit.OpenTestDB(t)
	ctx := context.Background()
	clk := newClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	px := &fakePixel{}
	stats := obs.New()
	e := newEngine(t, db, nil, WithClock(clk.Now), WithPixel(px), WithStats(stats),
		WithEvents(events.NewRecorder(db, events.WithClock(clk.Now))))
	require.True(t, session.New(db, session.WithClock(clk.Now)).OpenOrTouch(ctx, "s1", session.Attributes{}).OK())

	require.True(t, e.EnterStep(ctx, "s1", "main_purchase", "checkout", map[string]any{"template": "barber-01"}).OK())
	clk.Advance(7 * time.Second)
	require.True(t, e.EnterStep(ctx, "s1", "main_purchase", "payment", nil).OK())

	rows := records(t, db, "s1", "main_purchase")
	require.Len(t, rows, 2)
	require.Equal(t, "checkout", rows[0].StepName)
	require.True(t, rows[0].IsExitPoint)
	require.False(t, rows[0].Completed)
	require.Equal(t, ReasonSkipped, rows[0].ExitReason)
	require.NotNil(t, rows[0].TimeSpent)
	require.Equal(t, int64(7), *rows[0].TimeSpent)
	require.Nil(t, rows[0].OpenKey)

	require.Equal(t, "payment", rows[1].StepName)
	require.False(t, rows[1].IsExitPoint)
	require.NotNil(t, rows[1].OpenKey)

	active := e.Active("s1")
	require.Len(t, active, 1)
	require.Equal(t, "payment", active[0].Step)

	calls := px.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "InitiateCheckout", calls[0].event)
	require.Equal(t, "barber-01", calls[0].custom["template"])
	require.Equal(t, "AddPaymentInfo", calls[1].event)

	evs, err := store.ListAnalyticsEvents(ctx, db, "s1", 0)
	require.NoError(t, err)
	names := map[string]int{}
	for _, ev := range evs {
		require.Equal(t, events.CategoryFunnel, ev.Category)
		names[ev.Name]++
	}
	require.Equal(t, 2, names[EventStepEntered])
	require.Equal(t, 1, names[EventStepAbandoned])

	snap := stats.Snapshot().Funnel
	require.Equal(t, int64(2), snap.Entered)
	require.Equal(t, int64(1), snap.Abandoned)
}

func TestEngine_CompleteRecordsTimeSpentOnce(t *testing.T) {
	t.Parallel()

	db := testkit.OpenTestDB(t)
	ctx := context.Background()
	clk := newClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	e := newEngine(t, db, nil, WithClock(clk.Now), WithEvents(events.NewRecorder(db)))
	require.True(t, session.New(db, session.WithClock(clk.Now)).OpenOrTouch(ctx, "s2", session.Attributes{}).OK())

	require.True(t, e.EnterStep(ctx, "s2", "contact", "form_view", nil).OK())
	clk.Advance(42 * time.Second)
	require.True(t, e.CompleteStep(ctx, "s2", "contact", "form_view", map[string]any{"source": "footer"}).OK())

	again := e.CompleteStep(ctx, "s2", "contact", "form_view", nil)
	require.True(t, again.Noop)
	require.ErrorIs(t, again.Err, ErrNotActive)

	rows := records(t, db, "s2", "contact")
	require.Len(t, rows, 1)
	require.True(t, rows[0].Completed)
	require.NotNil(t, rows[0].CompletedAt)
	require.NotNil(t, rows[0].TimeSpent)
	require.Equal(t, int64(42), *rows[0].TimeSpent)
	require.JSONEq(t, `{"source":"footer"}`, string(rows[0].Metadata))
	require.Empty(t, e.Active("s2"))

	evs, err := store.ListAnalyticsEvents(ctx, db, "s2", 0)
	require.NoError(t, err)
	var completed *model.AnalyticsEvent
	for i := range evs {
		if evs[i].Name == EventStepCompleted {
			completed = &evs[i]
		}
	}
	require.NotNil(t, completed)
	require.NotNil(t, completed.Value)
	require.Equal(t, 42.0, *completed.Value)
}

func TestEngine_CompletedStepIsNotAbandoned(t *testing.T) {
	t.Parallel()

	db := testkit.OpenTestDB(t)
	ctx := context.Background()
	e := newEngine(t, db, nil)

	require.True(t, e.EnterStep(ctx, "s3", "signup", "signup_start", nil).OK())
	require.True(t, e.CompleteStep(ctx, "s3", "signup", "signup_start", nil).OK())

	res := e.AbandonStep(ctx, "s3", "signup", "signup_start", "user_exit")
	require.True(t, res.Noop)

	rows := records(t, db, "s3", "signup")
	require.Len(t, rows, 1)
	require.True(t, rows[0].Completed)
	require.False(t, rows[0].IsExitPoint)
	require.Empty(t, rows[0].ExitReason)
}

func TestEngine_AbandonWithoutMemoryState(t *testing.T) {
	t.Parallel()

	db := testkit.OpenTestDB(t)
	ctx := context.Background()
	first := newEngine(t, db, nil)
	require.True(t, first.EnterStep(ctx, "s4", "promo_purchase", "plan_selection", nil).OK())

	// A second engine shares the store but not the in-memory state, as after a restart.
	second := newEngine(t, db, nil)
	require.True(t, second.AbandonStep(ctx, "s4", "promo_purchase", "plan_selection", "").OK())

	rows := records(t, db, "s4", "promo_purchase")
	require.Len(t, rows, 1)
	require.True(t, rows[0].IsExitPoint)
	require.Equal(t, ReasonUserExit, rows[0].ExitReason)
	require.Nil(t, rows[0].TimeSpent)
}

func TestEngine_UnknownFunnelOrStepIsNoop(t *testing.T) {
	t.Parallel()

	db := testkit.OpenTestDB(t)
	ctx := context.Background()
	stats := obs.New()
	e := newEngine(t, db, nil, WithStats(stats))

	res := e.EnterStep(ctx, "s5", "nope", "landing", nil)
	require.True(t, res.Noop)
	require.ErrorIs(t, res.Err, ErrUnknownFunnel)

	res = e.CompleteStep(ctx, "s5", "main_purchase", "nope", nil)
	require.True(t, res.Noop)
	require.ErrorIs(t, res.Err, ErrUnknownStep)

	res = e.EnterStep(ctx, "   ", "main_purchase", "landing", nil)
	require.True(t, res.Noop)

	require.Empty(t, records(t, db, "s5", ""))
	require.Equal(t, int64(3), stats.Snapshot().Tracking.Noops)
}

func TestEngine_TimeoutAbandonsStep(t *testing.T) {
	t.Parallel()

	db := testkit.OpenTestDB(t)
	ctx := context.Background()
	catalog, err := NewCatalog(Definition{
		Name: "quick",
		Steps: []Step{
			{Name: "start", Order: 1},
			{Name: "wait", Order: 2, Timeout: 60 * time.Millisecond},
		},
	})
	require.NoError(t, err)
	stats := obs.New()
	e := newEngine(t, db, catalog, WithTick(5*time.Millisecond), WithStats(stats))

	entered := time.Now()
	require.True(t, e.EnterStep(ctx, "s6", "quick", "wait", nil).OK())

	require.Eventually(t, func() bool {
		rows := records(t, db, "s6", "quick")
		return len(rows) == 1 && rows[0].IsExitPoint
	}, 2*time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(t, time.Since(entered), 60*time.Millisecond)

	rows := records(t, db, "s6", "quick")
	require.Equal(t, ReasonTimeout, rows[0].ExitReason)
	require.Empty(t, e.Active("s6"))
	require.Equal(t, int64(1), stats.Snapshot().Funnel.Timeouts)

	// Completing after the timeout is a handled no-op.
	require.True(t, e.CompleteStep(ctx, "s6", "quick", "wait", nil).Noop)
}

func TestEngine_ReentryRestartsTimeout(t *testing.T) {
	t.Parallel()

	db := testkit.OpenTestDB(t)
	ctx := context.Background()
	catalog, err := NewCatalog(Definition{
		Name:  "quick",
		Steps: []Step{{Name: "wait", Order: 1, Timeout: 150 * time.Millisecond}},
	})
	require.NoError(t, err)
	e := newEngine(t, db, catalog, WithTick(5*time.Millisecond))

	require.True(t, e.EnterStep(ctx, "s7", "quick", "wait", nil).OK())
	time.Sleep(100 * time.Millisecond)
	reentered := time.Now()
	require.True(t, e.EnterStep(ctx, "s7", "quick", "wait", nil).OK())

	// The first visit's deadline passes without closing the restarted visit.
	time.Sleep(80 * time.Millisecond)
	if time.Since(reentered) < 150*time.Millisecond {
		require.Len(t, e.Active("s7"), 1)
	}

	require.Eventually(t, func() bool { return len(e.Active("s7")) == 0 }, 2*time.Second, 10*time.Millisecond)
	rows := records(t, db, "s7", "quick")
	require.Len(t, rows, 1)
	require.True(t, rows[0].IsExitPoint)
}

func TestEngine_ConcurrentEnterKeepsOneOpenVisit(t *testing.T) {
	t.Parallel()

	db := testkit.OpenTestDB(t)
	ctx := context.Background()
	e := newEngine(t, db, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.EnterStep(ctx, "s8", "main_purchase", "landing", nil)
		}()
	}
	wg.Wait()

	rows := records(t, db, "s8", "main_purchase")
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].OpenKey)
	require.Len(t, e.Active("s8"), 1)
}

func TestEngine_EndSessionAbandonsActiveSteps(t *testing.T) {
	t.Parallel()

	db := testkit.OpenTestDB(t)
	ctx := context.Background()
	e := newEngine(t, db, nil)

	require.True(t, e.EnterStep(ctx, "s9", "contact", "form_view", nil).OK())
	require.True(t, e.EnterStep(ctx, "s9", "signup", "signup_start", nil).OK())
	require.Equal(t, 2, e.EndSession(ctx, "s9"))
	require.Empty(t, e.Active("s9"))

	for _, r := range records(t, db, "s9", "") {
		require.True(t, r.IsExitPoint)
		require.Equal(t, ReasonSessionEnded, r.ExitReason)
	}
}

func TestEngine_StopReleasesWatchdog(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := New(nil, nil, WithTick(time.Millisecond))
	e.Stop()
	e.Stop()
}

func TestEngine_CompleteBeforeTimeoutCancelsIt(t *testing.T) {
	t.Parallel()

	db := testkit.OpenTestDB(t)
	ctx := context.Background()
	catalog, err := NewCatalog(Definition{
		Name:  "quick",
		Steps: []Step{{Name: "wait", Order: 1, Timeout: 60 * time.Millisecond}},
	})
	require.NoError(t, err)
	stats := obs.New()
	e := newEngine(t, db, catalog, WithTick(5*time.Millisecond), WithStats(stats))

	require.True(t, e.EnterStep(ctx, "s8", "quick", "wait", nil).OK())
	time.Sleep(20 * time.Millisecond)
	require.True(t, e.CompleteStep(ctx, "s8", "quick", "wait", nil).OK())

	// Well past the deadline the watchdog has had every chance to fire.
	time.Sleep(150 * time.Millisecond)

	rows := records(t, db, "s8", "quick")
	require.Len(t, rows, 1)
	require.True(t, rows[0].Completed)
	require.False(t, rows[0].IsExitPoint)
	require.Empty(t, rows[0].ExitReason)
	require.Empty(t, e.Active("s8"))
	snap := stats.Snapshot().Funnel
	require.Zero(t, snap.Timeouts)
	require.Zero(t, snap.Abandoned)
}
