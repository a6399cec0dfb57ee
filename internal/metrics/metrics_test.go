package metrics

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestConnect(t *testing.T) {
	t.Parallel()

	rdb, err := Connect(context.Background(), "", "", 0)
	if err != nil || rdb != nil {
		t.Fatalf("expected live metrics disabled for empty addr, got %v %v", rdb, err)
	}

	mr := miniredis.RunT(t)
	rdb, err = Connect(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	gone, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	addr := gone.Addr()
	gone.Close()
	if _, err := Connect(context.Background(), addr, "", 0); err == nil {
		t.Fatalf("expected error for unreachable redis")
	}
}

func TestRedisRecorder_Today_Distribution_Funnel(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rec := NewRedisRecorder(rdb)
	ctx := context.Background()

	day1 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)

	rec.ObserveSession(ctx, "s1", day2, map[string]string{"device": "mobile", "browser": "Safari"})
	rec.ObserveSession(ctx, "s2", day2, map[string]string{"device": "desktop", "country": ""})
	rec.ObserveSession(ctx, "s3", day1, map[string]string{"device": "mobile"})
	rec.ObservePageView(ctx, "/plantillas", day2)
	rec.ObservePageView(ctx, "/plantillas", day2)
	rec.ObserveClick(ctx, "/", day2)
	rec.ObserveConversion(ctx, "purchase", 89.5, day2)
	rec.ObserveConversion(ctx, "lead", 0, day2)
	rec.ObserveFunnelStep(ctx, "main_purchase", "landing", "entered", day2)
	rec.ObserveFunnelStep(ctx, "main_purchase", "landing", "abandoned", day2)
	rec.ObserveFunnelStep(ctx, "main_purchase", "landing", "entered", day2)

	today, ok, err := rec.Today(ctx, day2.Add(time.Hour))
	if err != nil || !ok {
		t.Fatalf("Today: ok=%v err=%v", ok, err)
	}
	if today.Sessions != 2 || today.Visitors != 2 || today.PageViews != 2 || today.Clicks != 1 {
		t.Fatalf("unexpected today counters: %+v", today)
	}
	if today.Conversions != 2 || today.Revenue != 89.5 {
		t.Fatalf("unexpected conversions: %+v", today)
	}

	items, err := rec.Distribution(ctx, "device", day2, day1, 10)
	if err != nil {
		t.Fatalf("Distribution: %v", err)
	}
	if len(items) != 2 || items[0].Key != "mobile" || items[0].Count != 2 {
		t.Fatalf("unexpected dist items: %+v", items)
	}

	clicks, err := rec.Distribution(ctx, "click", day2, day2, 10)
	if err != nil || len(clicks) != 1 || clicks[0].Key != "/" {
		t.Fatalf("unexpected click dist: %+v %v", clicks, err)
	}

	steps, err := rec.FunnelDay(ctx, "main_purchase", day2)
	if err != nil {
		t.Fatalf("FunnelDay: %v", err)
	}
	if steps["landing"]["entered"] != 2 || steps["landing"]["abandoned"] != 1 {
		t.Fatalf("unexpected funnel counts: %+v", steps)
	}

	for _, key := range []string{"metrics:sessions:2025-01-02", "metrics:visitors:2025-01-02", "dist:device:2025-01-02", "funnel:main_purchase:2025-01-02"} {
		if ttl := mr.TTL(key); ttl <= 0 {
			t.Fatalf("expected ttl on %s, got %v", key, ttl)
		}
	}
}

func TestRedisRecorder_NilSafe(t *testing.T) {
	t.Parallel()

	var rec *RedisRecorder
	ctx := context.Background()
	rec.ObserveSession(ctx, "s", time.Now(), nil)
	rec.ObserveFunnelStep(ctx, "f", "s", "entered", time.Now())
	if _, ok, err := rec.Today(ctx, time.Now()); ok || err != nil {
		t.Fatalf("expected disabled recorder, ok=%v err=%v", ok, err)
	}
}
