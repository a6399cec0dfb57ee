package metrics

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRecorder keeps live per-day counters next to the relational store. It is
// write-mostly and lossy: every Observe call ignores redis errors.
type RedisRecorder struct {
	rdb     *redis.Client
	dayTTL  time.Duration
	distTTL time.Duration
}

type RecorderOption func(*RedisRecorder)

func WithTTLs(dayTTL, distTTL time.Duration) RecorderOption {
	return func(r *RedisRecorder) {
		if dayTTL > 0 {
			r.dayTTL = dayTTL
		}
		if distTTL > 0 {
			r.distTTL = distTTL
		}
	}
}

func NewRedisRecorder(rdb *redis.Client, opts ...RecorderOption) *RedisRecorder {
	r := &RedisRecorder{
		rdb:     rdb,
		dayTTL:  180 * 24 * time.Hour,
		distTTL: 90 * 24 * time.Hour,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func day(ts time.Time) string { return ts.UTC().Format("2006-01-02") }

// counterWrite queues counter updates and their TTLs into one pipeline.
type counterWrite struct {
	pipe redis.Pipeliner
	ttl  map[string]time.Duration
}

func (r *RedisRecorder) begin() *counterWrite {
	return &counterWrite{pipe: r.rdb.Pipeline(), ttl: map[string]time.Duration{}}
}

func (w *counterWrite) incr(ctx context.Context, key string, ttl time.Duration) {
	w.pipe.Incr(ctx, key)
	w.ttl[key] = ttl
}

func (w *counterWrite) incrFloat(ctx context.Context, key string, v float64, ttl time.Duration) {
	w.pipe.IncrByFloat(ctx, key, v)
	w.ttl[key] = ttl
}

func (w *counterWrite) hincr(ctx context.Context, key, field string, ttl time.Duration) {
	if field = strings.TrimSpace(field); field == "" {
		return
	}
	w.pipe.HIncrBy(ctx, key, field, 1)
	w.ttl[key] = ttl
}

func (w *counterWrite) pfadd(ctx context.Context, key, member string, ttl time.Duration) {
	if member = strings.TrimSpace(member); member == "" {
		return
	}
	w.pipe.PFAdd(ctx, key, member)
	w.ttl[key] = ttl
}

// exec sends the updates and refreshes every touched key's TTL. Errors are
// dropped: live counters are lossy.
func (w *counterWrite) exec(ctx context.Context) {
	for k, ttl := range w.ttl {
		w.pipe.Expire(ctx, k, ttl)
	}
	_, _ = w.pipe.Exec(ctx)
}

// ObserveSession counts a session start, its unique visitor and the device/geo
// distribution.
func (r *RedisRecorder) ObserveSession(ctx context.Context, sessionID string, ts time.Time, dims map[string]string) {
	if r == nil || r.rdb == nil {
		return
	}
	date := day(ts)
	w := r.begin()
	w.incr(ctx, "metrics:sessions:"+date, r.dayTTL)
	w.pfadd(ctx, "metrics:visitors:"+date, sessionID, r.dayTTL)
	for dim, key := range dims {
		w.hincr(ctx, fmt.Sprintf("dist:%s:%s", dim, date), key, r.distTTL)
	}
	w.exec(ctx)
}

func (r *RedisRecorder) ObservePageView(ctx context.Context, path string, ts time.Time) {
	if r == nil || r.rdb == nil {
		return
	}
	date := day(ts)
	w := r.begin()
	w.incr(ctx, "metrics:pageviews:"+date, r.dayTTL)
	w.hincr(ctx, "dist:page:"+date, path, r.distTTL)
	w.exec(ctx)
}

func (r *RedisRecorder) ObserveClick(ctx context.Context, page string, ts time.Time) {
	if r == nil || r.rdb == nil {
		return
	}
	date := day(ts)
	w := r.begin()
	w.incr(ctx, "metrics:clicks:"+date, r.dayTTL)
	w.hincr(ctx, "dist:click:"+date, page, r.distTTL)
	w.exec(ctx)
}

func (r *RedisRecorder) ObserveConversion(ctx context.Context, conversionType string, value float64, ts time.Time) {
	if r == nil || r.rdb == nil {
		return
	}
	date := day(ts)
	w := r.begin()
	w.incr(ctx, "metrics:conversions:"+date, r.dayTTL)
	if value > 0 {
		w.incrFloat(ctx, "metrics:revenue:"+date, value, r.dayTTL)
	}
	w.hincr(ctx, "dist:conversion:"+date, conversionType, r.distTTL)
	w.exec(ctx)
}

// ObserveFunnelStep counts a step transition (entered, completed, abandoned) for
// the day the transition happened.
func (r *RedisRecorder) ObserveFunnelStep(ctx context.Context, funnel, step, state string, ts time.Time) {
	if r == nil || r.rdb == nil {
		return
	}
	w := r.begin()
	w.hincr(ctx, fmt.Sprintf("funnel:%s:%s", funnel, day(ts)), step+":"+state, r.dayTTL)
	w.exec(ctx)
}

type Today struct {
	Day         string  `json:"day"`
	Sessions    int64   `json:"sessions"`
	Visitors    int64   `json:"visitors"`
	PageViews   int64   `json:"page_views"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

func (r *RedisRecorder) Today(ctx context.Context, now time.Time) (Today, bool, error) {
	if r == nil || r.rdb == nil {
		return Today{}, false, nil
	}
	date := day(now)
	pipe := r.rdb.Pipeline()
	sessionsCmd := pipe.Get(ctx, "metrics:sessions:"+date)
	visitorsCmd := pipe.PFCount(ctx, "metrics:visitors:"+date)
	pvCmd := pipe.Get(ctx, "metrics:pageviews:"+date)
	clicksCmd := pipe.Get(ctx, "metrics:clicks:"+date)
	convCmd := pipe.Get(ctx, "metrics:conversions:"+date)
	revCmd := pipe.Get(ctx, "metrics:revenue:"+date)
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return Today{}, true, err
	}
	out := Today{Day: date}
	out.Sessions, _ = sessionsCmd.Int64()
	out.Visitors, _ = visitorsCmd.Result()
	out.PageViews, _ = pvCmd.Int64()
	out.Clicks, _ = clicksCmd.Int64()
	out.Conversions, _ = convCmd.Int64()
	out.Revenue, _ = revCmd.Float64()
	return out, true, nil
}

type DistItem struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Distribution sums a dimension (device, browser, os, country, page, click, conversion)
// over the inclusive day range and returns the top entries.
func (r *RedisRecorder) Distribution(ctx context.Context, dim string, start, end time.Time, limit int) ([]DistItem, error) {
	if r == nil || r.rdb == nil {
		return nil, nil
	}
	dim = strings.TrimSpace(dim)
	if dim == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	start = start.UTC()
	end = end.UTC()
	if end.Before(start) {
		start, end = end, start
	}

	acc := map[string]int64{}
	cur := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	for !cur.After(last) {
		m, err := r.rdb.HGetAll(ctx, fmt.Sprintf("dist:%s:%s", dim, day(cur))).Result()
		if err != nil && err != redis.Nil {
			return nil, err
		}
		for k, v := range m {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				continue
			}
			acc[k] += n
		}
		cur = cur.AddDate(0, 0, 1)
	}

	items := make([]DistItem, 0, len(acc))
	for k, v := range acc {
		items = append(items, DistItem{Key: k, Count: v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count == items[j].Count {
			return items[i].Key < items[j].Key
		}
		return items[i].Count > items[j].Count
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// FunnelDay returns step -> state -> count for one funnel and day.
func (r *RedisRecorder) FunnelDay(ctx context.Context, funnel string, ts time.Time) (map[string]map[string]int64, error) {
	if r == nil || r.rdb == nil {
		return nil, nil
	}
	m, err := r.rdb.HGetAll(ctx, fmt.Sprintf("funnel:%s:%s", funnel, day(ts))).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := map[string]map[string]int64{}
	for field, v := range m {
		i := strings.LastIndexByte(field, ':')
		if i <= 0 {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		step, state := field[:i], field[i+1:]
		if out[step] == nil {
			out[step] = map[string]int64{}
		}
		out[step][state] += n
	}
	return out, nil
}
