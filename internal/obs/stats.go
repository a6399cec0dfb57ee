package obs

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// Stats holds process-local counters. All methods are nil-safe so components can be
// constructed without observability in tests.
type Stats struct {
	start time.Time

	httpRequests     atomic.Int64
	httpErrors       atomic.Int64
	httpRateLimited  atomic.Int64
	httpLatencyUS    atomic.Int64
	httpLatencyCount atomic.Int64

	publishTotal  atomic.Int64
	publishErrors atomic.Int64
	publishBytes  atomic.Int64
	nsqDepth      atomic.Int64

	consumerMessages     atomic.Int64
	consumerErrors       atomic.Int64
	consumerLatencyUS    atomic.Int64
	consumerLatencyCount atomic.Int64

	dbFlushTotal        atomic.Int64
	dbFlushErrors       atomic.Int64
	dbFlushLatencyUS    atomic.Int64
	dbFlushLatencyCount atomic.Int64
	dbFlushRows         atomic.Int64

	upsertRetries  atomic.Int64
	upsertFailures atomic.Int64
	trackFailures  atomic.Int64
	trackNoops     atomic.Int64

	funnelEntered   atomic.Int64
	funnelCompleted atomic.Int64
	funnelAbandoned atomic.Int64
	funnelTimeouts  atomic.Int64

	pixelQueued  atomic.Int64
	pixelSent    atomic.Int64
	pixelFailed  atomic.Int64
	pixelDropped atomic.Int64

	cleanupClosedSessions atomic.Int64
	cleanupDeletedRows    atomic.Int64
}

func New() *Stats {
	return &Stats{start: time.Now()}
}

func (s *Stats) ObserveHTTP(status int, dur time.Duration) {
	if s == nil {
		return
	}
	s.httpRequests.Add(1)
	if status >= 500 {
		s.httpErrors.Add(1)
	}
	if status == 429 {
		s.httpRateLimited.Add(1)
	}
	s.httpLatencyUS.Add(dur.Microseconds())
	s.httpLatencyCount.Add(1)
}

func (s *Stats) ObservePublish(bytes int, err error) {
	if s == nil {
		return
	}
	s.publishTotal.Add(1)
	s.publishBytes.Add(int64(bytes))
	if err != nil {
		s.publishErrors.Add(1)
	}
}

func (s *Stats) SetNSQDepth(depth int64) {
	if s == nil {
		return
	}
	s.nsqDepth.Store(depth)
}

func (s *Stats) ObserveConsumerMessage(dur time.Duration, err error) {
	if s == nil {
		return
	}
	s.consumerMessages.Add(1)
	if err != nil {
		s.consumerErrors.Add(1)
	}
	s.consumerLatencyUS.Add(dur.Microseconds())
	s.consumerLatencyCount.Add(1)
}

func (s *Stats) ObserveDBFlush(rows int, dur time.Duration, err error) {
	if s == nil {
		return
	}
	s.dbFlushTotal.Add(1)
	s.dbFlushRows.Add(int64(rows))
	if err != nil {
		s.dbFlushErrors.Add(1)
	}
	s.dbFlushLatencyUS.Add(dur.Microseconds())
	s.dbFlushLatencyCount.Add(1)
}

// ObserveUpsert records the outcome of an atomic counter upsert. A failure means an
// increment was lost after all retries.
func (s *Stats) ObserveUpsert(retries int, err error) {
	if s == nil {
		return
	}
	if retries > 0 {
		s.upsertRetries.Add(int64(retries))
	}
	if err != nil {
		s.upsertFailures.Add(1)
	}
}

// ObserveTrack counts best-effort tracking calls that failed or resolved as no-ops.
func (s *Stats) ObserveTrack(err error, noop bool) {
	if s == nil {
		return
	}
	if err != nil && !noop {
		s.trackFailures.Add(1)
	}
	if noop {
		s.trackNoops.Add(1)
	}
}

func (s *Stats) ObserveFunnel(transition string) {
	if s == nil {
		return
	}
	switch transition {
	case "enter":
		s.funnelEntered.Add(1)
	case "complete":
		s.funnelCompleted.Add(1)
	case "abandon":
		s.funnelAbandoned.Add(1)
	case "timeout":
		s.funnelAbandoned.Add(1)
		s.funnelTimeouts.Add(1)
	}
}

func (s *Stats) ObservePixel(queued, sent, failed, dropped int) {
	if s == nil {
		return
	}
	s.pixelQueued.Add(int64(queued))
	s.pixelSent.Add(int64(sent))
	s.pixelFailed.Add(int64(failed))
	s.pixelDropped.Add(int64(dropped))
}

func (s *Stats) ObserveCleanup(closedSessions, deletedRows int64) {
	if s == nil {
		return
	}
	if closedSessions > 0 {
		s.cleanupClosedSessions.Add(closedSessions)
	}
	if deletedRows > 0 {
		s.cleanupDeletedRows.Add(deletedRows)
	}
}

type Snapshot struct {
	UptimeSeconds int64 `json:"uptime_seconds"`

	HTTP struct {
		Requests    int64   `json:"requests"`
		Errors      int64   `json:"errors"`
		RateLimited int64   `json:"rate_limited"`
		AvgMS       float64 `json:"avg_ms"`
	} `json:"http"`

	Queue struct {
		PublishTotal  int64 `json:"publish_total"`
		PublishErrors int64 `json:"publish_errors"`
		PublishBytes  int64 `json:"publish_bytes"`
		NSQDepth      int64 `json:"nsq_depth"`
	} `json:"queue"`

	Consumer struct {
		Messages int64   `json:"messages"`
		Errors   int64   `json:"errors"`
		AvgMS    float64 `json:"avg_ms"`
	} `json:"consumer"`

	DBFlush struct {
		Flushes int64   `json:"flushes"`
		Errors  int64   `json:"errors"`
		Rows    int64   `json:"rows"`
		AvgMS   float64 `json:"avg_ms"`
	} `json:"db_flush"`

	Tracking struct {
		UpsertRetries  int64 `json:"upsert_retries"`
		UpsertFailures int64 `json:"upsert_failures"`
		Failures       int64 `json:"failures"`
		Noops          int64 `json:"noops"`
	} `json:"tracking"`

	Funnel struct {
		Entered   int64 `json:"entered"`
		Completed int64 `json:"completed"`
		Abandoned int64 `json:"abandoned"`
		Timeouts  int64 `json:"timeouts"`
	} `json:"funnel"`

	Pixel struct {
		Queued  int64 `json:"queued"`
		Sent    int64 `json:"sent"`
		Failed  int64 `json:"failed"`
		Dropped int64 `json:"dropped"`
	} `json:"pixel"`

	Cleanup struct {
		ClosedSessions int64 `json:"closed_sessions"`
		DeletedRows    int64 `json:"deleted_rows"`
	} `json:"cleanup"`
}

func (s *Stats) Snapshot() Snapshot {
	var snap Snapshot
	if s == nil {
		return snap
	}
	snap.UptimeSeconds = int64(time.Since(s.start).Seconds())

	snap.HTTP.Requests = s.httpRequests.Load()
	snap.HTTP.Errors = s.httpErrors.Load()
	snap.HTTP.RateLimited = s.httpRateLimited.Load()
	snap.HTTP.AvgMS = avgMS(s.httpLatencyUS.Load(), s.httpLatencyCount.Load())

	snap.Queue.PublishTotal = s.publishTotal.Load()
	snap.Queue.PublishErrors = s.publishErrors.Load()
	snap.Queue.PublishBytes = s.publishBytes.Load()
	snap.Queue.NSQDepth = s.nsqDepth.Load()

	snap.Consumer.Messages = s.consumerMessages.Load()
	snap.Consumer.Errors = s.consumerErrors.Load()
	snap.Consumer.AvgMS = avgMS(s.consumerLatencyUS.Load(), s.consumerLatencyCount.Load())

	snap.DBFlush.Flushes = s.dbFlushTotal.Load()
	snap.DBFlush.Errors = s.dbFlushErrors.Load()
	snap.DBFlush.Rows = s.dbFlushRows.Load()
	snap.DBFlush.AvgMS = avgMS(s.dbFlushLatencyUS.Load(), s.dbFlushLatencyCount.Load())

	snap.Tracking.UpsertRetries = s.upsertRetries.Load()
	snap.Tracking.UpsertFailures = s.upsertFailures.Load()
	snap.Tracking.Failures = s.trackFailures.Load()
	snap.Tracking.Noops = s.trackNoops.Load()

	snap.Funnel.Entered = s.funnelEntered.Load()
	snap.Funnel.Completed = s.funnelCompleted.Load()
	snap.Funnel.Abandoned = s.funnelAbandoned.Load()
	snap.Funnel.Timeouts = s.funnelTimeouts.Load()

	snap.Pixel.Queued = s.pixelQueued.Load()
	snap.Pixel.Sent = s.pixelSent.Load()
	snap.Pixel.Failed = s.pixelFailed.Load()
	snap.Pixel.Dropped = s.pixelDropped.Load()

	snap.Cleanup.ClosedSessions = s.cleanupClosedSessions.Load()
	snap.Cleanup.DeletedRows = s.cleanupDeletedRows.Load()
	return snap
}

func avgMS(totalUS, n int64) float64 {
	if n <= 0 {
		return 0
	}
	return float64(totalUS) / float64(n) / 1000.0
}

func (s *Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}
