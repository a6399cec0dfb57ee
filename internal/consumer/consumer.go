package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/xokuso/peluquerias-app-sub000/internal/config"
	"github.com/xokuso/peluquerias-app-sub000/internal/obs"
	"github.com/xokuso/peluquerias-app-sub000/internal/queue"
	"github.com/xokuso/peluquerias-app-sub000/internal/track"
	"go.uber.org/zap"
)

// SignalHandler decodes queued signals and applies them. Tracking is best-effort,
// so a message is never requeued: redelivery would double-count page views.
type SignalHandler struct {
	tracker *track.Tracker
	stats   *obs.Stats
	logger  *zap.Logger
}

func NewSignalHandler(tracker *track.Tracker, stats *obs.Stats, logger *zap.Logger) *SignalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignalHandler{tracker: tracker, stats: stats, logger: logger.Named("consumer")}
}

// Handle is a queue.Handler. A message carries one signal or an ordered array of
// them; they are applied one after another so a session's steps keep their order.
func (h *SignalHandler) Handle(ctx context.Context, body []byte) error {
	start := time.Now()
	sigs, err := track.DecodeSignals(body)
	if err != nil {
		h.logger.Warn("dropping undecodable signal", zap.Int("bytes", len(body)), zap.Error(err))
		h.stats.ObserveConsumerMessage(time.Since(start), nil)
		return nil
	}
	var failed error
	for _, sig := range sigs {
		if res := h.tracker.Apply(ctx, sig); res.Failed() && failed == nil {
			failed = res.Err
		}
	}
	h.stats.ObserveConsumerMessage(time.Since(start), failed)
	return nil
}

// SessionKey returns the session a message belongs to, read from its first signal.
// Undecodable bodies get "" and are spread across lanes.
func SessionKey(body []byte) string {
	body = bytes.TrimSpace(body)
	var head struct {
		SessionID string `json:"session_id"`
	}
	if len(body) > 0 && body[0] == '[' {
		var all []json.RawMessage
		if json.Unmarshal(body, &all) != nil || len(all) == 0 {
			return ""
		}
		body = all[0]
	}
	if json.Unmarshal(body, &head) != nil {
		return ""
	}
	return head.SessionID
}

// NSQConsumer reads the signals topic from one nsqd. A single nsq handler hands
// messages to lanes keyed by session, so messages of one session are applied in
// the order nsqd delivered them.
type NSQConsumer struct {
	consumer *nsq.Consumer
	lanes    *queue.Lanes
}

func NewNSQSignalConsumer(ctx context.Context, cfg config.Config, h *SignalHandler, logger *zap.Logger) (*NSQConsumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nsq.consumer")
	channel := cfg.NSQSignalChannel
	if channel == "" {
		channel = "signal-consumer"
	}

	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = 200
	if cfg.NSQMaxInFlight > 0 {
		nsqCfg.MaxInFlight = cfg.NSQMaxInFlight
	}
	nsqCfg.MsgTimeout = 30 * time.Second
	// Handle never fails a message, so attempts stay at one
	nsqCfg.MaxAttempts = 1

	cons, err := nsq.NewConsumer(queue.TopicSignals, channel, nsqCfg)
	if err != nil {
		return nil, err
	}
	cons.SetLogger(zap.NewStdLog(logger), nsq.LogLevelWarning)
	lanes := queue.NewLanes(max(cfg.NSQConcurrency, 1), nsqCfg.MaxInFlight)
	cons.AddHandler(laneHandler(ctx, lanes, h, nsqCfg.MsgTimeout))

	if err := connectToNSQDWithRetry(ctx, cons, cfg.NSQDAddress, queue.TopicSignals, channel, logger); err != nil {
		cons.Stop()
		<-cons.StopChan
		lanes.Close()
		return nil, err
	}
	return &NSQConsumer{consumer: cons, lanes: lanes}, nil
}

// laneHandler finishes each message only after its lane has applied it.
func laneHandler(ctx context.Context, lanes *queue.Lanes, h *SignalHandler, timeout time.Duration) nsq.HandlerFunc {
	return func(m *nsq.Message) error {
		m.DisableAutoResponse()
		lanes.Submit(SessionKey(m.Body), func() {
			msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
			defer cancel()
			_ = h.Handle(msgCtx, m.Body)
			m.Finish()
		})
		return nil
	}
}

// Stop waits for in-flight messages to finish.
func (c *NSQConsumer) Stop() {
	if c == nil || c.consumer == nil {
		return
	}
	c.consumer.Stop()
	<-c.consumer.StopChan
	c.lanes.Close()
}

func connectToNSQDWithRetry(ctx context.Context, cons *nsq.Consumer, addr, topic, channel string, logger *zap.Logger) error {
	const (
		totalWait = 2 * time.Minute
		maxDelay  = 5 * time.Second
	)
	deadline := time.Now().Add(totalWait)
	delay := 300 * time.Millisecond
	var lastErr error

	for {
		err := cons.ConnectToNSQD(addr)
		if err == nil {
			return nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			return fmt.Errorf("connect nsqd addr=%s topic=%s channel=%s: %w", addr, topic, channel, lastErr)
		}
		logger.Warn("nsq connect failed, retrying",
			zap.String("addr", addr),
			zap.String("topic", topic),
			zap.String("channel", channel),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
