package obs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type nsqTopicStats struct {
	TopicName string `json:"topic_name"`
	Depth     int64  `json:"depth"`
	Channels  []struct {
		ChannelName   string `json:"channel_name"`
		Depth         int64  `json:"depth"`
		InFlightCount int64  `json:"in_flight_count"`
		DeferredCount int64  `json:"deferred_count"`
	} `json:"channels"`
}

// nsqStatsResponse covers both the current flat /stats body and the older one
// wrapped in {"status_code","data"}.
type nsqStatsResponse struct {
	Topics []nsqTopicStats `json:"topics"`
	Data   *struct {
		Topics []nsqTopicStats `json:"topics"`
	} `json:"data"`
}

// NSQDepthPoller reads the backlog of one topic from nsqd's HTTP API.
type NSQDepthPoller struct {
	url    string
	topic  string
	client *http.Client
	logger *zap.Logger
}

// NewNSQDepthPoller returns nil when httpAddr is empty.
func NewNSQDepthPoller(httpAddr, topic string, logger *zap.Logger) *NSQDepthPoller {
	addr := strings.TrimSpace(httpAddr)
	if addr == "" {
		return nil
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NSQDepthPoller{
		url:    strings.TrimRight(addr, "/") + "/stats?format=json&topic=" + topic,
		topic:  topic,
		client: &http.Client{Timeout: 2 * time.Second},
		logger: logger.Named("nsq.depth"),
	}
}

// Backlog is the topic's own depth plus, per channel, queued, in-flight and
// deferred messages. An unknown topic has no backlog.
func (p *NSQDepthPoller) Backlog(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return 0, err
	}
	res, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return 0, fmt.Errorf("nsqd stats: status %d", res.StatusCode)
	}

	var body nsqStatsResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("nsqd stats: %w", err)
	}
	topics := body.Topics
	if body.Data != nil {
		topics = body.Data.Topics
	}

	var backlog int64
	for _, t := range topics {
		if t.TopicName != p.topic {
			continue
		}
		backlog += t.Depth
		for _, ch := range t.Channels {
			backlog += ch.Depth + ch.InFlightCount + ch.DeferredCount
		}
	}
	return backlog, nil
}

// Run records the backlog in stats every interval until ctx is done. A failing
// nsqd is logged once per outage.
func (p *NSQDepthPoller) Run(ctx context.Context, stats *Stats, interval time.Duration) {
	if p == nil || stats == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failing := false
	for {
		n, err := p.Backlog(ctx)
		switch {
		case err == nil:
			stats.SetNSQDepth(n)
			if failing {
				p.logger.Info("nsqd stats recovered")
			}
			failing = false
		case ctx.Err() == nil && !failing:
			p.logger.Warn("nsqd stats unavailable", zap.Error(err))
			failing = true
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
