package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xokuso/peluquerias-app-sub000/internal/consumer"
	"github.com/xokuso/peluquerias-app-sub000/internal/funnel"
	"github.com/xokuso/peluquerias-app-sub000/internal/obs"
	"github.com/xokuso/peluquerias-app-sub000/internal/pixel"
	"github.com/xokuso/peluquerias-app-sub000/internal/queue"
	"github.com/xokuso/peluquerias-app-sub000/internal/testkit"
	"github.com/xokuso/peluquerias-app-sub000/internal/track"
)

type sentEvents struct {
	mu     sync.Mutex
	events []pixel.ServerEvent
}

func (s *sentEvents) Init(context.Context) error { return nil }

func (s *sentEvents) Send(_ context.Context, batch []pixel.ServerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *sentEvents) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestPipelineStop_SendsPixelEventsOfQueuedSignals(t *testing.T) {
	db := testkit.OpenTestDB(t)
	transport := &sentEvents{}
	dispatcher := pixel.New(transport,
		pixel.WithEnabled(true),
		pixel.WithRate(0),
		pixel.WithFlushInterval(time.Hour),
	)
	stopPixel := runDispatcher(dispatcher)
	require.Eventually(t, dispatcher.Ready, time.Second, 5*time.Millisecond)

	engine := funnel.New(db, nil, funnel.WithPixel(dispatcher))
	handler := consumer.NewSignalHandler(track.New(track.Components{Funnels: engine, Pixel: dispatcher}), obs.New(), nil)

	local := queue.NewLocalPublisher(2, nil)
	local.Handle(queue.TopicSignals, func(ctx context.Context, body []byte) error {
		// Signals still in the queue when shutdown begins.
		time.Sleep(20 * time.Millisecond)
		return handler.Handle(ctx, body)
	})

	const sessions = 6
	for i := 0; i < sessions; i++ {
		data, err := json.Marshal(track.FunnelData{Funnel: "main_purchase", Step: "template_selection"})
		require.NoError(t, err)
		body, err := json.Marshal(track.Signal{Type: track.TypeFunnelEnter, SessionID: fmt.Sprintf("s_stop_%d", i), Data: data})
		require.NoError(t, err)
		require.NoError(t, local.Publish(queue.TopicSignals, body))
	}

	pipeline{local: local, engine: engine, stopPixel: stopPixel}.stop()

	require.Equal(t, sessions, transport.count())
	require.Zero(t, dispatcher.Pending())
}
