package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("publisher closed")

const localLaneDepth = 256

// LocalPublisher delivers messages to in-process handlers. It stands in for nsqd in
// single-node deployments: messages published with the same key are handled one at
// a time in publish order, and handler errors are logged, not returned.
type LocalPublisher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	closed   bool

	lanes   *Lanes
	logger  *zap.Logger
	timeout time.Duration
}

func NewLocalPublisher(workers int, logger *zap.Logger) *LocalPublisher {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalPublisher{
		handlers: make(map[string]Handler),
		lanes:    NewLanes(workers, localLaneDepth),
		logger:   logger.Named("local-queue"),
		timeout:  30 * time.Second,
	}
}

// Handle registers h for topic, replacing any previous handler.
func (p *LocalPublisher) Handle(topic string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[topic] = h
}

// Publish delivers body with no ordering guarantee relative to other messages.
func (p *LocalPublisher) Publish(topic string, body []byte) error {
	return p.PublishKeyed(topic, "", body)
}

func (p *LocalPublisher) PublishKeyed(topic, key string, body []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	h, ok := p.handlers[topic]
	if !ok {
		return fmt.Errorf("no handler for topic %q", topic)
	}
	msg := append([]byte(nil), body...)
	p.lanes.Submit(key, func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := h(ctx, msg); err != nil {
			p.logger.Warn("local handler failed", zap.String("topic", topic), zap.String("key", key), zap.Error(err))
		}
	})
	return nil
}

func (p *LocalPublisher) MultiPublish(topic string, bodies [][]byte) error {
	for _, b := range bodies {
		if err := p.Publish(topic, b); err != nil {
			return err
		}
	}
	return nil
}

// Close rejects new messages and waits for queued ones to be handled.
func (p *LocalPublisher) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.lanes.Close()
}
