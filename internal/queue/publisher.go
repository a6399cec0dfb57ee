// Package queue moves accepted signals from the ingestion endpoint to the
// consumers that apply them, either through nsqd or in process.
package queue

import (
	"context"
	"errors"
)

// TopicSignals carries every client signal accepted by the ingestion endpoint.
const TopicSignals = "signals"

var ErrNoPublisher = errors.New("queue: no publisher")

type Publisher interface {
	Publish(topic string, body []byte) error
}

// BatchPublisher is implemented by publishers that can ship several messages in one
// round trip.
type BatchPublisher interface {
	Publisher
	MultiPublish(topic string, bodies [][]byte) error
}

// Handler applies one message body.
type Handler func(ctx context.Context, body []byte) error

// KeyedPublisher is implemented by publishers that keep messages sharing a key in
// publish order.
type KeyedPublisher interface {
	Publisher
	PublishKeyed(topic, key string, body []byte) error
}

// Message is one body and the key that orders it against its siblings.
type Message struct {
	Key  string
	Body []byte
}

// PublishAll sends msgs in order and stops at the first failure. Keyed publishers
// receive each key; otherwise the bodies are batched when p supports it.
func PublishAll(p Publisher, topic string, msgs []Message) error {
	if p == nil {
		return ErrNoPublisher
	}
	if len(msgs) == 0 {
		return nil
	}
	if kp, ok := p.(KeyedPublisher); ok {
		for _, m := range msgs {
			if err := kp.PublishKeyed(topic, m.Key, m.Body); err != nil {
				return err
			}
		}
		return nil
	}
	if bp, ok := p.(BatchPublisher); ok && len(msgs) > 1 {
		bodies := make([][]byte, len(msgs))
		for i, m := range msgs {
			bodies[i] = m.Body
		}
		return bp.MultiPublish(topic, bodies)
	}
	for _, m := range msgs {
		if err := p.Publish(topic, m.Body); err != nil {
			return err
		}
	}
	return nil
}
