package testkit

import (
	"errors"
	"sync"
)

type Published struct {
	Topic string
	Body  []byte
}

// CapturePublisher records published messages and optionally hands them to Forward,
// standing in for nsqd in tests.
type CapturePublisher struct {
	Forward func(topic string, body []byte) error
	Err     error

	mu   sync.Mutex
	msgs []Published
}

func (p *CapturePublisher) Publish(topic string, body []byte) error {
	if p == nil {
		return errors.New("testkit: nil publisher")
	}
	if p.Err != nil {
		return p.Err
	}
	p.mu.Lock()
	p.msgs = append(p.msgs, Published{Topic: topic, Body: append([]byte(nil), body...)})
	p.mu.Unlock()
	if p.Forward != nil {
		return p.Forward(topic, body)
	}
	return nil
}

func (p *CapturePublisher) Messages() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.msgs...)
}
