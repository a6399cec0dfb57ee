package queue

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewNSQPublisher_EmptyAddr(t *testing.T) {
	t.Parallel()

	if _, err := NewNSQPublisher("", nil); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

func TestNSQPublisher_WithoutNSQD(t *testing.T) {
	t.Parallel()

	p, err := NewNSQPublisher("127.0.0.1:1", zap.NewNop())
	if err != nil {
		t.Fatalf("NewNSQPublisher: %v", err)
	}
	t.Cleanup(p.Stop)

	if err := p.Publish("bad topic!", []byte(`{}`)); err == nil {
		t.Fatalf("expected invalid topic error")
	}
	if err := p.Publish(TopicSignals, []byte(`{"type":"page_view"}`)); err == nil {
		t.Fatalf("expected publish error without nsqd")
	}
	if err := p.MultiPublish(TopicSignals, [][]byte{[]byte(`{}`), []byte(`{}`)}); err == nil {
		t.Fatalf("expected multi publish error without nsqd")
	}
	if err := p.Ping(); err == nil {
		t.Fatalf("expected ping error without nsqd")
	}
}
