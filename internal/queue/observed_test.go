package queue

import (
	"errors"
	"testing"

	"github.com/xokuso/peluquerias-app-sub000/internal/obs"
)

type stubPublisher struct {
	err   error
	calls int
}

func (p *stubPublisher) Publish(_ string, _ []byte) error {
	p.calls++
	return p.err
}

type stubBatchPublisher struct {
	stubPublisher
	batches int
}

func (p *stubBatchPublisher) MultiPublish(_ string, _ [][]byte) error {
	p.batches++
	return p.err
}

func TestObservePublisher_Publish(t *testing.T) {
	t.Parallel()

	stats := obs.New()
	p := ObservePublisher(&stubPublisher{}, stats)

	if err := p.Publish(TopicSignals, []byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	snap := stats.Snapshot()
	if snap.Queue.PublishTotal != 1 || snap.Queue.PublishErrors != 0 || snap.Queue.PublishBytes != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap.Queue)
	}
	if ObservePublisher(p, stats) != p {
		t.Fatalf("expected wrapping to be idempotent")
	}
}

func TestObservePublisher_MultiPublishFallback(t *testing.T) {
	t.Parallel()

	stats := obs.New()
	inner := &stubPublisher{err: errors.New("boom")}
	p := ObservePublisher(inner, stats).(BatchPublisher)

	if err := p.MultiPublish(TopicSignals, [][]byte{[]byte("a"), []byte("b")}); err == nil {
		t.Fatalf("expected error")
	}
	if inner.calls != 1 {
		t.Fatalf("expected fallback to stop at the first failure, got %d calls", inner.calls)
	}
	snap := stats.Snapshot()
	if snap.Queue.PublishTotal != 1 || snap.Queue.PublishErrors != 1 || snap.Queue.PublishBytes != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap.Queue)
	}
}

type stubKeyedPublisher struct {
	stubPublisher
	keys []string
}

func (p *stubKeyedPublisher) PublishKeyed(_ string, key string, _ []byte) error {
	p.keys = append(p.keys, key)
	return p.err
}

func msgs(keys ...string) []Message {
	out := make([]Message, len(keys))
	for i, k := range keys {
		out[i] = Message{Key: k, Body: []byte(k)}
	}
	return out
}

func TestPublishAll(t *testing.T) {
	t.Parallel()

	if err := PublishAll(nil, TopicSignals, msgs("a")); !errors.Is(err, ErrNoPublisher) {
		t.Fatalf("expected ErrNoPublisher, got %v", err)
	}

	batch := &stubBatchPublisher{}
	if err := PublishAll(batch, TopicSignals, msgs("a")); err != nil {
		t.Fatalf("PublishAll single: %v", err)
	}
	if err := PublishAll(batch, TopicSignals, msgs("a", "b", "c")); err != nil {
		t.Fatalf("PublishAll batch: %v", err)
	}
	if batch.calls != 1 || batch.batches != 1 {
		t.Fatalf("expected 1 publish and 1 batch, got %d/%d", batch.calls, batch.batches)
	}

	plain := &stubPublisher{}
	if err := PublishAll(plain, TopicSignals, msgs("a", "b")); err != nil {
		t.Fatalf("PublishAll plain: %v", err)
	}
	if plain.calls != 2 {
		t.Fatalf("expected 2 publishes, got %d", plain.calls)
	}
	if err := PublishAll(plain, TopicSignals, nil); err != nil {
		t.Fatalf("PublishAll empty: %v", err)
	}

	keyed := &stubKeyedPublisher{}
	if err := PublishAll(keyed, TopicSignals, msgs("s1", "s2", "s1")); err != nil {
		t.Fatalf("PublishAll keyed: %v", err)
	}
	if len(keyed.keys) != 3 || keyed.keys[0] != "s1" || keyed.keys[1] != "s2" || keyed.keys[2] != "s1" || keyed.calls != 0 {
		t.Fatalf("expected keys in order and no unkeyed publishes, got %v/%d", keyed.keys, keyed.calls)
	}
}

func TestObservePublisher_KeepsKeys(t *testing.T) {
	t.Parallel()

	stats := obs.New()
	if _, ok := ObservePublisher(&stubBatchPublisher{}, stats).(KeyedPublisher); ok {
		t.Fatalf("unkeyed publisher must not gain PublishKeyed")
	}

	inner := &stubKeyedPublisher{}
	p := ObservePublisher(inner, stats)
	if ObservePublisher(p, stats) != p {
		t.Fatalf("expected wrapping to be idempotent")
	}
	if err := PublishAll(p, TopicSignals, msgs("s1", "s2")); err != nil {
		t.Fatalf("PublishAll: %v", err)
	}
	if len(inner.keys) != 2 || inner.keys[1] != "s2" {
		t.Fatalf("expected keys forwarded, got %v", inner.keys)
	}
	if snap := stats.Snapshot(); snap.Queue.PublishTotal != 2 || snap.Queue.PublishBytes != 4 {
		t.Fatalf("unexpected snapshot: %+v", snap.Queue)
	}
}
