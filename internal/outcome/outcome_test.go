package outcome

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestResult(t *testing.T) {
	t.Parallel()

	errClosed := errors.New("closed")
	if r := OK("a"); !r.OK() || r.Failed() {
		t.Fatalf("unexpected ok result: %+v", r)
	}
	if r := Fail("b", nil); !r.OK() {
		t.Fatalf("Fail(nil) should be ok: %+v", r)
	}
	r := Noop("c", errClosed)
	if r.OK() || r.Failed() || !r.Is(errClosed) {
		t.Fatalf("unexpected noop result: %+v", r)
	}
	if f := Fail("d", errors.New("db")); !f.Failed() {
		t.Fatalf("expected failure: %+v", f)
	}
}

func TestResult_Log(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	OK("ok").Log(logger)
	Noop("close", errors.New("already closed")).Log(logger)
	Fail("insert", errors.New("db down")).Log(logger, zap.String("session_id", "s1"))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zap.DebugLevel || entries[1].Level != zap.WarnLevel {
		t.Fatalf("unexpected levels: %v %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["session_id"] != "s1" {
		t.Fatalf("expected session_id field, got %v", entries[1].ContextMap())
	}
	// nil logger must not panic
	Fail("x", errors.New("y")).Log(nil)
}
