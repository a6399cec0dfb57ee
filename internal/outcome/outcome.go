// Package outcome models the best-effort delivery contract of tracking calls: every
// operation reports what happened, and callers are free to ignore it.
package outcome

import (
	"errors"

	"go.uber.org/zap"
)

// Result is returned by every tracking operation. A nil Err means the write landed.
// Noop marks handled terminal cases (double close, unknown funnel step, completing
// an already resolved step) that are reported but are not failures.
type Result struct {
	Op   string
	Err  error
	Noop bool
}

func OK(op string) Result { return Result{Op: op} }

func Fail(op string, err error) Result {
	if err == nil {
		return Result{Op: op}
	}
	return Result{Op: op, Err: err}
}

func Noop(op string, reason error) Result {
	return Result{Op: op, Err: reason, Noop: true}
}

func (r Result) OK() bool { return r.Err == nil }

// Failed reports a real failure, excluding handled no-ops.
func (r Result) Failed() bool { return r.Err != nil && !r.Noop }

func (r Result) Is(target error) bool { return errors.Is(r.Err, target) }

// Log is the standard handler: failures at warn, no-ops at debug.
func (r Result) Log(logger *zap.Logger, fields ...zap.Field) Result {
	if logger == nil || r.Err == nil {
		return r
	}
	fields = append(fields, zap.String("op", r.Op), zap.Error(r.Err))
	if r.Noop {
		logger.Debug("tracking no-op", fields...)
	} else {
		logger.Warn("tracking call failed", fields...)
	}
	return r
}

// Observer receives every reported result; *obs.Stats implements it.
type Observer interface {
	ObserveTrack(err error, noop bool)
}

// Report logs r and feeds it to o. Both may be nil.
func Report(r Result, logger *zap.Logger, o Observer, fields ...zap.Field) Result {
	if o != nil {
		o.ObserveTrack(r.Err, r.Noop)
	}
	return r.Log(logger, fields...)
}
