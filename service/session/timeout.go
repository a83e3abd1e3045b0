package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSessionCancelled is the cancellation cause used when a caller stops a
// session, as opposed to the composed deadline firing.
var ErrSessionCancelled = errors.New("session cancelled by user")

// TimeoutError is the cancellation cause installed when the composed
// deadline fires; it names the configured limit so the message can survive
// into whatever component observes the cancellation.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("query timeout exceeded after %gs", e.Limit.Seconds())
}

// EffectiveTimeout combines the configured global budget with an optional
// per-call override: the smaller of the two bounds that are set, zero when
// neither is.
func EffectiveTimeout(globalS, overrideS int) time.Duration {
	global := time.Duration(globalS) * time.Second
	override := time.Duration(overrideS) * time.Second
	switch {
	case global > 0 && override > 0:
		if override < global {
			return override
		}
		return global
	case override > 0:
		return override
	default:
		return global
	}
}

// ComposeTimeout derives the effective execution context for one call. The
// returned cancel func accepts a cause, so external cancellation stays
// distinguishable from the deadline: context.Cause yields *TimeoutError when
// the limit fired and the caller's cause otherwise.
func ComposeTimeout(parent context.Context, globalS, overrideS int) (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	limit := EffectiveTimeout(globalS, overrideS)
	if limit <= 0 {
		return ctx, cancel
	}
	tctx, tcancel := context.WithTimeoutCause(ctx, limit, &TimeoutError{Limit: limit})
	return tctx, func(cause error) {
		cancel(cause)
		tcancel()
	}
}
