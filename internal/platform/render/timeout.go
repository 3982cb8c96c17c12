package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ehr/fhirconverter/internal/platform/fault"
)

// WithTimeout runs fn under a deadline. A positive timeout bounds the call
// and fails with TimeoutError once it elapses; zero or negative leaves it
// unbounded. Cancellation of ctx itself fails with Cancelled, or with
// TimeoutError when ctx carried the deadline.
//
// fn keeps running in the background after WithTimeout gives up on it, so
// its result and any data it touched must be discarded by the caller.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) (string, error)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", contextError(ctx, timeout)
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fault.Newf(fault.TemplateRenderError, "render panic: %v", r)}
			}
		}()
		out, err := fn(runCtx)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && runCtx.Err() != nil &&
			(errors.Is(res.err, runCtx.Err()) || fault.KindOf(res.err) == "") {
			return "", contextError(ctx, timeout)
		}
		return res.out, res.err
	case <-runCtx.Done():
		return "", contextError(ctx, timeout)
	}
}

// contextError classifies why a render context ended.
func contextError(parent context.Context, timeout time.Duration) error {
	if err := parent.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fault.Wrap(fault.TimeoutError, err, "request deadline exceeded during rendering")
		}
		return fault.Wrap(fault.Cancelled, err, "rendering cancelled")
	}
	return fault.Wrap(fault.TimeoutError, context.DeadlineExceeded, fmt.Sprintf("rendering exceeded %s", timeout))
}
