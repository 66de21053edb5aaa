package llm

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// Middleware wraps a Completer with additional behavior.
type Middleware func(Completer) Completer

// Chain applies middlewares so the first one listed is outermost.
func Chain(c Completer, mws ...Middleware) Completer {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			c = mws[i](c)
		}
	}
	return c
}

// Timeout bounds each call to d. Calls that exceed it fail with a
// KindServer error. A non-positive d disables the bound.
func Timeout(d time.Duration) Middleware {
	return func(next Completer) Completer {
		if d <= 0 {
			return next
		}
		return CompleterFunc(func(ctx context.Context, prompt string, opts ...CompleteOption) (string, error) {
			callCtx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			text, err := next.Complete(callCtx, prompt, opts...)
			if err == nil {
				return text, nil
			}
			// Only our own deadline is a timeout; a cancelled parent stays a cancellation.
			if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return "", timeoutError(err)
			}
			return "", Normalize(err)
		})
	}
}

// RateLimited blocks calls so that at most perMinute reach next in any
// minute. A non-positive perMinute disables the limiter.
func RateLimited(perMinute int) Middleware {
	return func(next Completer) Completer {
		if perMinute <= 0 {
			return next
		}
		limiter := rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		return CompleterFunc(func(ctx context.Context, prompt string, opts ...CompleteOption) (string, error) {
			if err := limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return "", Normalize(ctx.Err())
				}
				return "", &Error{
					Kind:        KindRateLimit,
					Message:     "Local rate limit exceeded",
					UserMessage: "Too many requests. Please wait a moment and try again.",
					Cause:       err,
				}
			}
			return next.Complete(ctx, prompt, opts...)
		})
	}
}

// Observer receives the outcome of every completion.
type Observer interface {
	ObserveCompletion(d time.Duration, err *Error)
}

// Instrumented reports call latency and failure kind to o.
func Instrumented(o Observer) Middleware {
	return func(next Completer) Completer {
		if o == nil {
			return next
		}
		return CompleterFunc(func(ctx context.Context, prompt string, opts ...CompleteOption) (string, error) {
			start := time.Now()
			text, err := next.Complete(ctx, prompt, opts...)
			if err != nil {
				llmErr := Normalize(err)
				o.ObserveCompletion(time.Since(start), llmErr)
				return "", llmErr
			}
			o.ObserveCompletion(time.Since(start), nil)
			return text, nil
		})
	}
}
