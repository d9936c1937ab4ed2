package middleware

import (
	"context"
	"score-render/message"
	"time"
)

// ErrTimeout is the failure returned when the caller stops waiting.
var ErrTimeout = message.NewKind(message.FaultTimeout, "request timed out")

// TimeOutMiddleware bounds how long a caller waits for a result. It belongs on the
// caller side: the worker keeps processing the call, the caller just discards the
// eventual reply (next must honour ctx to release its correlation id).
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Result {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Result, 1)
			go func() {
				done <- next(ctx, call)
			}()

			select {
			case result := <-done:
				return result
			case <-ctx.Done():
				return message.Failure(call, ErrTimeout)
			}
		}
	}
}
