package middleware

import (
	"context"
	"score-render/message"
	"time"

	"github.com/charmbracelet/log"
)

// Retryable reports whether a failed result may succeed on another attempt:
// the call never reached a ready worker, or the caller gave up waiting.
func Retryable(result *message.Result) bool {
	f := result.Fault()
	if f == nil {
		return false
	}
	switch f.Name {
	case message.FaultTransport, message.FaultTimeout, message.FaultNotReady:
		return true
	}
	return false
}

// RetryMiddleware re-sends a call up to maxRetries times with exponential backoff
// starting at baseDelay. Failures raised by the toolkit itself are never retried.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *log.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Result {
			result := next(ctx, call)
			for i := 0; i < maxRetries && Retryable(result); i++ {
				logger.Info("retrying call", "attempt", i+1, "method", call.Method, "fault", result.Fault().Name)
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return result
				}
				result = next(ctx, call)
			}
			return result
		}
	}
}
