package middleware

import (
	"context"
	"score-render/message"
	"time"

	"github.com/charmbracelet/log"
)

// LoggingMiddleware logs every call with its duration, and the fault of failed ones.
func LoggingMiddleware(logger *log.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Result {
			start := time.Now()
			result := next(ctx, call)
			duration := time.Since(start)
			if f := result.Fault(); f != nil {
				logger.Warn("call failed", "method", call.Method, "idx", call.Idx, "duration", duration, "fault", f.Name, "error", f.Message)
				return result
			}
			logger.Debug("call served", "method", call.Method, "idx", call.Idx, "duration", duration)
			return result
		}
	}
}
