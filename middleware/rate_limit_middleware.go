package middleware

import (
	"context"
	"score-render/message"

	"golang.org/x/time/rate"
)

// ErrRateLimited is the failure returned when the token bucket is empty.
var ErrRateLimited = message.NewKind(message.FaultRateLimited, "rate limit exceeded")

// RateLimitMiddleware rejects calls beyond r per second (with the given burst).
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Result {
			if !limiter.Allow() {
				return message.Failure(call, ErrRateLimited)
			}
			return next(ctx, call)
		}
	}
}
