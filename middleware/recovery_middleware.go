package middleware

import (
	"context"
	"fmt"
	"score-render/message"
)

// RecoveryMiddleware turns a panic anywhere below it into a failed Result.
func RecoveryMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (result *message.Result) {
			defer func() {
				if p := recover(); p != nil {
					result = message.Failure(call, fmt.Errorf("%s panicked: %v", call.Method, p))
				}
			}()
			return next(ctx, call)
		}
	}
}
