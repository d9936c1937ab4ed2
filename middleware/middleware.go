// Package middleware wraps call handling on both sides of the worker protocol.
//
// On the worker side the chain wraps the dispatcher's invocation of the adapter;
// on the caller side it wraps "send the call and wait for its result". Every
// Result a middleware fabricates echoes the call's method and idx.
package middleware

import (
	"context"
	"score-render/message"
)

type HandlerFunc func(ctx context.Context, call *message.Call) *message.Result

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that Chain(A, B)(h) runs A, then B, then h.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
