// Package middleware wraps the placement decision with cross-cutting
// behaviour: logging, metrics, timeouts, rate limiting and caller-side retry.
//
// None of it runs inside a policy. Policies stay synchronous and
// non-blocking; everything that can wait or retry lives here.
package middleware

import (
	"context"

	"mini-placement/placement"
)

// HandlerFunc makes one placement decision for target.
type HandlerFunc func(ctx context.Context, target *placement.Target) (placement.NodeAddress, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
//
//	Chain(A, B, C)(h) → A(B(C(h)))
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
