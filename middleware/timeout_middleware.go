package middleware

import (
	"context"
	"errors"
	"time"

	"mini-placement/placement"
)

// ErrTimeout is returned when a decision, including its membership query,
// does not finish in time.
var ErrTimeout = errors.New("placement timed out")

type result struct {
	node placement.NodeAddress
	err  error
}

// TimeOutMiddleware bounds each decision by timeout. A caller that cancels
// its own context gets that context's error back, not ErrTimeout.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(parent context.Context, target *placement.Target) (placement.NodeAddress, error) {
			ctx, cancel := context.WithTimeout(parent, timeout)
			defer cancel()

			done := make(chan result, 1)
			go func() {
				node, err := next(ctx, target)
				done <- result{node: node, err: err}
			}()

			select {
			case r := <-done:
				return r.node, r.err
			case <-ctx.Done():
				if err := parent.Err(); err != nil {
					return placement.NodeAddress{}, err
				}
				return placement.NodeAddress{}, ErrTimeout
			}
		}
	}
}
