package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"mini-placement/placement"
)

var ErrRateLimited = errors.New("placement rate limit exceeded")

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, target *placement.Target) (placement.NodeAddress, error) {
			if !limiter.Allow() {
				return placement.NodeAddress{}, ErrRateLimited
			}
			return next(ctx, target)
		}
	}
}
