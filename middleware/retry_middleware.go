package middleware

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"mini-placement/placement"
)

// RetryMiddleware re-runs the decision when no node was available or the
// attempt timed out. Each attempt goes back through the inner chain, so the
// membership oracle is queried again and a node that joined in the meantime
// becomes eligible. Every other error is returned immediately.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, target *placement.Target) (placement.NodeAddress, error) {
			node, err := next(ctx, target)
			for i := 0; i < maxRetries; i++ {
				if !retryable(err) {
					return node, err
				}
				logger.Debug("retrying placement",
					zap.Int("attempt", i+1),
					zap.String("actorType", target.ActorType),
					zap.Error(err))

				timer := time.NewTimer(baseDelay * time.Duration(1<<i)) // Exponential backoff
				select {
				case <-ctx.Done():
					timer.Stop()
					return node, err
				case <-timer.C:
				}
				node, err = next(ctx, target)
			}
			return node, err
		}
	}
}

func retryable(err error) bool {
	return errors.Is(err, placement.ErrNoCompatibleNode) || errors.Is(err, ErrTimeout)
}
