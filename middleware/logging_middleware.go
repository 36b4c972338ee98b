package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mini-placement/placement"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, target *placement.Target) (placement.NodeAddress, error) {
			start := time.Now()
			node, err := next(ctx, target)
			duration := time.Since(start)

			fields := []zap.Field{
				zap.String("actorType", target.ActorType),
				zap.String("actorID", target.ActorID),
				zap.String("requestID", target.RequestID),
				zap.Duration("duration", duration),
			}
			if err != nil {
				logger.Warn("placement failed", append(fields, zap.Error(err))...)
				return node, err
			}
			logger.Debug("placement decided", append(fields, zap.Stringer("node", node))...)
			return node, nil
		}
	}
}
