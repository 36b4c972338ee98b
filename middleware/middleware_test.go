package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mini-placement/placement"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNode = placement.NodeAddress{Endpoint: "10.0.0.1:11111", Generation: 1}

// 模拟一个简单的 handler：直接返回固定节点
func echoHandler(ctx context.Context, target *placement.Target) (placement.NodeAddress, error) {
	return testNode, nil
}

// 模拟一个慢 handler：睡 200ms（随 ctx 取消提前退出）
func slowHandler(ctx context.Context, target *placement.Target) (placement.NodeAddress, error) {
	select {
	case <-time.After(200 * time.Millisecond):
		return testNode, nil
	case <-ctx.Done():
		return placement.NodeAddress{}, ctx.Err()
	}
}

func failingHandler(err error) HandlerFunc {
	return func(ctx context.Context, target *placement.Target) (placement.NodeAddress, error) {
		return placement.NodeAddress{}, err
	}
}

func newTarget() *placement.Target {
	return &placement.Target{ActorType: "HelloGrain", ActorID: "0", RequestID: "req-1"}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	node, err := handler(context.Background(), newTarget())
	require.NoError(t, err)
	assert.Equal(t, testNode, node)

	entries := logs.FilterMessage("placement decided").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "HelloGrain", fields["actorType"])
	assert.Equal(t, testNode.String(), fields["node"])

	_, err = LoggingMiddleware(zap.New(core))(failingHandler(placement.ErrNoCompatibleNode))(context.Background(), newTarget())
	require.ErrorIs(t, err, placement.ErrNoCompatibleNode)
	assert.Equal(t, 1, logs.FilterMessage("placement failed").FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestTimeoutPass(t *testing.T) {
	// 超时 500ms，handler 很快，应该正常返回
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	node, err := handler(context.Background(), newTarget())
	require.NoError(t, err)
	assert.Equal(t, testNode, node)
}

func TestTimeoutExceeded(t *testing.T) {
	// 超时 50ms，handler 需要 200ms，应该超时
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	node, err := handler(context.Background(), newTarget())
	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, node.IsZero())
}

func TestTimeoutParentCanceled(t *testing.T) {
	// 调用方自己取消，不应算作超时
	handler := TimeOutMiddleware(time.Second)(slowHandler)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := handler(ctx, newTarget())
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, "canceled", failureReason(err))
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		_, err := handler(context.Background(), newTarget())
		require.NoError(t, err, "request %d should pass", i)
	}

	_, err := handler(context.Background(), newTarget())
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestRetryRequeries(t *testing.T) {
	attempts := 0
	flaky := func(ctx context.Context, target *placement.Target) (placement.NodeAddress, error) {
		attempts++
		if attempts < 3 {
			return placement.NodeAddress{}, placement.ErrNoCompatibleNode
		}
		return testNode, nil
	}

	node, err := RetryMiddleware(3, time.Millisecond, zap.NewNop())(flaky)(context.Background(), newTarget())
	require.NoError(t, err)
	assert.Equal(t, testNode, node)
	assert.Equal(t, 3, attempts)
}

func TestRetryGivesUp(t *testing.T) {
	attempts := 0
	handler := RetryMiddleware(2, time.Millisecond, zap.NewNop())(func(ctx context.Context, target *placement.Target) (placement.NodeAddress, error) {
		attempts++
		return placement.NodeAddress{}, placement.ErrNoCompatibleNode
	})

	_, err := handler(context.Background(), newTarget())
	require.ErrorIs(t, err, placement.ErrNoCompatibleNode)
	assert.Equal(t, 3, attempts)
}

func TestRetrySkipsUnconfigured(t *testing.T) {
	attempts := 0
	handler := RetryMiddleware(5, time.Millisecond, zap.NewNop())(func(ctx context.Context, target *placement.Target) (placement.NodeAddress, error) {
		attempts++
		return placement.NodeAddress{}, placement.ErrUnconfiguredPolicy
	})

	_, err := handler(context.Background(), newTarget())
	require.ErrorIs(t, err, placement.ErrUnconfiguredPolicy)
	assert.Equal(t, 1, attempts)
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	handler := RetryMiddleware(5, time.Hour, zap.NewNop())(func(ctx context.Context, target *placement.Target) (placement.NodeAddress, error) {
		attempts++
		return placement.NodeAddress{}, placement.ErrNoCompatibleNode
	})

	_, err := handler(ctx, newTarget())
	require.ErrorIs(t, err, placement.ErrNoCompatibleNode)
	assert.Equal(t, 1, attempts)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	ok := MetricsMiddleware(m)(echoHandler)
	for i := 0; i < 3; i++ {
		_, err := ok(context.Background(), newTarget())
		require.NoError(t, err)
	}
	bad := MetricsMiddleware(m)(failingHandler(placement.ErrNoCompatibleNode))
	_, err = bad(context.Background(), newTarget())
	require.Error(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.decisions.WithLabelValues("HelloGrain", testNode.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("HelloGrain", "no_compatible_node")))

	// A second registration on the same registry collides
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "unconfigured_policy", failureReason(placement.ErrUnconfiguredPolicy))
	assert.Equal(t, "timeout", failureReason(ErrTimeout))
	assert.Equal(t, "rate_limited", failureReason(ErrRateLimited))
	assert.Equal(t, "canceled", failureReason(context.Canceled))
	assert.Equal(t, "other", failureReason(errors.New("boom")))
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, target *placement.Target) (placement.NodeAddress, error) {
				order = append(order, name)
				return next(ctx, target)
			}
		}
	}

	chained := Chain(mark("a"), mark("b"), TimeOutMiddleware(500*time.Millisecond), mark("c"))
	node, err := chained(echoHandler)(context.Background(), newTarget())
	require.NoError(t, err)
	assert.Equal(t, testNode, node)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}
