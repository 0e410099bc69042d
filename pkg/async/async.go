// Package async runs work that must outlive the request that started it, such as the SMS
// sent after a payment settles, and bounded fan-out for batch jobs.
package async

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/richxcame/escrow-settlement/pkg/logger"
	"go.uber.org/zap"
)

var inflight sync.WaitGroup

// Go runs fn on its own goroutine. fn sees ctx's values (correlation id, booking id, span)
// but not its cancellation, so a finished request does not abort it.
func Go(ctx context.Context, task string, fn func(ctx context.Context)) {
	GoWithTimeout(ctx, task, 0, fn)
}

// GoWithTimeout is Go with a deadline on fn's context. timeout <= 0 means none.
func GoWithTimeout(ctx context.Context, task string, timeout time.Duration, fn func(ctx context.Context)) {
	taskCtx := context.WithoutCancel(ctx)
	started := time.Now()

	inflight.Add(1)
	go func() {
		defer inflight.Done()
		defer recoverTask(taskCtx, task, -1)

		cancel := context.CancelFunc(func() {})
		if timeout > 0 {
			taskCtx, cancel = context.WithTimeout(taskCtx, timeout)
		}
		defer cancel()

		fn(taskCtx)

		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			logger.WarnContext(taskCtx, "async task timed out",
				zap.String("task", task),
				zap.Duration("timeout", timeout),
			)
			return
		}
		logger.DebugContext(taskCtx, "async task completed",
			zap.String("task", task),
			zap.Duration("duration", time.Since(started)),
		)
	}()
}

// Drain waits for tasks started with Go to finish, or for ctx to end
func Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForEachBounded calls fn for every index in [0, n) with at most limit calls in flight and
// returns once they have all finished. A panicking call is logged and does not stop the rest.
// fn gets ctx itself, so cancelling ctx stops new calls from starting.
func ForEachBounded(ctx context.Context, task string, limit, n int, fn func(ctx context.Context, i int)) {
	limit = max(limit, 1)
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	defer wg.Wait()

	for i := range n {
		if ctx.Err() != nil {
			return
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer recoverTask(ctx, task, i)
			fn(ctx, i)
		}()
	}
}

func recoverTask(ctx context.Context, task string, index int) {
	r := recover()
	if r == nil {
		return
	}
	fields := []zap.Field{
		zap.String("task", task),
		zap.Any("panic", r),
		zap.ByteString("stack", debug.Stack()),
	}
	if index >= 0 {
		fields = append(fields, zap.Int("index", index))
	}
	logger.ErrorContext(ctx, "async task panicked", fields...)
}
