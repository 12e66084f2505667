package main

import (
	"context"
	"time"

	"github.com/nadmax/conductor/internal/loop"
	"github.com/nadmax/conductor/internal/metrics"
)

// startMetricsCollector refreshes the loop gauges every 10 seconds until ctx
// is cancelled. getLoop resolves the loop currently being served, which
// changes across continuations.
func startMetricsCollector(ctx context.Context, getLoop func() *loop.Loop) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		collect(getLoop())
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collect(getLoop())
			}
		}
	}()

	return done
}

func collect(l *loop.Loop) {
	health := l.Health()

	metrics.UpdateLoopStatus(string(l.Status()))
	metrics.UpdateQueueDepth(health.PendingCount)
	metrics.UpdateBreakerState(health.BreakerState)
}
