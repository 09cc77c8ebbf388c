package sweep

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Ticker triggers sweeps in-process for deployments without an external scheduler.
type Ticker struct {
	scheduler *Scheduler
	intervals Intervals
	logger    *zap.Logger
}

// NewTicker creates a ticker.
func NewTicker(scheduler *Scheduler, intervals Intervals, logger *zap.Logger) *Ticker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ticker{scheduler: scheduler, intervals: intervals, logger: logger}
}

// Run blocks until ctx is done, running each sweep kind on its own interval.
func (t *Ticker) Run(ctx context.Context) {
	done := make(chan struct{}, 2)
	for _, kind := range []string{KindStatus, KindReminders} {
		go func(kind string) {
			t.loop(ctx, kind)
			done <- struct{}{}
		}(kind)
	}
	<-done
	<-done
	t.logger.Info("sweep ticker stopped")
}

func (t *Ticker) loop(ctx context.Context, kind string) {
	every := t.intervals.Deadline(kind)
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			runCtx, cancel := context.WithTimeout(ctx, every)
			t.scheduler.Run(runCtx, kind, time.Now().UTC())
			cancel()
		}
	}
}
