package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Runner calls a processor on a fixed interval until its context ends.
type Runner struct {
	processor *Processor
	interval  time.Duration
	logger    *zap.Logger
}

// NewRunner creates a runner. The interval defaults to 30s.
func NewRunner(processor *Processor, interval time.Duration, logger *zap.Logger) *Runner {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{processor: processor, interval: interval, logger: logger}
}

// Start blocks, running one batch immediately and then one per tick. A full batch triggers
// the next run without waiting for the tick.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		result, err := r.processor.Run(ctx)
		if err != nil {
			r.logger.Error("worker run failed", zap.Error(err))
		}
		if err == nil && result.ProcessedCount >= r.processor.opts.BatchSize {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			r.logger.Info("worker runner stopped")
			return
		case <-ticker.C:
		}
	}
}
