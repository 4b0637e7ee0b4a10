// Package worker consumes the capture queue.
package worker

import (
	"context"
	"time"

	"serenity/internal/pkg/logger"
)

// Run processes captures one at a time until ctx is canceled. A capture
// that started before cancellation is finished first.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	log = log.WithComponent("worker")

	popTimeout := d.PopTimeout
	if popTimeout <= 0 {
		popTimeout = 5 * time.Second
	}
	backoff := d.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	log.Info("worker started", "pop_timeout", popTimeout.String())

	for {
		if ctx.Err() != nil {
			log.Info("worker stopping")
			return ctx.Err()
		}

		id, err := d.Queue.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker stopping")
				return ctx.Err()
			}
			log.Warn("queue pop error, retrying", "error", err.Error())
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			continue
		}
		if id == "" {
			continue
		}

		capLog := log.WithCaptureID(id)
		capLog.Info("processing capture")
		start := time.Now()

		// Detached so shutdown does not cut a capture off mid-render.
		if err := d.Processor.ProcessCapture(context.WithoutCancel(ctx), id); err != nil {
			capLog.Error("capture failed",
				"error", err.Error(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			continue
		}
		capLog.Info("capture completed", "duration_ms", time.Since(start).Milliseconds())
	}
}
