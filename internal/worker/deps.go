package worker

import (
	"context"
	"time"

	"serenity/internal/pkg/logger"
)

// Queue hands out capture ids.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (string, error)
}

// Processor runs one capture.
type Processor interface {
	ProcessCapture(ctx context.Context, id string) error
}

type Deps struct {
	Queue     Queue
	Processor Processor
	Log       *logger.Logger
	// PopTimeout bounds each blocking pop so cancellation is noticed.
	PopTimeout time.Duration
	// RetryBackoff is the pause after a queue error.
	RetryBackoff time.Duration
}
