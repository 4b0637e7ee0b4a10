// Package processor runs queued capture jobs: render, store, record.
package processor

import (
	"bytes"
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"serenity/internal/models"
	"serenity/internal/pkg/errors"
	"serenity/internal/pkg/logger"
	"serenity/internal/ports"
	"serenity/internal/renderer"
	"serenity/internal/repositories"
)

// maxErrorText bounds captures.error_text.
const maxErrorText = 2000

// Store is the capture state the processor reads and advances.
type Store interface {
	Get(ctx context.Context, id string) (*models.Capture, error)
	MarkRunning(ctx context.Context, id string) error
	MarkDone(ctx context.Context, id string, in repositories.DoneInput) error
	MarkFailed(ctx context.Context, id string, errText string) error
}

// Renderer produces the artifact for a capture.
type Renderer interface {
	Render(ctx context.Context, req renderer.Request) (*renderer.Result, error)
}

// Metrics counts finished captures.
type Metrics interface {
	IncCapture(status string)
}

type Deps struct {
	Store    Store
	Renderer Renderer
	Storage  ports.StorageProvider
	Metrics  Metrics
	Log      *logger.Logger
}

type Processor struct {
	store    Store
	renderer Renderer
	storage  ports.StorageProvider
	metrics  Metrics
	log      *logger.Logger
}

type nopMetrics struct{}

func (nopMetrics) IncCapture(string) {}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	m := d.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	return &Processor{
		store:    d.Store,
		renderer: d.Renderer,
		storage:  d.Storage,
		metrics:  m,
		log:      log.WithComponent("processor"),
	}
}

// ProcessCapture renders capture id and stores the result. A capture that
// is no longer QUEUED is skipped. Failures after the capture is claimed
// mark it FAILED and are returned.
func (p *Processor) ProcessCapture(ctx context.Context, id string) error {
	ctx = logger.ContextWithCaptureID(ctx, id)
	log := p.log.FromContext(ctx)

	c, err := p.store.Get(ctx, id)
	if err != nil {
		return errors.Wrap(err, "processor.fetch", "failed to load capture")
	}

	if err := p.store.MarkRunning(ctx, id); err != nil {
		if errors.IsCode(err, errors.CodeConflict) {
			log.Warn("capture is not queued, skipping", "status", string(c.Status))
			return nil
		}
		return p.failCapture(ctx, id, errors.Wrap(err, "processor.status", "failed to mark capture as running"))
	}

	log.Info("rendering capture", "type", c.Type, "url", c.URL)
	res, err := p.renderer.Render(ctx, renderer.Request{
		URL:     c.URL,
		Type:    renderer.Type(c.Type),
		Options: c.Options,
	})
	if err != nil {
		return p.failCapture(ctx, id, err)
	}

	key := ObjectKey(id, res.ContentType)
	out, err := p.storage.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: res.ContentType,
		Reader:      bytes.NewReader(res.Body),
		Size:        int64(res.Size()),
	})
	if err != nil {
		return p.failCapture(ctx, id, errors.Wrap(err, "processor.store", "failed to store artifact"))
	}

	size := out.Size
	if size == 0 {
		size = int64(res.Size())
	}
	err = p.store.MarkDone(ctx, id, repositories.DoneInput{
		ObjectKey:   out.ObjectKey,
		ContentType: res.ContentType,
		SizeBytes:   size,
		Provider:    p.storage.Provider(),
	})
	if err != nil {
		if derr := p.storage.DeleteObject(context.WithoutCancel(ctx), out.ObjectKey); derr != nil {
			log.WithError(derr).Warn("failed to remove orphaned artifact", "object_key", out.ObjectKey)
		}
		return p.failCapture(ctx, id, errors.Wrap(err, "processor.save", "failed to record artifact"))
	}

	p.metrics.IncCapture(string(models.CaptureDone))
	log.Info("capture stored",
		"object_key", out.ObjectKey,
		"content_type", res.ContentType,
		"size_bytes", size,
	)
	return nil
}

// failCapture records cause on the capture and returns it. The update runs
// even when ctx is already canceled by shutdown.
func (p *Processor) failCapture(ctx context.Context, id string, cause error) error {
	log := p.log.FromContext(ctx)
	msg := FailureText(cause)

	var appErr *errors.Error
	if errors.As(cause, &appErr) {
		log.Error("capture failed",
			"code", string(appErr.Code),
			"op", appErr.Op,
			"message", appErr.Message,
		)
	} else {
		log.Error("capture failed", "error", msg)
	}

	updCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.store.MarkFailed(updCtx, id, msg); err != nil {
		log.WithError(err).Error("failed to mark capture as failed")
	}
	p.metrics.IncCapture(string(models.CaptureFailed))
	return cause
}

// FailureText is the error_text stored for err: "upstream <status>:
// <details>" for provider failures, the error string otherwise, cut to
// 2000 characters.
func FailureText(err error) string {
	var msg string
	if errors.IsCode(err, errors.CodeUpstream) {
		fields := errors.GetFields(err)
		details, _ := fields["details"].(string)
		msg = fmt.Sprintf("upstream %d: %s", errors.GetHTTPStatus(err), details)
	} else if err != nil {
		msg = err.Error()
	}
	return truncate(msg, maxErrorText)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
