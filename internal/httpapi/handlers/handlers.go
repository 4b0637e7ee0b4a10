package handlers

import (
	"context"

	"serenity/internal/models"
	"serenity/internal/pkg/logger"
	"serenity/internal/ports"
	"serenity/internal/renderer"
)

// Renderer is the render proxy.
type Renderer interface {
	Render(ctx context.Context, req renderer.Request) (*renderer.Result, error)
	Validate(req renderer.Request) error
}

// CaptureStore persists capture records.
type CaptureStore interface {
	Create(ctx context.Context, c *models.Capture) error
	Get(ctx context.Context, id string) (*models.Capture, error)
	List(ctx context.Context, status models.CaptureStatus, limit int) ([]models.Capture, error)
	Delete(ctx context.Context, id string) error
}

// CaptureQueue hands capture ids to the worker.
type CaptureQueue interface {
	Push(ctx context.Context, id string) error
}

// Check probes one dependency for the deep health check.
type Check func(ctx context.Context) error

type Deps struct {
	Renderer Renderer
	// Captures, Queue and Storage are nil when the archive is disabled.
	Captures CaptureStore
	Queue    CaptureQueue
	Storage  ports.StorageProvider
	Checks   map[string]Check
	Log      *logger.Logger
	Service  string
	Version  string
}

type Handler struct {
	renderer Renderer
	captures CaptureStore
	queue    CaptureQueue
	storage  ports.StorageProvider
	checks   map[string]Check
	log      *logger.Logger
	service  string
	version  string
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		renderer: d.Renderer,
		captures: d.Captures,
		queue:    d.Queue,
		storage:  d.Storage,
		checks:   d.Checks,
		log:      log.WithComponent("api"),
		service:  d.Service,
		version:  d.Version,
	}
}
