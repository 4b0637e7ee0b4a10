package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"serenity/internal/httpapi/handlers"
	"serenity/internal/httpkit"
	"serenity/internal/pkg/logger"
	"serenity/internal/pkg/metrics"
	"serenity/internal/pkg/middleware"
)

type Deps struct {
	Handlers handlers.Deps
	Log      *logger.Logger
	// Metrics is optional; nil disables /metrics and request metrics.
	Metrics *metrics.Recorder
	// RateLimit is optional; nil disables per-client limiting.
	RateLimit *middleware.RateLimitConfig
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	d.Handlers.Log = log

	r := chi.NewRouter()

	// CORS goes first so that every response, errors and panics included,
	// carries the headers.
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	if d.RateLimit != nil {
		r.Use(middleware.RateLimit(*d.RateLimit))
	}
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpkit.WriteErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpkit.WriteErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	h := handlers.New(d.Handlers)
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	// ---- HEALTH / METRICS ----
	r.Get("/health", h.Health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	// ---- CAPTURES ----
	if d.Handlers.Captures != nil {
		r.Route("/captures", func(r chi.Router) {
			r.Post("/", wrap(h.PostCapture))
			r.Get("/", wrap(h.ListCaptures))
			r.Get("/{captureId}", wrap(h.GetCapture))
			r.Get("/{captureId}/content", wrap(h.StreamCapture))
			r.Delete("/{captureId}", wrap(h.DeleteCapture))
		})
	}

	// ---- RENDER ----
	// The proxy answers POST on any path.
	r.Post("/", wrap(h.Render))
	r.Post("/*", wrap(h.Render))

	return r
}
