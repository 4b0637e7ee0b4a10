package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"serenity/internal/httpkit"
	"serenity/internal/models"
	apperrors "serenity/internal/pkg/errors"
	"serenity/internal/renderer"
	"serenity/internal/repositories"
)

// PostCapture validates a render request like the proxy does, stores it as
// a QUEUED capture and enqueues it for the worker.
func (h *Handler) PostCapture(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	var req renderer.Request
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return apperrors.Wrap(err, "handlers.PostCapture", err.Error())
	}
	if err := h.renderer.Validate(req); err != nil {
		return err
	}

	c := &models.Capture{
		ID:      models.NewCaptureID(),
		URL:     req.URL,
		Type:    string(req.Kind()),
		Options: req.Options,
		Status:  models.CaptureQueued,
	}
	if err := h.captures.Create(ctx, c); err != nil {
		return err
	}

	if err := h.queue.Push(ctx, c.ID); err != nil {
		delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if derr := h.captures.Delete(delCtx, c.ID); derr != nil {
			h.log.FromContext(ctx).WithError(derr).Error("failed to remove unqueued capture", "capture_id", c.ID)
		}
		return apperrors.WrapWithCode(err, apperrors.CodeUnavailable, "handlers.PostCapture", "queue push failed")
	}

	h.log.FromContext(ctx).Info("capture queued", "capture_id", c.ID, "type", c.Type, "url", c.URL)
	httpkit.WriteJSON(w, http.StatusCreated, map[string]any{"capture": c})
	return nil
}

func (h *Handler) ListCaptures(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()

	status := models.CaptureStatus(strings.ToUpper(strings.TrimSpace(q.Get("status"))))
	if status != "" && !status.Valid() {
		return apperrors.ValidationField("status", "status must be one of QUEUED, RUNNING, DONE, FAILED")
	}

	limit := repositories.DefaultListLimit
	if s := strings.TrimSpace(q.Get("limit")); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v <= repositories.MaxListLimit {
			limit = v
		}
	}

	out, err := h.captures.List(r.Context(), status, limit)
	if err != nil {
		return err
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"captures": out,
		"count":    len(out),
	})
	return nil
}

func (h *Handler) GetCapture(w http.ResponseWriter, r *http.Request) error {
	c, err := h.captures.Get(r.Context(), chi.URLParam(r, "captureId"))
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"capture": c})
	return nil
}

// StreamCapture writes the stored artifact of a DONE capture.
func (h *Handler) StreamCapture(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	c, err := h.captures.Get(ctx, chi.URLParam(r, "captureId"))
	if err != nil {
		return err
	}
	if c.Status != models.CaptureDone {
		return apperrors.Conflict("capture is not ready").WithField("capture_status", string(c.Status))
	}

	rc, contentType, size, err := h.storage.GetObject(ctx, c.ObjectKey)
	if err != nil {
		return err
	}
	defer rc.Close()

	if c.ContentType != "" {
		contentType = c.ContentType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		h.log.FromContext(ctx).WithError(err).Warn("artifact stream interrupted", "capture_id", c.ID)
	}
	return nil
}

// DeleteCapture removes the artifact and the record. Running captures
// cannot be deleted.
func (h *Handler) DeleteCapture(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	c, err := h.captures.Get(ctx, chi.URLParam(r, "captureId"))
	if err != nil {
		return err
	}
	if c.Status == models.CaptureRunning {
		return apperrors.Conflict("capture is running")
	}

	if c.ObjectKey != "" {
		if err := h.storage.DeleteObject(ctx, c.ObjectKey); err != nil && !apperrors.IsNotFound(err) {
			return apperrors.Wrap(err, "handlers.DeleteCapture", "failed to delete artifact")
		}
	}
	if err := h.captures.Delete(ctx, c.ID); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
