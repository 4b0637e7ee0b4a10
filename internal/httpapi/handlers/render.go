package handlers

import (
	"net/http"

	"serenity/internal/httpkit"
	apperrors "serenity/internal/pkg/errors"
	"serenity/internal/renderer"
)

// Render proxies one render request and writes the provider payload as-is:
// image or PDF bytes, HTML, or scrape JSON.
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) error {
	var req renderer.Request
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return apperrors.Wrap(err, "handlers.Render", err.Error())
	}

	res, err := h.renderer.Render(r.Context(), req)
	if err != nil {
		return err
	}

	httpkit.WriteBytes(w, http.StatusOK, res.ContentType, res.Body)
	return nil
}
