package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ryanbastic/go-dashboards/internal/dashboard"
	"github.com/ryanbastic/go-dashboards/internal/storage"
	"github.com/ryanbastic/go-dashboards/internal/widget"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// toHTTPError maps service errors onto huma status errors. Anything
// unrecognised is logged and reported as a bare 500.
func toHTTPError(logger *slog.Logger, op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrDashboardNotFound), errors.Is(err, dashboard.ErrWidgetNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, storage.ErrVersionConflict):
		return huma.Error409Conflict("dashboard was modified concurrently, retry the request")
	case errors.Is(err, storage.ErrInvalidCursor):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, widget.ErrInvalidWidget),
		errors.Is(err, dashboard.ErrInvalidDashboard),
		errors.Is(err, dashboard.ErrNotRenderable):
		return huma.Error422UnprocessableEntity(err.Error())
	}
	logger.Error(op+" failed", "error", err)
	return huma.Error500InternalServerError("internal error")
}
