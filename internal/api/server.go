package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ryanbastic/go-dashboards/internal/dashboard"
	"github.com/ryanbastic/go-dashboards/internal/metrics"
	"github.com/ryanbastic/go-dashboards/internal/storage"
	"github.com/ryanbastic/go-dashboards/internal/widget"
)

// DashboardService is the dashboard behaviour the HTTP layer exposes.
// It is satisfied by *dashboard.Service.
type DashboardService interface {
	Create(ctx context.Context, in dashboard.CreateInput) (*widget.Dashboard, error)
	Get(ctx context.Context, id uuid.UUID) (*widget.Dashboard, error)
	List(ctx context.Context, ownerID, cursor string, limit int) (*storage.Page, error)
	UpdateMeta(ctx context.Context, id uuid.UUID, upd storage.MetaUpdate) (*widget.Dashboard, error)
	Delete(ctx context.Context, id uuid.UUID) error

	AddWidget(ctx context.Context, id uuid.UUID, w widget.Widget) (*widget.Widget, error)
	UpdateWidget(ctx context.Context, id uuid.UUID, widgetID string, w widget.Widget) (*widget.Widget, error)
	DeleteWidget(ctx context.Context, id uuid.UUID, widgetID string) error
	ReplaceWidgets(ctx context.Context, id uuid.UUID, ws []widget.Widget) (*widget.Dashboard, error)

	Refresh(ctx context.Context, id uuid.UUID) (*widget.Dashboard, error)
	RefreshWidget(ctx context.Context, id uuid.UUID, widgetID string) (*widget.Widget, error)
	Preview(ctx context.Context, w widget.Widget) (*widget.Widget, error)
	RenderMarkdown(ctx context.Context, id uuid.UUID, widgetID string) (string, error)
}

// NewServer creates an HTTP server with all routes configured. deps are
// pinged by the readiness probe.
func NewServer(logger *slog.Logger, svc DashboardService, deps map[string]Pinger) http.Handler {
	mux := chi.NewRouter()

	mux.Use(RequestID)
	mux.Use(Logging(logger))
	mux.Use(Recovery(logger))
	mux.Use(metrics.Instrument)

	api := humachi.New(mux, huma.DefaultConfig("Dashboards API", "1.0.0"))

	registerDashboardRoutes(api, NewDashboardHandler(svc, logger))
	registerWidgetRoutes(api, NewWidgetHandler(svc, logger))

	health := NewHealthHandler(deps, logger)
	mux.Get("/v1/livez", health.Livez)
	mux.Get("/v1/readyz", health.Readyz)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}
