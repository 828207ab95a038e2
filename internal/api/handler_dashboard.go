package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/ryanbastic/go-dashboards/internal/dashboard"
	"github.com/ryanbastic/go-dashboards/internal/storage"
	"github.com/ryanbastic/go-dashboards/internal/widget"
)

// --- Huma Input/Output types ---

type CreateDashboardBody struct {
	OwnerID     string       `json:"owner_id" doc:"Owning principal" minLength:"1"`
	Name        string       `json:"name" doc:"Dashboard name" minLength:"1"`
	Description string       `json:"description,omitempty" doc:"Free-form description"`
	Widgets     []WidgetBody `json:"widgets,omitempty" doc:"Initial widgets"`
}

type CreateDashboardInput struct {
	Body CreateDashboardBody
}

type DashboardOutput struct {
	Body widget.Dashboard
}

type ListDashboardsInput struct {
	OwnerID string `query:"owner_id" doc:"Only list dashboards of this owner"`
	Cursor  string `query:"cursor" doc:"Pagination cursor from a previous page"`
	Limit   int    `query:"limit" doc:"Page size" minimum:"1" maximum:"200" default:"50"`
}

type DashboardPage struct {
	Dashboards []widget.Dashboard `json:"dashboards" doc:"Dashboards on this page"`
	NextCursor string             `json:"next_cursor,omitempty" doc:"Cursor for the next page; absent on the last page"`
}

type ListDashboardsOutput struct {
	Body DashboardPage
}

type GetDashboardInput struct {
	ID      string `path:"id" doc:"Dashboard UUID" format:"uuid"`
	Refresh bool   `query:"refresh" doc:"Hydrate dynamic widgets before returning"`
}

type UpdateDashboardBody struct {
	Name        *string `json:"name,omitempty" doc:"New name" minLength:"1"`
	Description *string `json:"description,omitempty" doc:"New description"`
}

type UpdateDashboardInput struct {
	ID   string `path:"id" doc:"Dashboard UUID" format:"uuid"`
	Body UpdateDashboardBody
}

type DashboardIDInput struct {
	ID string `path:"id" doc:"Dashboard UUID" format:"uuid"`
}

// --- Handler ---

type DashboardHandler struct {
	svc    DashboardService
	logger *slog.Logger
}

func NewDashboardHandler(svc DashboardService, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{svc: svc, logger: logger}
}

func registerDashboardRoutes(api huma.API, h *DashboardHandler) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-dashboard",
		Method:        http.MethodPost,
		Path:          "/v1/dashboards",
		Summary:       "Create a dashboard",
		Tags:          []string{"dashboards"},
		DefaultStatus: http.StatusCreated,
	}, h.CreateDashboard)

	huma.Register(api, huma.Operation{
		OperationID: "list-dashboards",
		Method:      http.MethodGet,
		Path:        "/v1/dashboards",
		Summary:     "List dashboards",
		Tags:        []string{"dashboards"},
	}, h.ListDashboards)

	huma.Register(api, huma.Operation{
		OperationID: "get-dashboard",
		Method:      http.MethodGet,
		Path:        "/v1/dashboards/{id}",
		Summary:     "Get a dashboard, optionally refreshing dynamic widgets",
		Tags:        []string{"dashboards"},
	}, h.GetDashboard)

	huma.Register(api, huma.Operation{
		OperationID: "update-dashboard",
		Method:      http.MethodPatch,
		Path:        "/v1/dashboards/{id}",
		Summary:     "Update dashboard name or description",
		Tags:        []string{"dashboards"},
	}, h.UpdateDashboard)

	huma.Register(api, huma.Operation{
		OperationID:   "delete-dashboard",
		Method:        http.MethodDelete,
		Path:          "/v1/dashboards/{id}",
		Summary:       "Delete a dashboard",
		Tags:          []string{"dashboards"},
		DefaultStatus: http.StatusNoContent,
	}, h.DeleteDashboard)

	huma.Register(api, huma.Operation{
		OperationID: "refresh-dashboard",
		Method:      http.MethodPost,
		Path:        "/v1/dashboards/{id}/refresh",
		Summary:     "Hydrate all dynamic widgets and persist the results",
		Tags:        []string{"dashboards"},
	}, h.RefreshDashboard)
}

func (h *DashboardHandler) CreateDashboard(ctx context.Context, input *CreateDashboardInput) (*DashboardOutput, error) {
	ws := make([]widget.Widget, len(input.Body.Widgets))
	for i, b := range input.Body.Widgets {
		ws[i] = b.toWidget()
	}

	d, err := h.svc.Create(ctx, dashboard.CreateInput{
		OwnerID:     input.Body.OwnerID,
		Name:        input.Body.Name,
		Description: input.Body.Description,
		Widgets:     ws,
	})
	if err != nil {
		return nil, toHTTPError(h.logger, "create dashboard", err)
	}
	return &DashboardOutput{Body: *d}, nil
}

func (h *DashboardHandler) ListDashboards(ctx context.Context, input *ListDashboardsInput) (*ListDashboardsOutput, error) {
	page, err := h.svc.List(ctx, input.OwnerID, input.Cursor, input.Limit)
	if err != nil {
		return nil, toHTTPError(h.logger, "list dashboards", err)
	}
	return &ListDashboardsOutput{Body: DashboardPage{
		Dashboards: page.Dashboards,
		NextCursor: page.NextCursor,
	}}, nil
}

func (h *DashboardHandler) GetDashboard(ctx context.Context, input *GetDashboardInput) (*DashboardOutput, error) {
	id, err := parseDashboardID(input.ID)
	if err != nil {
		return nil, err
	}

	var d *widget.Dashboard
	if input.Refresh {
		start := time.Now()
		d, err = h.svc.Refresh(ctx, id)
		if err == nil {
			h.logger.Debug("dashboard refreshed on read", "dashboard_id", id, "duration", time.Since(start))
		}
	} else {
		d, err = h.svc.Get(ctx, id)
	}
	if err != nil {
		return nil, toHTTPError(h.logger, "get dashboard", err)
	}
	return &DashboardOutput{Body: *d}, nil
}

func (h *DashboardHandler) UpdateDashboard(ctx context.Context, input *UpdateDashboardInput) (*DashboardOutput, error) {
	id, err := parseDashboardID(input.ID)
	if err != nil {
		return nil, err
	}
	d, err := h.svc.UpdateMeta(ctx, id, storage.MetaUpdate{
		Name:        input.Body.Name,
		Description: input.Body.Description,
	})
	if err != nil {
		return nil, toHTTPError(h.logger, "update dashboard", err)
	}
	return &DashboardOutput{Body: *d}, nil
}

func (h *DashboardHandler) DeleteDashboard(ctx context.Context, input *DashboardIDInput) (*struct{}, error) {
	id, err := parseDashboardID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.svc.Delete(ctx, id); err != nil {
		return nil, toHTTPError(h.logger, "delete dashboard", err)
	}
	return nil, nil
}

func (h *DashboardHandler) RefreshDashboard(ctx context.Context, input *DashboardIDInput) (*DashboardOutput, error) {
	id, err := parseDashboardID(input.ID)
	if err != nil {
		return nil, err
	}
	d, err := h.svc.Refresh(ctx, id)
	if err != nil {
		return nil, toHTTPError(h.logger, "refresh dashboard", err)
	}
	return &DashboardOutput{Body: *d}, nil
}

func parseDashboardID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, huma.Error400BadRequest("invalid dashboard id")
	}
	return id, nil
}
