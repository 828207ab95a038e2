package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ryanbastic/go-dashboards/internal/hydrate"
	"github.com/ryanbastic/go-dashboards/internal/widget"
)

// --- Huma Input/Output types ---

type DataSourceBody struct {
	DatasourceID string `json:"datasourceId" doc:"Data source connection id" minLength:"1"`
	Query        string `json:"query" doc:"Query in the data source's native language" minLength:"1"`
}

// WidgetBody is a widget definition as sent by clients. Server-managed
// fields such as timestamps are accepted and ignored so a fetched widget can
// be sent back unchanged.
type WidgetBody struct {
	_          struct{}        `json:"-" additionalProperties:"true"`
	ID         string          `json:"id,omitempty" doc:"Widget id; generated when empty"`
	Type       string          `json:"type" doc:"Widget type" enum:"chart,table,markdown,query"`
	Title      string          `json:"title,omitempty" doc:"Display title"`
	Position   *int            `json:"position,omitempty" doc:"Display order; omitted places the widget after the others" minimum:"0"`
	IsDynamic  bool            `json:"isDynamic,omitempty" doc:"Whether data is produced by a query"`
	DataSource *DataSourceBody `json:"dataSource,omitempty" doc:"Query to run for dynamic widgets"`
	Template   json.RawMessage `json:"template,omitempty" doc:"JSON document with {{column}} placeholders"`
	Data       json.RawMessage `json:"data,omitempty" doc:"Payload for static widgets"`
}

func (b WidgetBody) toWidget() widget.Widget {
	w := widget.Widget{
		ID:        b.ID,
		Type:      widget.Type(b.Type),
		Title:     b.Title,
		Position:  widget.AppendPosition,
		IsDynamic: b.IsDynamic,
		Template:  b.Template,
		Data:      b.Data,
	}
	if b.Position != nil {
		w.Position = *b.Position
	}
	if b.DataSource != nil {
		w.DataSource = &widget.DataSource{
			DatasourceID: b.DataSource.DatasourceID,
			Query:        b.DataSource.Query,
		}
	}
	return w
}

type WidgetOutput struct {
	Body widget.Widget
}

type ReplaceWidgetsInput struct {
	ID   string `path:"id" doc:"Dashboard UUID" format:"uuid"`
	Body []WidgetBody
}

type AddWidgetInput struct {
	ID   string `path:"id" doc:"Dashboard UUID" format:"uuid"`
	Body WidgetBody
}

type UpdateWidgetInput struct {
	ID       string `path:"id" doc:"Dashboard UUID" format:"uuid"`
	WidgetID string `path:"widget_id" doc:"Widget id"`
	Body     WidgetBody
}

type WidgetRefInput struct {
	ID       string `path:"id" doc:"Dashboard UUID" format:"uuid"`
	WidgetID string `path:"widget_id" doc:"Widget id"`
}

type PreviewWidgetInput struct {
	Body WidgetBody
}

// WidgetPreview is a hydrated widget plus the placeholders its template uses.
type WidgetPreview struct {
	widget.Widget
	Placeholders []string `json:"placeholders" doc:"Placeholder names in the template, in document order"`
}

type PreviewWidgetOutput struct {
	Body WidgetPreview
}

type WidgetHTMLOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// --- Handler ---

type WidgetHandler struct {
	svc    DashboardService
	logger *slog.Logger
}

func NewWidgetHandler(svc DashboardService, logger *slog.Logger) *WidgetHandler {
	return &WidgetHandler{svc: svc, logger: logger}
}

func registerWidgetRoutes(api huma.API, h *WidgetHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "replace-widgets",
		Method:      http.MethodPut,
		Path:        "/v1/dashboards/{id}/widgets",
		Summary:     "Replace the whole widget array",
		Tags:        []string{"widgets"},
	}, h.ReplaceWidgets)

	huma.Register(api, huma.Operation{
		OperationID:   "add-widget",
		Method:        http.MethodPost,
		Path:          "/v1/dashboards/{id}/widgets",
		Summary:       "Add a widget",
		Tags:          []string{"widgets"},
		DefaultStatus: http.StatusCreated,
	}, h.AddWidget)

	huma.Register(api, huma.Operation{
		OperationID: "update-widget",
		Method:      http.MethodPut,
		Path:        "/v1/dashboards/{id}/widgets/{widget_id}",
		Summary:     "Update a widget definition",
		Tags:        []string{"widgets"},
	}, h.UpdateWidget)

	huma.Register(api, huma.Operation{
		OperationID:   "delete-widget",
		Method:        http.MethodDelete,
		Path:          "/v1/dashboards/{id}/widgets/{widget_id}",
		Summary:       "Delete a widget",
		Tags:          []string{"widgets"},
		DefaultStatus: http.StatusNoContent,
	}, h.DeleteWidget)

	huma.Register(api, huma.Operation{
		OperationID: "refresh-widget",
		Method:      http.MethodPost,
		Path:        "/v1/dashboards/{id}/widgets/{widget_id}/refresh",
		Summary:     "Hydrate one widget and persist the result",
		Tags:        []string{"widgets"},
	}, h.RefreshWidget)

	huma.Register(api, huma.Operation{
		OperationID: "render-widget-html",
		Method:      http.MethodGet,
		Path:        "/v1/dashboards/{id}/widgets/{widget_id}/html",
		Summary:     "Render a markdown widget as HTML",
		Tags:        []string{"widgets"},
	}, h.RenderHTML)

	huma.Register(api, huma.Operation{
		OperationID: "preview-widget",
		Method:      http.MethodPost,
		Path:        "/v1/widgets/preview",
		Summary:     "Hydrate an unsaved widget definition",
		Tags:        []string{"widgets"},
	}, h.PreviewWidget)
}

func (h *WidgetHandler) ReplaceWidgets(ctx context.Context, input *ReplaceWidgetsInput) (*DashboardOutput, error) {
	id, err := parseDashboardID(input.ID)
	if err != nil {
		return nil, err
	}
	ws := make([]widget.Widget, len(input.Body))
	for i, b := range input.Body {
		ws[i] = b.toWidget()
	}
	d, err := h.svc.ReplaceWidgets(ctx, id, ws)
	if err != nil {
		return nil, toHTTPError(h.logger, "replace widgets", err)
	}
	return &DashboardOutput{Body: *d}, nil
}

func (h *WidgetHandler) AddWidget(ctx context.Context, input *AddWidgetInput) (*WidgetOutput, error) {
	id, err := parseDashboardID(input.ID)
	if err != nil {
		return nil, err
	}
	w, err := h.svc.AddWidget(ctx, id, input.Body.toWidget())
	if err != nil {
		return nil, toHTTPError(h.logger, "add widget", err)
	}
	h.logger.Info("widget added", "dashboard_id", id, "widget_id", w.ID, "type", w.Type)
	return &WidgetOutput{Body: *w}, nil
}

func (h *WidgetHandler) UpdateWidget(ctx context.Context, input *UpdateWidgetInput) (*WidgetOutput, error) {
	id, err := parseDashboardID(input.ID)
	if err != nil {
		return nil, err
	}
	w, err := h.svc.UpdateWidget(ctx, id, input.WidgetID, input.Body.toWidget())
	if err != nil {
		return nil, toHTTPError(h.logger, "update widget", err)
	}
	return &WidgetOutput{Body: *w}, nil
}

func (h *WidgetHandler) DeleteWidget(ctx context.Context, input *WidgetRefInput) (*struct{}, error) {
	id, err := parseDashboardID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.svc.DeleteWidget(ctx, id, input.WidgetID); err != nil {
		return nil, toHTTPError(h.logger, "delete widget", err)
	}
	h.logger.Info("widget deleted", "dashboard_id", id, "widget_id", input.WidgetID)
	return nil, nil
}

func (h *WidgetHandler) RefreshWidget(ctx context.Context, input *WidgetRefInput) (*WidgetOutput, error) {
	id, err := parseDashboardID(input.ID)
	if err != nil {
		return nil, err
	}
	w, err := h.svc.RefreshWidget(ctx, id, input.WidgetID)
	if err != nil {
		return nil, toHTTPError(h.logger, "refresh widget", err)
	}
	return &WidgetOutput{Body: *w}, nil
}

func (h *WidgetHandler) RenderHTML(ctx context.Context, input *WidgetRefInput) (*WidgetHTMLOutput, error) {
	id, err := parseDashboardID(input.ID)
	if err != nil {
		return nil, err
	}
	html, err := h.svc.RenderMarkdown(ctx, id, input.WidgetID)
	if err != nil {
		return nil, toHTTPError(h.logger, "render widget", err)
	}
	return &WidgetHTMLOutput{ContentType: "text/html; charset=utf-8", Body: []byte(html)}, nil
}

func (h *WidgetHandler) PreviewWidget(ctx context.Context, input *PreviewWidgetInput) (*PreviewWidgetOutput, error) {
	w, err := h.svc.Preview(ctx, input.Body.toWidget())
	if err != nil {
		return nil, toHTTPError(h.logger, "preview widget", err)
	}

	names := []string{}
	if len(input.Body.Template) > 0 {
		found, err := hydrate.Placeholders(input.Body.Template)
		if err != nil {
			return nil, toHTTPError(h.logger, "preview widget", fmt.Errorf("%w: %w", widget.ErrInvalidWidget, err))
		}
		names = append(names, found...)
	}
	return &PreviewWidgetOutput{Body: WidgetPreview{Widget: *w, Placeholders: names}}, nil
}
