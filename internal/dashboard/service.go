package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/ryanbastic/go-dashboards/internal/storage"
	"github.com/ryanbastic/go-dashboards/internal/widget"
)

var (
	// ErrInvalidDashboard is returned for dashboard metadata that cannot be stored.
	ErrInvalidDashboard = errors.New("invalid dashboard")
	// ErrWidgetNotFound is returned when a dashboard has no widget with the given id.
	ErrWidgetNotFound = errors.New("widget not found")
	// ErrNotRenderable is returned when a widget has no markdown content to render.
	ErrNotRenderable = errors.New("widget has no markdown content")
)

// maxSaveAttempts bounds read-modify-write retries on version conflicts.
const maxSaveAttempts = 3

// Hydrator refreshes dynamic widgets.
type Hydrator interface {
	HydrateWidget(ctx context.Context, w widget.Widget) widget.Widget
	HydrateAll(ctx context.Context, ws []widget.Widget) []widget.Widget
}

// Service owns dashboard mutations and decides when widgets are hydrated
// and persisted.
type Service struct {
	store    storage.DashboardStore
	hydrator Hydrator
	logger   *slog.Logger
	markdown goldmark.Markdown
	now      func() time.Time
}

func NewService(store storage.DashboardStore, hydrator Hydrator, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		hydrator: hydrator,
		logger:   logger,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		now:      time.Now,
	}
}

// CreateInput is the definition of a new dashboard.
type CreateInput struct {
	OwnerID     string
	Name        string
	Description string
	Widgets     []widget.Widget
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*widget.Dashboard, error) {
	if in.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner_id is required", ErrInvalidDashboard)
	}
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidDashboard)
	}

	ws, err := s.prepareAll(in.Widgets, nil)
	if err != nil {
		return nil, err
	}

	d, err := s.store.CreateDashboard(ctx, &widget.Dashboard{
		ID:          uuid.New(),
		OwnerID:     in.OwnerID,
		Name:        in.Name,
		Description: in.Description,
		Widgets:     ws,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("dashboard created", "dashboard_id", d.ID, "owner_id", d.OwnerID, "widgets", len(d.Widgets))
	return d, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*widget.Dashboard, error) {
	return s.store.GetDashboard(ctx, id)
}

func (s *Service) List(ctx context.Context, ownerID, cursor string, limit int) (*storage.Page, error) {
	return s.store.ListDashboards(ctx, ownerID, cursor, limit)
}

func (s *Service) UpdateMeta(ctx context.Context, id uuid.UUID, upd storage.MetaUpdate) (*widget.Dashboard, error) {
	if upd.Name != nil && *upd.Name == "" {
		return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidDashboard)
	}
	return s.store.UpdateDashboard(ctx, id, upd)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteDashboard(ctx, id); err != nil {
		return err
	}
	s.logger.Info("dashboard deleted", "dashboard_id", id)
	return nil
}

// AddWidget adds w to the dashboard. A missing id is generated and a
// negative position places the widget after the existing ones.
func (s *Service) AddWidget(ctx context.Context, id uuid.UUID, w widget.Widget) (*widget.Widget, error) {
	var added widget.Widget
	_, err := s.mutate(ctx, id, func(d *widget.Dashboard) error {
		if w.ID != "" && d.Find(w.ID) >= 0 {
			return fmt.Errorf("%w: duplicate widget id %q", widget.ErrInvalidWidget, w.ID)
		}
		nw := w.Clone()
		if nw.Position < 0 {
			nw.Position = d.NextPosition()
		}
		if err := s.prepare(&nw, nil); err != nil {
			return err
		}
		d.Widgets = append(d.Widgets, nw)
		widget.SortByPosition(d.Widgets)
		added = nw
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &added, nil
}

// UpdateWidget replaces the definition of an existing widget. The id and
// created_at are kept, as is the position when w's is negative. Cached data
// survives unless the update carries its own.
func (s *Service) UpdateWidget(ctx context.Context, id uuid.UUID, widgetID string, w widget.Widget) (*widget.Widget, error) {
	var updated widget.Widget
	_, err := s.mutate(ctx, id, func(d *widget.Dashboard) error {
		i := d.Find(widgetID)
		if i < 0 {
			return ErrWidgetNotFound
		}
		prev := d.Widgets[i]
		nw := w.Clone()
		nw.ID = widgetID
		if nw.Position < 0 {
			nw.Position = prev.Position
		}
		if len(nw.Data) == 0 {
			nw.Data = prev.Data
			nw.LastFetched = prev.LastFetched
			nw.FetchError = prev.FetchError
		}
		if err := s.prepare(&nw, &prev); err != nil {
			return err
		}
		d.Widgets[i] = nw
		widget.SortByPosition(d.Widgets)
		updated = nw
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Service) DeleteWidget(ctx context.Context, id uuid.UUID, widgetID string) error {
	_, err := s.mutate(ctx, id, func(d *widget.Dashboard) error {
		i := d.Find(widgetID)
		if i < 0 {
			return ErrWidgetNotFound
		}
		d.Widgets = append(d.Widgets[:i], d.Widgets[i+1:]...)
		return nil
	})
	return err
}

// ReplaceWidgets swaps in a whole new widget array. Widgets whose id already
// exists keep their created_at.
func (s *Service) ReplaceWidgets(ctx context.Context, id uuid.UUID, ws []widget.Widget) (*widget.Dashboard, error) {
	return s.mutate(ctx, id, func(d *widget.Dashboard) error {
		next, err := s.prepareAll(ws, d.Widgets)
		if err != nil {
			return err
		}
		d.Widgets = next
		return nil
	})
}

// Refresh hydrates every dynamic widget and persists the outcomes. Results
// are merged by widget id into the latest stored dashboard, so widgets
// added or removed while queries ran are respected.
func (s *Service) Refresh(ctx context.Context, id uuid.UUID) (*widget.Dashboard, error) {
	d, err := s.store.GetDashboard(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.HasDynamic() {
		return d, nil
	}

	hydrated := s.hydrator.HydrateAll(ctx, d.Widgets)
	results := make(map[string]widget.Widget, len(hydrated))
	failed := 0
	for _, w := range hydrated {
		if w.NeedsHydration() {
			results[w.ID] = w
			if w.FetchError != "" {
				failed++
			}
		}
	}

	saved, err := s.mutate(ctx, id, func(cur *widget.Dashboard) error {
		for i := range cur.Widgets {
			if h, ok := results[cur.Widgets[i].ID]; ok {
				mergeHydration(&cur.Widgets[i], h)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("dashboard refreshed", "dashboard_id", id, "hydrated", len(results), "failed", failed)
	return saved, nil
}

// RefreshWidget hydrates and persists a single widget.
func (s *Service) RefreshWidget(ctx context.Context, id uuid.UUID, widgetID string) (*widget.Widget, error) {
	d, err := s.store.GetDashboard(ctx, id)
	if err != nil {
		return nil, err
	}
	i := d.Find(widgetID)
	if i < 0 {
		return nil, ErrWidgetNotFound
	}
	if !d.Widgets[i].NeedsHydration() {
		w := d.Widgets[i]
		return &w, nil
	}

	h := s.hydrator.HydrateWidget(ctx, d.Widgets[i])

	var out widget.Widget
	_, err = s.mutate(ctx, id, func(cur *widget.Dashboard) error {
		j := cur.Find(widgetID)
		if j < 0 {
			return ErrWidgetNotFound
		}
		mergeHydration(&cur.Widgets[j], h)
		out = cur.Widgets[j]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Preview hydrates a widget definition without storing it.
func (s *Service) Preview(ctx context.Context, w widget.Widget) (*widget.Widget, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if w.Position < 0 {
		w.Position = 0
	}
	out := s.hydrator.HydrateWidget(ctx, w.Clone())
	return &out, nil
}

// RenderMarkdown renders the content of a markdown widget as HTML.
func (s *Service) RenderMarkdown(ctx context.Context, id uuid.UUID, widgetID string) (string, error) {
	d, err := s.store.GetDashboard(ctx, id)
	if err != nil {
		return "", err
	}
	i := d.Find(widgetID)
	if i < 0 {
		return "", ErrWidgetNotFound
	}
	return s.renderMarkdown(d.Widgets[i])
}

// mutate runs a read-modify-write of the widget array, retrying when another
// writer saved in between.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(d *widget.Dashboard) error) (*widget.Dashboard, error) {
	for attempt := 1; ; attempt++ {
		d, err := s.store.GetDashboard(ctx, id)
		if err != nil {
			return nil, err
		}
		d.Widgets = cloneWidgets(d.Widgets)
		if err := fn(d); err != nil {
			return nil, err
		}

		saved, err := s.store.SaveWidgets(ctx, id, d.Version, d.Widgets)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) || attempt >= maxSaveAttempts {
			return nil, err
		}
		s.logger.Debug("version conflict, retrying", "dashboard_id", id, "attempt", attempt)
	}
}

// prepareAll validates and stamps a full widget array. prev supplies
// created_at for ids that already exist. Widgets with a negative position
// follow the positioned ones, in input order.
func (s *Service) prepareAll(ws, prev []widget.Widget) ([]widget.Widget, error) {
	byID := make(map[string]*widget.Widget, len(prev))
	for i := range prev {
		byID[prev[i].ID] = &prev[i]
	}
	next := (&widget.Dashboard{Widgets: ws}).NextPosition()

	out := make([]widget.Widget, 0, len(ws))
	seen := make(map[string]bool, len(ws))
	for _, w := range ws {
		nw := w.Clone()
		if nw.Position < 0 {
			nw.Position = next
			next++
		}
		if nw.ID != "" {
			if seen[nw.ID] {
				return nil, fmt.Errorf("%w: duplicate widget id %q", widget.ErrInvalidWidget, nw.ID)
			}
			seen[nw.ID] = true
		}
		if err := s.prepare(&nw, byID[nw.ID]); err != nil {
			return nil, err
		}
		out = append(out, nw)
	}
	widget.SortByPosition(out)
	return out, nil
}

// prepare validates w and sets its id and timestamps.
func (s *Service) prepare(w *widget.Widget, prev *widget.Widget) error {
	if err := w.Validate(); err != nil {
		return err
	}
	now := s.now().UTC()
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if prev != nil {
		w.CreatedAt = prev.CreatedAt
	} else {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	if !w.IsDynamic {
		w.LastFetched = nil
		w.FetchError = ""
	}
	return nil
}

func cloneWidgets(ws []widget.Widget) []widget.Widget {
	out := make([]widget.Widget, len(ws))
	for i := range ws {
		out[i] = ws[i].Clone()
	}
	return out
}

// mergeHydration copies the outcome of h onto w, provided w still has the
// definition h was hydrated from.
func mergeHydration(w *widget.Widget, h widget.Widget) {
	if !sameDefinition(*w, h) {
		return
	}
	w.Data = h.Data
	w.LastFetched = h.LastFetched
	w.FetchError = h.FetchError
}

func sameDefinition(a, b widget.Widget) bool {
	if a.Type != b.Type || a.IsDynamic != b.IsDynamic || string(a.Template) != string(b.Template) {
		return false
	}
	if a.DataSource == nil || b.DataSource == nil {
		return a.DataSource == b.DataSource
	}
	return *a.DataSource == *b.DataSource
}
