package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ryanbastic/go-dashboards/internal/dashboard"
	"github.com/ryanbastic/go-dashboards/internal/storage"
	"github.com/ryanbastic/go-dashboards/internal/widget"
)

var hydratedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeService is an in-memory DashboardService. When err is set every
// call fails with it. Hydration writes a fixed payload.
type fakeService struct {
	mu         sync.Mutex
	dashboards map[uuid.UUID]*widget.Dashboard
	err        error
}

func newFakeService() *fakeService {
	return &fakeService{dashboards: make(map[uuid.UUID]*widget.Dashboard)}
}

func (f *fakeService) seed(d widget.Dashboard) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Widgets == nil {
		d.Widgets = []widget.Widget{}
	}
	d.Version = 1
	f.dashboards[d.ID] = &d
	return d.ID
}

func (f *fakeService) lookup(id uuid.UUID) (*widget.Dashboard, error) {
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.dashboards[id]
	if !ok {
		return nil, storage.ErrDashboardNotFound
	}
	return d, nil
}

func hydrated(w widget.Widget) widget.Widget {
	if !w.NeedsHydration() {
		return w
	}
	t := hydratedAt
	w.Data = json.RawMessage(`{"values":[1,2]}`)
	w.LastFetched = &t
	w.FetchError = ""
	return w
}

func (f *fakeService) Create(_ context.Context, in dashboard.CreateInput) (*widget.Dashboard, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, w := range in.Widgets {
		if err := w.Validate(); err != nil {
			return nil, err
		}
	}
	id := f.seed(widget.Dashboard{OwnerID: in.OwnerID, Name: in.Name, Description: in.Description, Widgets: in.Widgets})
	return f.Get(context.Background(), id)
}

func (f *fakeService) Get(_ context.Context, id uuid.UUID) (*widget.Dashboard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	out := *d
	return &out, nil
}

func (f *fakeService) List(_ context.Context, ownerID, cursor string, _ int) (*storage.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if cursor != "" {
		if _, err := storage.DecodeCursor(cursor); err != nil {
			return nil, err
		}
	}
	page := &storage.Page{Dashboards: []widget.Dashboard{}}
	for _, d := range f.dashboards {
		if ownerID == "" || d.OwnerID == ownerID {
			page.Dashboards = append(page.Dashboards, *d)
		}
	}
	return page, nil
}

func (f *fakeService) UpdateMeta(_ context.Context, id uuid.UUID, upd storage.MetaUpdate) (*widget.Dashboard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		d.Name = *upd.Name
	}
	if upd.Description != nil {
		d.Description = *upd.Description
	}
	out := *d
	return &out, nil
}

func (f *fakeService) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.lookup(id); err != nil {
		return err
	}
	delete(f.dashboards, id)
	return nil
}

func (f *fakeService) AddWidget(_ context.Context, id uuid.UUID, w widget.Widget) (*widget.Widget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	d.Widgets = append(d.Widgets, w)
	return &w, nil
}

func (f *fakeService) UpdateWidget(_ context.Context, id uuid.UUID, widgetID string, w widget.Widget) (*widget.Widget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	i := d.Find(widgetID)
	if i < 0 {
		return nil, dashboard.ErrWidgetNotFound
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	w.ID = widgetID
	d.Widgets[i] = w
	return &w, nil
}

func (f *fakeService) DeleteWidget(_ context.Context, id uuid.UUID, widgetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.lookup(id)
	if err != nil {
		return err
	}
	i := d.Find(widgetID)
	if i < 0 {
		return dashboard.ErrWidgetNotFound
	}
	d.Widgets = append(d.Widgets[:i], d.Widgets[i+1:]...)
	return nil
}

func (f *fakeService) ReplaceWidgets(_ context.Context, id uuid.UUID, ws []widget.Widget) (*widget.Dashboard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	for _, w := range ws {
		if err := w.Validate(); err != nil {
			return nil, err
		}
	}
	d.Widgets = ws
	d.Version++
	out := *d
	return &out, nil
}

func (f *fakeService) Refresh(_ context.Context, id uuid.UUID) (*widget.Dashboard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	for i := range d.Widgets {
		d.Widgets[i] = hydrated(d.Widgets[i])
	}
	out := *d
	return &out, nil
}

func (f *fakeService) RefreshWidget(_ context.Context, id uuid.UUID, widgetID string) (*widget.Widget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	i := d.Find(widgetID)
	if i < 0 {
		return nil, dashboard.ErrWidgetNotFound
	}
	d.Widgets[i] = hydrated(d.Widgets[i])
	out := d.Widgets[i]
	return &out, nil
}

func (f *fakeService) Preview(_ context.Context, w widget.Widget) (*widget.Widget, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	out := hydrated(w)
	return &out, nil
}

func (f *fakeService) RenderMarkdown(_ context.Context, id uuid.UUID, widgetID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.lookup(id)
	if err != nil {
		return "", err
	}
	i := d.Find(widgetID)
	if i < 0 {
		return "", dashboard.ErrWidgetNotFound
	}
	if d.Widgets[i].Type != widget.TypeMarkdown {
		return "", dashboard.ErrNotRenderable
	}
	return "<h1>Report</h1>\n", nil
}
