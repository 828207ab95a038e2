package dashboard

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ryanbastic/go-dashboards/internal/storage"
	"github.com/ryanbastic/go-dashboards/internal/widget"
)

// memStore is an in-memory storage.DashboardStore with the same version
// semantics as the Postgres store.
type memStore struct {
	mu         sync.Mutex
	dashboards map[uuid.UUID]widget.Dashboard
	saves      int
	// beforeSave runs inside SaveWidgets before the version check.
	beforeSave func(id uuid.UUID)
}

func newMemStore() *memStore {
	return &memStore{dashboards: make(map[uuid.UUID]widget.Dashboard)}
}

func copyDashboard(d widget.Dashboard) *widget.Dashboard {
	d.Widgets = cloneWidgets(d.Widgets)
	return &d
}

func (m *memStore) CreateDashboard(_ context.Context, d *widget.Dashboard) (*widget.Dashboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *copyDashboard(*d)
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.Widgets == nil {
		stored.Widgets = []widget.Widget{}
	}
	stored.Version = 1
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	m.dashboards[stored.ID] = stored
	return copyDashboard(stored), nil
}

func (m *memStore) GetDashboard(_ context.Context, id uuid.UUID) (*widget.Dashboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dashboards[id]
	if !ok {
		return nil, storage.ErrDashboardNotFound
	}
	return copyDashboard(d), nil
}

func (m *memStore) ListDashboards(_ context.Context, ownerID, _ string, limit int) (*storage.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := &storage.Page{Dashboards: []widget.Dashboard{}}
	for _, d := range m.dashboards {
		if ownerID == "" || d.OwnerID == ownerID {
			page.Dashboards = append(page.Dashboards, *copyDashboard(d))
		}
	}
	sort.Slice(page.Dashboards, func(i, j int) bool {
		return page.Dashboards[i].ID.String() < page.Dashboards[j].ID.String()
	})
	if limit > 0 && len(page.Dashboards) > limit {
		page.Dashboards = page.Dashboards[:limit]
		page.NextCursor = "more"
	}
	return page, nil
}

func (m *memStore) UpdateDashboard(_ context.Context, id uuid.UUID, upd storage.MetaUpdate) (*widget.Dashboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dashboards[id]
	if !ok {
		return nil, storage.ErrDashboardNotFound
	}
	if upd.Name != nil {
		d.Name = *upd.Name
	}
	if upd.Description != nil {
		d.Description = *upd.Description
	}
	d.Version++
	d.UpdatedAt = time.Now().UTC()
	m.dashboards[id] = d
	return copyDashboard(d), nil
}

func (m *memStore) SaveWidgets(_ context.Context, id uuid.UUID, expectedVersion int, ws []widget.Widget) (*widget.Dashboard, error) {
	if m.beforeSave != nil {
		m.beforeSave(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dashboards[id]
	if !ok {
		return nil, storage.ErrDashboardNotFound
	}
	if d.Version != expectedVersion {
		return nil, storage.ErrVersionConflict
	}
	m.saves++
	d.Widgets = cloneWidgets(ws)
	widget.SortByPosition(d.Widgets)
	d.Version++
	d.UpdatedAt = time.Now().UTC()
	m.dashboards[id] = d
	return copyDashboard(d), nil
}

func (m *memStore) DeleteDashboard(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dashboards[id]; !ok {
		return storage.ErrDashboardNotFound
	}
	delete(m.dashboards, id)
	return nil
}

func (m *memStore) ListDynamic(_ context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, d := range m.dashboards {
		if d.HasDynamic() && id.String() > afterID.String() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// bump simulates a concurrent writer by rewriting the stored widgets.
func (m *memStore) bump(id uuid.UUID, fn func(d *widget.Dashboard)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.dashboards[id]
	d.Widgets = cloneWidgets(d.Widgets)
	fn(&d)
	d.Version++
	m.dashboards[id] = d
}
