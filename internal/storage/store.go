package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ryanbastic/go-dashboards/internal/widget"
)

// ErrDashboardNotFound is returned when no dashboard has the requested id.
var ErrDashboardNotFound = errors.New("dashboard not found")

// ErrVersionConflict is returned when a write was based on a stale version.
var ErrVersionConflict = errors.New("dashboard version conflict")

// MetaUpdate changes dashboard metadata. Nil fields are left as they are.
type MetaUpdate struct {
	Name        *string
	Description *string
}

// Page is one page of a dashboard listing.
type Page struct {
	Dashboards []widget.Dashboard
	// NextCursor is empty on the last page.
	NextCursor string
}

// DashboardStore persists dashboards together with their widget arrays.
type DashboardStore interface {
	// CreateDashboard inserts d and returns the stored dashboard at version 1.
	CreateDashboard(ctx context.Context, d *widget.Dashboard) (*widget.Dashboard, error)

	// GetDashboard returns the dashboard with the given id.
	GetDashboard(ctx context.Context, id uuid.UUID) (*widget.Dashboard, error)

	// ListDashboards pages through dashboards, oldest first. An empty ownerID lists all owners.
	ListDashboards(ctx context.Context, ownerID, cursor string, limit int) (*Page, error)

	// UpdateDashboard applies a metadata change and bumps the version.
	UpdateDashboard(ctx context.Context, id uuid.UUID, upd MetaUpdate) (*widget.Dashboard, error)

	// SaveWidgets replaces the entire widget array if the stored version equals
	// expectedVersion, otherwise it fails with ErrVersionConflict.
	SaveWidgets(ctx context.Context, id uuid.UUID, expectedVersion int, widgets []widget.Widget) (*widget.Dashboard, error)

	// DeleteDashboard removes a dashboard and its widgets.
	DeleteDashboard(ctx context.Context, id uuid.UUID) error

	// ListDynamic returns ids of dashboards holding at least one widget that
	// needs hydration, ordered by id and starting after afterID.
	ListDynamic(ctx context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error)
}
