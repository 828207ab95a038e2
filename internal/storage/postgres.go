package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ryanbastic/go-dashboards/internal/widget"
)

const dashboardColumns = `id, owner_id, name, description, widgets, version, created_at, updated_at`

// DefaultPageSize applies when ListDashboards is called with a non-positive limit.
const DefaultPageSize = 50

// PostgresStore implements DashboardStore using PostgreSQL.
type PostgresStore struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgresStore creates a DashboardStore over pool.
// queryTimeout sets the per-query context deadline; zero means no timeout.
func NewPostgresStore(pool *pgxpool.Pool, queryTimeout time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, queryTimeout: queryTimeout}
}

// withTimeout derives a child context with the configured query timeout.
// If queryTimeout is zero, the parent context is returned unchanged.
func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout > 0 {
		return context.WithTimeout(ctx, s.queryTimeout)
	}
	return ctx, func() {}
}

func (s *PostgresStore) CreateDashboard(ctx context.Context, d *widget.Dashboard) (*widget.Dashboard, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id := d.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	body, err := encodeWidgets(d.Widgets)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, name, description, widgets, has_dynamic)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING %s
	`, DashboardsTable, dashboardColumns)

	out, err := scanDashboard(s.pool.QueryRow(ctx, query,
		id, d.OwnerID, d.Name, d.Description, body, d.HasDynamic(),
	))
	if err != nil {
		return nil, fmt.Errorf("create dashboard: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetDashboard(ctx context.Context, id uuid.UUID) (*widget.Dashboard, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, dashboardColumns, DashboardsTable)
	d, err := scanDashboard(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDashboardNotFound
		}
		return nil, fmt.Errorf("get dashboard: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) ListDashboards(ctx context.Context, ownerID, cursor string, limit int) (*Page, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = DefaultPageSize
	}

	after := Cursor{}
	if cursor != "" {
		c, err := DecodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		after = *c
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE ($1 = '' OR owner_id = $1)
		  AND (created_at, id) > ($2, $3)
		ORDER BY created_at, id
		LIMIT $4
	`, dashboardColumns, DashboardsTable)

	rows, err := s.pool.Query(ctx, query, ownerID, after.CreatedAt, after.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list dashboards: %w", err)
	}
	defer rows.Close()

	page := &Page{Dashboards: []widget.Dashboard{}}
	for rows.Next() {
		d, err := scanDashboard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dashboard: %w", err)
		}
		page.Dashboards = append(page.Dashboards, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dashboards rows: %w", err)
	}

	if len(page.Dashboards) > limit {
		page.Dashboards = page.Dashboards[:limit]
		last := page.Dashboards[limit-1]
		next := Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
		if page.NextCursor, err = next.Encode(); err != nil {
			return nil, err
		}
	}
	return page, nil
}

func (s *PostgresStore) UpdateDashboard(ctx context.Context, id uuid.UUID, upd MetaUpdate) (*widget.Dashboard, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s
		SET name = COALESCE($2, name),
		    description = COALESCE($3, description),
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		RETURNING %s
	`, DashboardsTable, dashboardColumns)

	d, err := scanDashboard(s.pool.QueryRow(ctx, query, id, upd.Name, upd.Description))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDashboardNotFound
		}
		return nil, fmt.Errorf("update dashboard: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) SaveWidgets(ctx context.Context, id uuid.UUID, expectedVersion int, widgets []widget.Widget) (*widget.Dashboard, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	body, err := encodeWidgets(widgets)
	if err != nil {
		return nil, err
	}
	dynamic := (&widget.Dashboard{Widgets: widgets}).HasDynamic()

	query := fmt.Sprintf(`
		UPDATE %s
		SET widgets = $3,
		    has_dynamic = $4,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING %s
	`, DashboardsTable, dashboardColumns)

	d, err := scanDashboard(s.pool.QueryRow(ctx, query, id, expectedVersion, body, dynamic))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("save widgets: %w", err)
	}

	// No row matched: either the dashboard is gone or the version moved on.
	var exists bool
	check := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, DashboardsTable)
	if err := s.pool.QueryRow(ctx, check, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("save widgets: %w", err)
	}
	if !exists {
		return nil, ErrDashboardNotFound
	}
	return nil, ErrVersionConflict
}

func (s *PostgresStore) DeleteDashboard(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, DashboardsTable), id)
	if err != nil {
		return fmt.Errorf("delete dashboard: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDashboardNotFound
	}
	return nil
}

func (s *PostgresStore) ListDynamic(ctx context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = DefaultPageSize
	}

	query := fmt.Sprintf(`
		SELECT id FROM %s
		WHERE has_dynamic AND id > $1
		ORDER BY id
		LIMIT $2
	`, DashboardsTable)

	rows, err := s.pool.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list dynamic dashboards: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("list dynamic dashboards rows: %w", err)
	}
	return ids, nil
}

func encodeWidgets(ws []widget.Widget) ([]byte, error) {
	if ws == nil {
		ws = []widget.Widget{}
	}
	body, err := json.Marshal(ws)
	if err != nil {
		return nil, fmt.Errorf("encode widgets: %w", err)
	}
	return body, nil
}

func scanDashboard(row pgx.Row) (*widget.Dashboard, error) {
	var (
		d    widget.Dashboard
		body []byte
	)
	if err := row.Scan(&d.ID, &d.OwnerID, &d.Name, &d.Description, &body,
		&d.Version, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &d.Widgets); err != nil {
		return nil, fmt.Errorf("decode widgets of %s: %w", d.ID, err)
	}
	if d.Widgets == nil {
		d.Widgets = []widget.Widget{}
	}
	widget.SortByPosition(d.Widgets)
	return &d, nil
}
