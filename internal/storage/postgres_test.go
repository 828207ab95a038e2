package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ryanbastic/go-dashboards/internal/widget"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16",
		postgres.WithDatabase("dashboards"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		panic(fmt.Sprintf("start postgres container: %v", err))
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		panic(fmt.Sprintf("get connection string: %v", err))
	}

	testPool, err = pgxpool.New(ctx, connStr)
	if err != nil {
		panic(fmt.Sprintf("create pool: %v", err))
	}
	if err := RunMigrations(ctx, testPool); err != nil {
		panic(fmt.Sprintf("run migrations: %v", err))
	}

	code := m.Run()

	testPool.Close()
	_ = testcontainers.TerminateContainer(ctr)

	os.Exit(code)
}

// freshOwner returns an owner id no other test uses.
func freshOwner() string {
	return "owner-" + uuid.NewString()
}

func newStore() *PostgresStore {
	return NewPostgresStore(testPool, 5*time.Second)
}

func staticWidget(id string, pos int) widget.Widget {
	return widget.Widget{
		ID:       id,
		Type:     widget.TypeMarkdown,
		Title:    "Notes",
		Position: pos,
		Data:     json.RawMessage(`{"content":"hi"}`),
	}
}

func dynamicWidget(id string, pos int) widget.Widget {
	return widget.Widget{
		ID:         id,
		Type:       widget.TypeChart,
		Title:      "Sales",
		Position:   pos,
		IsDynamic:  true,
		DataSource: &widget.DataSource{DatasourceID: "sales", Query: "SELECT 1"},
		Template:   json.RawMessage(`{"values":"{{v}}"}`),
	}
}

func TestCreateAndGetDashboard(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	owner := freshOwner()

	created, err := store.CreateDashboard(ctx, &widget.Dashboard{
		OwnerID:     owner,
		Name:        "Revenue",
		Description: "monthly",
		Widgets:     []widget.Widget{staticWidget("w1", 0)},
	})
	if err != nil {
		t.Fatalf("CreateDashboard: %v", err)
	}
	if created.ID == uuid.Nil {
		t.Error("expected generated id")
	}
	if created.Version != 1 {
		t.Errorf("version: got %d, want 1", created.Version)
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Error("timestamps should be set")
	}

	got, err := store.GetDashboard(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetDashboard: %v", err)
	}
	if got.Name != "Revenue" || got.Description != "monthly" || got.OwnerID != owner {
		t.Errorf("metadata mismatch: %+v", got)
	}
	if len(got.Widgets) != 1 || got.Widgets[0].ID != "w1" {
		t.Fatalf("widgets: got %+v", got.Widgets)
	}
	if string(got.Widgets[0].Data) != `{"content": "hi"}` && string(got.Widgets[0].Data) != `{"content":"hi"}` {
		t.Errorf("data: got %s", got.Widgets[0].Data)
	}
}

func TestCreateDashboard_EmptyWidgets(t *testing.T) {
	store := newStore()
	ctx := context.Background()

	created, err := store.CreateDashboard(ctx, &widget.Dashboard{OwnerID: freshOwner(), Name: "Empty"})
	if err != nil {
		t.Fatalf("CreateDashboard: %v", err)
	}
	if created.Widgets == nil || len(created.Widgets) != 0 {
		t.Errorf("widgets: got %v, want empty slice", created.Widgets)
	}
}

func TestGetDashboard_NotFound(t *testing.T) {
	store := newStore()

	_, err := store.GetDashboard(context.Background(), uuid.New())
	if !errors.Is(err, ErrDashboardNotFound) {
		t.Errorf("expected ErrDashboardNotFound, got %v", err)
	}
}

func TestUpdateDashboard(t *testing.T) {
	store := newStore()
	ctx := context.Background()

	created, err := store.CreateDashboard(ctx, &widget.Dashboard{OwnerID: freshOwner(), Name: "Old", Description: "keep"})
	if err != nil {
		t.Fatalf("CreateDashboard: %v", err)
	}

	name := "New"
	got, err := store.UpdateDashboard(ctx, created.ID, MetaUpdate{Name: &name})
	if err != nil {
		t.Fatalf("UpdateDashboard: %v", err)
	}
	if got.Name != "New" {
		t.Errorf("name: got %q", got.Name)
	}
	if got.Description != "keep" {
		t.Errorf("description should be untouched, got %q", got.Description)
	}
	if got.Version != created.Version+1 {
		t.Errorf("version: got %d, want %d", got.Version, created.Version+1)
	}

	if _, err := store.UpdateDashboard(ctx, uuid.New(), MetaUpdate{Name: &name}); !errors.Is(err, ErrDashboardNotFound) {
		t.Errorf("expected ErrDashboardNotFound, got %v", err)
	}
}

func TestSaveWidgets(t *testing.T) {
	store := newStore()
	ctx := context.Background()

	created, err := store.CreateDashboard(ctx, &widget.Dashboard{OwnerID: freshOwner(), Name: "D"})
	if err != nil {
		t.Fatalf("CreateDashboard: %v", err)
	}

	saved, err := store.SaveWidgets(ctx, created.ID, created.Version, []widget.Widget{
		staticWidget("b", 1),
		dynamicWidget("a", 0),
	})
	if err != nil {
		t.Fatalf("SaveWidgets: %v", err)
	}
	if saved.Version != created.Version+1 {
		t.Errorf("version: got %d, want %d", saved.Version, created.Version+1)
	}
	if len(saved.Widgets) != 2 || saved.Widgets[0].ID != "a" || saved.Widgets[1].ID != "b" {
		t.Fatalf("widgets should come back ordered by position: %+v", saved.Widgets)
	}
	if saved.Widgets[0].DataSource == nil || saved.Widgets[0].DataSource.Query != "SELECT 1" {
		t.Errorf("dataSource lost: %+v", saved.Widgets[0].DataSource)
	}
}

func TestSaveWidgets_VersionConflict(t *testing.T) {
	store := newStore()
	ctx := context.Background()

	created, err := store.CreateDashboard(ctx, &widget.Dashboard{OwnerID: freshOwner(), Name: "D"})
	if err != nil {
		t.Fatalf("CreateDashboard: %v", err)
	}
	if _, err := store.SaveWidgets(ctx, created.ID, created.Version, []widget.Widget{staticWidget("a", 0)}); err != nil {
		t.Fatalf("first SaveWidgets: %v", err)
	}

	_, err = store.SaveWidgets(ctx, created.ID, created.Version, []widget.Widget{staticWidget("b", 0)})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	got, err := store.GetDashboard(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetDashboard: %v", err)
	}
	if len(got.Widgets) != 1 || got.Widgets[0].ID != "a" {
		t.Errorf("stale write must not apply: %+v", got.Widgets)
	}
}

func TestSaveWidgets_NotFound(t *testing.T) {
	store := newStore()

	_, err := store.SaveWidgets(context.Background(), uuid.New(), 1, nil)
	if !errors.Is(err, ErrDashboardNotFound) {
		t.Errorf("expected ErrDashboardNotFound, got %v", err)
	}
}

func TestDeleteDashboard(t *testing.T) {
	store := newStore()
	ctx := context.Background()

	created, err := store.CreateDashboard(ctx, &widget.Dashboard{OwnerID: freshOwner(), Name: "D"})
	if err != nil {
		t.Fatalf("CreateDashboard: %v", err)
	}
	if err := store.DeleteDashboard(ctx, created.ID); err != nil {
		t.Fatalf("DeleteDashboard: %v", err)
	}
	if _, err := store.GetDashboard(ctx, created.ID); !errors.Is(err, ErrDashboardNotFound) {
		t.Errorf("expected ErrDashboardNotFound after delete, got %v", err)
	}
	if err := store.DeleteDashboard(ctx, created.ID); !errors.Is(err, ErrDashboardNotFound) {
		t.Errorf("second delete: expected ErrDashboardNotFound, got %v", err)
	}
}

func TestListDashboards_Pagination(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	owner := freshOwner()

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		d, err := store.CreateDashboard(ctx, &widget.Dashboard{OwnerID: owner, Name: fmt.Sprintf("d%d", i)})
		if err != nil {
			t.Fatalf("CreateDashboard: %v", err)
		}
		ids = append(ids, d.ID)
	}
	// Another owner's dashboard must not show up.
	if _, err := store.CreateDashboard(ctx, &widget.Dashboard{OwnerID: freshOwner(), Name: "other"}); err != nil {
		t.Fatalf("CreateDashboard: %v", err)
	}

	var seen []uuid.UUID
	cursor := ""
	pages := 0
	for {
		page, err := store.ListDashboards(ctx, owner, cursor, 2)
		if err != nil {
			t.Fatalf("ListDashboards: %v", err)
		}
		pages++
		for _, d := range page.Dashboards {
			seen = append(seen, d.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if pages != 3 {
		t.Errorf("pages: got %d, want 3", pages)
	}
	if len(seen) != len(ids) {
		t.Fatalf("listed %d dashboards, want %d", len(seen), len(ids))
	}
	unique := make(map[uuid.UUID]bool, len(seen))
	for _, id := range seen {
		if unique[id] {
			t.Errorf("dashboard %s listed twice", id)
		}
		unique[id] = true
	}
	for _, id := range ids {
		if !unique[id] {
			t.Errorf("dashboard %s missing from listing", id)
		}
	}
}

func TestListDashboards_InvalidCursor(t *testing.T) {
	store := newStore()

	if _, err := store.ListDashboards(context.Background(), "", "!!!", 10); !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestListDynamic(t *testing.T) {
	store := newStore()
	ctx := context.Background()

	static, err := store.CreateDashboard(ctx, &widget.Dashboard{
		OwnerID: freshOwner(), Name: "static",
		Widgets: []widget.Widget{staticWidget("s", 0)},
	})
	if err != nil {
		t.Fatalf("CreateDashboard: %v", err)
	}
	dynamic, err := store.CreateDashboard(ctx, &widget.Dashboard{
		OwnerID: freshOwner(), Name: "dynamic",
		Widgets: []widget.Widget{dynamicWidget("d", 0)},
	})
	if err != nil {
		t.Fatalf("CreateDashboard: %v", err)
	}

	var all []uuid.UUID
	after := uuid.Nil
	for {
		ids, err := store.ListDynamic(ctx, after, 100)
		if err != nil {
			t.Fatalf("ListDynamic: %v", err)
		}
		if len(ids) == 0 {
			break
		}
		all = append(all, ids...)
		after = ids[len(ids)-1]
	}

	contains := func(id uuid.UUID) bool {
		for _, x := range all {
			if x == id {
				return true
			}
		}
		return false
	}
	if !contains(dynamic.ID) {
		t.Error("dynamic dashboard should be listed")
	}
	if contains(static.ID) {
		t.Error("static dashboard should not be listed")
	}

	// Dropping the dynamic widget takes the dashboard out of the listing.
	if _, err := store.SaveWidgets(ctx, dynamic.ID, dynamic.Version, []widget.Widget{staticWidget("s", 0)}); err != nil {
		t.Fatalf("SaveWidgets: %v", err)
	}
	ids, err := store.ListDynamic(ctx, uuid.Nil, 10000)
	if err != nil {
		t.Fatalf("ListDynamic: %v", err)
	}
	for _, id := range ids {
		if id == dynamic.ID {
			t.Error("dashboard without dynamic widgets should not be listed")
		}
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	ctx := context.Background()
	if err := RunMigrations(ctx, testPool); err != nil {
		t.Fatalf("second RunMigrations: %v", err)
	}
}
