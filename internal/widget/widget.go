package widget

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidWidget is returned by Validate for malformed widget definitions.
var ErrInvalidWidget = errors.New("invalid widget")

// Type is the kind of display unit. The set is closed.
type Type string

const (
	TypeChart    Type = "chart"
	TypeTable    Type = "table"
	TypeMarkdown Type = "markdown"
	// TypeQuery is a legacy variant kept for stored dashboards. Not extended.
	TypeQuery Type = "query"
)

// Valid reports whether t is one of the known widget types.
func (t Type) Valid() bool {
	switch t {
	case TypeChart, TypeTable, TypeMarkdown, TypeQuery:
		return true
	}
	return false
}

// ParseType converts s to a Type, rejecting unknown values.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidWidget, s)
	}
	return t, nil
}

// AppendPosition asks for a widget to be placed after every other widget.
// Any negative position is treated the same way.
const AppendPosition = -1

// DataSource references an external connection and a query in its native language.
// The query is opaque here and handed verbatim to a query gateway.
type DataSource struct {
	DatasourceID string `json:"datasourceId"`
	Query        string `json:"query"`
}

// Widget is a display unit on a dashboard.
//
// For dynamic widgets Template is the source of truth and Data is a cache
// re-derived on every hydration. A populated FetchError alongside Data means
// Data is the last good payload.
type Widget struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	Title       string          `json:"title"`
	Position    int             `json:"position"`
	IsDynamic   bool            `json:"isDynamic"`
	DataSource  *DataSource     `json:"dataSource,omitempty"`
	Template    json.RawMessage `json:"template,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	LastFetched *time.Time      `json:"lastFetched,omitempty"`
	FetchError  string          `json:"fetchError,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NeedsHydration reports whether the widget has a query to run.
func (w *Widget) NeedsHydration() bool {
	return w.IsDynamic && w.DataSource != nil
}

// Validate checks the construction invariants. The hydrator assumes they hold.
func (w *Widget) Validate() error {
	if !w.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidWidget, w.Type)
	}
	if len(w.Data) > 0 && !json.Valid(w.Data) {
		return fmt.Errorf("%w: data is not valid JSON", ErrInvalidWidget)
	}
	if !w.IsDynamic {
		return nil
	}
	if w.DataSource == nil {
		return fmt.Errorf("%w: dynamic widget requires dataSource", ErrInvalidWidget)
	}
	if w.DataSource.DatasourceID == "" {
		return fmt.Errorf("%w: dataSource.datasourceId is empty", ErrInvalidWidget)
	}
	if w.DataSource.Query == "" {
		return fmt.Errorf("%w: dataSource.query is empty", ErrInvalidWidget)
	}
	if len(w.Template) == 0 {
		return fmt.Errorf("%w: dynamic widget requires template", ErrInvalidWidget)
	}
	if !json.Valid(w.Template) {
		return fmt.Errorf("%w: template is not valid JSON", ErrInvalidWidget)
	}
	return nil
}

// Clone returns a copy that shares no mutable state with w.
func (w Widget) Clone() Widget {
	if w.DataSource != nil {
		ds := *w.DataSource
		w.DataSource = &ds
	}
	if w.LastFetched != nil {
		t := *w.LastFetched
		w.LastFetched = &t
	}
	w.Template = cloneRaw(w.Template)
	w.Data = cloneRaw(w.Data)
	return w
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

// Dashboard is an ordered, mutable collection of widgets owned by one principal.
type Dashboard struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Widgets     []Widget  `json:"widgets"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Find returns the index of the widget with the given id, or -1.
func (d *Dashboard) Find(widgetID string) int {
	for i := range d.Widgets {
		if d.Widgets[i].ID == widgetID {
			return i
		}
	}
	return -1
}

// HasDynamic reports whether any widget on the dashboard needs hydration.
func (d *Dashboard) HasDynamic() bool {
	for i := range d.Widgets {
		if d.Widgets[i].NeedsHydration() {
			return true
		}
	}
	return false
}

// NextPosition returns one past the highest position in use.
func (d *Dashboard) NextPosition() int {
	next := 0
	for _, w := range d.Widgets {
		if w.Position >= next {
			next = w.Position + 1
		}
	}
	return next
}

// SortByPosition orders widgets by position. Ties keep insertion order.
func SortByPosition(ws []Widget) {
	sort.SliceStable(ws, func(i, j int) bool {
		return ws[i].Position < ws[j].Position
	})
}
