package hydrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ryanbastic/go-dashboards/internal/metrics"
	"github.com/ryanbastic/go-dashboards/internal/query"
	"github.com/ryanbastic/go-dashboards/internal/widget"
)

const (
	outcomeOK            = "ok"
	outcomeQueryError    = "query_error"
	outcomeTemplateError = "template_error"
)

// Config controls a Hydrator.
type Config struct {
	// Concurrency bounds in-flight gateway calls per HydrateAll. Zero means unbounded.
	Concurrency   int
	StrictColumns bool
}

// Hydrator refreshes dynamic widgets by running their queries through a
// gateway and substituting the rows into their templates.
type Hydrator struct {
	gateway query.Gateway
	cfg     Config
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	substitute func(json.RawMessage, widget.RowSet, widget.Type, Options) (json.RawMessage, error)
}

// New creates a Hydrator.
func New(gateway query.Gateway, cfg Config, logger *slog.Logger) *Hydrator {
	return &Hydrator{
		gateway: gateway,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("github.com/ryanbastic/go-dashboards/internal/hydrate"),
		now:     time.Now,

		substitute: Substitute,
	}
}

// HydrateWidget runs w's query and returns w with fresh data. Static widgets
// are returned unchanged. On any failure the previous Data is kept and
// FetchError describes what went wrong.
func (h *Hydrator) HydrateWidget(ctx context.Context, w widget.Widget) (out widget.Widget) {
	if !w.NeedsHydration() {
		return w
	}

	ctx, span := h.tracer.Start(ctx, "hydrate.widget", trace.WithAttributes(
		attribute.String("widget.id", w.ID),
		attribute.String("widget.type", string(w.Type)),
		attribute.String("datasource.id", w.DataSource.DatasourceID),
	))
	defer span.End()

	start := time.Now()
	outcome, prefix := outcomeQueryError, "query failed"
	defer func() {
		if r := recover(); r != nil {
			out = h.fail(span, w, outcome, fmt.Sprintf("%s: panic: %v", prefix, r), start)
		}
	}()

	res, err := h.gateway.Execute(ctx, w.DataSource.DatasourceID, w.DataSource.Query)
	if err != nil {
		return h.fail(span, w, outcomeQueryError, "query failed: "+err.Error(), start)
	}
	if res == nil {
		return h.fail(span, w, outcomeQueryError, "query failed: gateway returned no result", start)
	}

	outcome, prefix = outcomeTemplateError, "template error"
	data, err := h.substitute(w.Template, res.Rows, w.Type, Options{StrictColumns: h.cfg.StrictColumns})
	if err != nil {
		return h.fail(span, w, outcomeTemplateError, "template error: "+err.Error(), start)
	}

	fetched := res.ExecutedAt
	if fetched.IsZero() {
		fetched = h.now()
	}
	fetched = fetched.UTC()

	w.Data = data
	w.LastFetched = &fetched
	w.FetchError = ""

	span.SetAttributes(attribute.Int("rows", len(res.Rows)))
	metrics.ObserveHydration(string(w.Type), outcomeOK, time.Since(start))
	h.logger.Debug("widget hydrated", "widget_id", w.ID, "datasource_id", w.DataSource.DatasourceID, "rows", len(res.Rows))
	return w
}

func (h *Hydrator) fail(span trace.Span, w widget.Widget, outcome, msg string, start time.Time) widget.Widget {
	w.FetchError = msg
	span.SetStatus(codes.Error, msg)
	metrics.ObserveHydration(string(w.Type), outcome, time.Since(start))
	h.logger.Warn("widget hydration failed",
		"widget_id", w.ID,
		"datasource_id", w.DataSource.DatasourceID,
		"outcome", outcome,
		"error", msg,
	)
	return w
}

// HydrateAll hydrates every dynamic widget concurrently. The result is
// index-aligned with ws; static widgets pass through. It never fails as a
// whole: each widget carries its own outcome.
func (h *Hydrator) HydrateAll(ctx context.Context, ws []widget.Widget) []widget.Widget {
	out := make([]widget.Widget, len(ws))
	copy(out, ws)

	// A plain Group: one widget's failure must not cancel the others.
	var g errgroup.Group
	if h.cfg.Concurrency > 0 {
		g.SetLimit(h.cfg.Concurrency)
	}
	for i := range out {
		if !out[i].NeedsHydration() {
			continue
		}
		g.Go(func() error {
			out[i] = h.HydrateWidget(ctx, out[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}
