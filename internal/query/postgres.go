package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ryanbastic/go-dashboards/internal/widget"
)

// PostgresGateway runs widget queries as SQL against one PostgreSQL pool.
// Each query executes in a read-only transaction.
type PostgresGateway struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgresGateway creates a gateway over pool. queryTimeout sets the
// per-query context deadline; zero means no timeout.
func NewPostgresGateway(pool *pgxpool.Pool, queryTimeout time.Duration) *PostgresGateway {
	return &PostgresGateway{pool: pool, queryTimeout: queryTimeout}
}

func (g *PostgresGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.queryTimeout > 0 {
		return context.WithTimeout(ctx, g.queryTimeout)
	}
	return ctx, func() {}
}

func (g *PostgresGateway) Execute(ctx context.Context, datasourceID, query string) (*Result, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	tx, err := g.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin query: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, queryError(datasourceID, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}

	out := widget.RowSet{}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, &ExecError{DatasourceID: datasourceID, Message: "read row: " + err.Error()}
		}
		for i, v := range vals {
			vals[i] = normalize(v)
		}
		out = append(out, widget.NewRow(cols, vals))
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(datasourceID, err)
	}

	return &Result{Rows: out, ExecutedAt: time.Now().UTC()}, nil
}

// queryError turns a server-side rejection of the query into an ExecError.
// Connection loss and server-wide conditions stay plain errors.
func queryError(datasourceID string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && !serverUnavailable(pgErr.Code) {
		return &ExecError{DatasourceID: datasourceID, Message: pgErr.Error()}
	}
	return fmt.Errorf("run query: %w", err)
}

// serverUnavailable reports SQLSTATE classes that describe the server rather
// than the statement: connection exceptions, insufficient resources, operator
// intervention (except query_canceled) and system errors.
func serverUnavailable(code string) bool {
	if len(code) < 2 {
		return false
	}
	switch code[:2] {
	case "08", "53", "58":
		return true
	case "57":
		return code != "57014"
	}
	return false
}

// normalize converts driver values into JSON-friendly scalars.
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	case [16]byte:
		return uuid.UUID(x).String()
	case float32:
		return finite(float64(x))
	case float64:
		return finite(x)
	case pgtype.Numeric:
		if !x.Valid || x.NaN || x.InfinityModifier != pgtype.Finite {
			return nil
		}
		if x.Exp >= 0 {
			if i, err := x.Int64Value(); err == nil && i.Valid {
				return i.Int64
			}
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return finite(f.Float64)
	case fmt.Stringer:
		return x.String()
	}
	return v
}

// finite maps NaN and infinities to null, which JSON cannot represent.
func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
