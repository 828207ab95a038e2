package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ryanbastic/go-dashboards/internal/widget"
)

// ErrUnknownDatasource is returned when no gateway serves a datasource id.
var ErrUnknownDatasource = errors.New("unknown datasource")

// Result is a successful query execution.
type Result struct {
	Rows       widget.RowSet
	ExecutedAt time.Time
}

// Gateway executes a query against an external data source. The query text
// is opaque and passed through in the source's native language.
type Gateway interface {
	Execute(ctx context.Context, datasourceID, query string) (*Result, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, datasourceID, query string) (*Result, error)

func (f GatewayFunc) Execute(ctx context.Context, datasourceID, query string) (*Result, error) {
	return f(ctx, datasourceID, query)
}

// ExecError is a query the data source rejected or failed to run.
type ExecError struct {
	DatasourceID string
	Message      string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("datasource %s: %s", e.DatasourceID, e.Message)
}

// IsRejection reports whether err means the data source answered and refused
// this particular query, as opposed to being unreachable.
func IsRejection(err error) bool {
	var execErr *ExecError
	var rpcErr *RPCError
	return errors.As(err, &execErr) || errors.As(err, &rpcErr)
}
