package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ryanbastic/go-dashboards/internal/circuitbreaker"
	"github.com/ryanbastic/go-dashboards/internal/metrics"
)

// BreakerGateway guards a Gateway with one circuit breaker per datasource.
// Only availability failures count against a breaker. A rejected query
// proves the source is up, and calls abandoned by the caller are ignored.
type BreakerGateway struct {
	next         Gateway
	maxFailures  int
	resetTimeout time.Duration

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.Breaker
}

func NewBreakerGateway(next Gateway, maxFailures int, resetTimeout time.Duration) *BreakerGateway {
	return &BreakerGateway{
		next:         next,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		breakers:     make(map[string]*circuitbreaker.Breaker),
	}
}

func (g *BreakerGateway) breaker(datasourceID string) *circuitbreaker.Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[datasourceID]
	if !ok {
		b = circuitbreaker.New(g.maxFailures, g.resetTimeout)
		b.OnStateChange(func(s circuitbreaker.State) {
			metrics.SetBreakerState(datasourceID, int(s))
		})
		metrics.SetBreakerState(datasourceID, int(circuitbreaker.Closed))
		g.breakers[datasourceID] = b
	}
	return b
}

// State reports the breaker state for datasourceID.
func (g *BreakerGateway) State(datasourceID string) circuitbreaker.State {
	return g.breaker(datasourceID).State()
}

func (g *BreakerGateway) Execute(ctx context.Context, datasourceID, query string) (*Result, error) {
	var res *Result
	err := g.breaker(datasourceID).ExecuteOutcome(func() (circuitbreaker.Outcome, error) {
		var err error
		res, err = g.next.Execute(ctx, datasourceID, query)
		return classify(ctx, err), err
	})

	switch {
	case err == nil:
		metrics.ObserveGatewayCall(datasourceID, "ok")
		return res, nil
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		metrics.ObserveGatewayCall(datasourceID, "rejected")
	case IsRejection(err):
		metrics.ObserveGatewayCall(datasourceID, "query_error")
	default:
		metrics.ObserveGatewayCall(datasourceID, "error")
	}
	return nil, err
}

func classify(ctx context.Context, err error) circuitbreaker.Outcome {
	switch {
	case err == nil, IsRejection(err):
		return circuitbreaker.Success
	case ctx.Err() != nil, errors.Is(err, ErrUnknownDatasource):
		return circuitbreaker.Ignore
	}
	return circuitbreaker.Failure
}
