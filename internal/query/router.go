package query

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Router dispatches each query to the gateway registered for its datasource.
type Router struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
	fallback Gateway
}

func NewRouter() *Router {
	return &Router{gateways: make(map[string]Gateway)}
}

// Register associates a datasource id with a Gateway.
func (r *Router) Register(datasourceID string, g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[datasourceID] = g
}

// SetFallback sets the gateway used for datasource ids with no registration.
func (r *Router) SetFallback(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = g
}

// GatewayFor returns the Gateway serving datasourceID.
func (r *Router) GatewayFor(datasourceID string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if g, ok := r.gateways[datasourceID]; ok {
		return g, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDatasource, datasourceID)
}

// Datasources returns the registered datasource ids in sorted order.
func (r *Router) Datasources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.gateways))
	for id := range r.gateways {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Router) Execute(ctx context.Context, datasourceID, query string) (*Result, error) {
	g, err := r.GatewayFor(datasourceID)
	if err != nil {
		return nil, err
	}
	return g.Execute(ctx, datasourceID, query)
}
