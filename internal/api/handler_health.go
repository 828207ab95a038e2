package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// readyTimeout bounds a whole readiness probe.
const readyTimeout = 3 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes. Dependencies are the
// dashboard database and any Postgres datasources, keyed by name.
type HealthHandler struct {
	deps   map[string]Pinger
	logger *slog.Logger
}

func NewHealthHandler(deps map[string]Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{deps: deps, logger: logger}
}

type dependencyStatus struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type readyzResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]dependencyStatus `json:"dependencies,omitempty"`
}

// Livez reports that the process can serve HTTP.
func (h *HealthHandler) Livez(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz pings every dependency concurrently and fails if any is down.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		resp = readyzResponse{Status: "ok", Dependencies: make(map[string]dependencyStatus, len(h.deps))}
	)
	for name, p := range h.deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := p.Ping(ctx)
			st := dependencyStatus{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				st.Status = "error"
				st.Error = err.Error()
			}
			mu.Lock()
			resp.Dependencies[name] = st
			if err != nil {
				resp.Status = "unavailable"
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if resp.Status != "ok" {
		h.logger.Warn("readiness check failed", "dependencies", resp.Dependencies)
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
