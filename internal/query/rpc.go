package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ryanbastic/go-dashboards/internal/widget"
)

// MethodExecute is the JSON-RPC method invoked on query endpoints.
const MethodExecute = "query.execute"

// RPCRequest is a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// ExecuteParams is the payload of a query.execute call.
type ExecuteParams struct {
	DatasourceID string `json:"datasourceId"`
	Query        string `json:"query"`
}

// ExecuteResult is the query.execute result object.
type ExecuteResult struct {
	Success    bool          `json:"success"`
	Data       widget.RowSet `json:"data"`
	ExecutedAt *time.Time    `json:"executedAt,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// errRetryable marks transport failures worth another attempt.
var errRetryable = errors.New("retryable")

// RPCGateway executes queries on a remote endpoint over JSON-RPC 2.0.
type RPCGateway struct {
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Int64
	maxRetries int
	baseDelay  time.Duration
}

// NewRPCGateway creates a gateway with the given retry settings and per-attempt timeout.
func NewRPCGateway(endpoint string, maxRetries int, baseDelay, timeout time.Duration) *RPCGateway {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RPCGateway{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// Execute sends query.execute and converts the reply into a Result.
func (g *RPCGateway) Execute(ctx context.Context, datasourceID, query string) (*Result, error) {
	resp, err := g.call(ctx, MethodExecute, ExecuteParams{DatasourceID: datasourceID, Query: query})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	var res ExecuteResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		return nil, fmt.Errorf("decode query result: %w", err)
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "query was not successful"
		}
		return nil, &ExecError{DatasourceID: datasourceID, Message: msg}
	}

	out := &Result{Rows: res.Data, ExecutedAt: time.Now().UTC()}
	if res.ExecutedAt != nil {
		out.ExecutedAt = res.ExecutedAt.UTC()
	}
	return out, nil
}

// call retries only on 5xx and network errors.
func (g *RPCGateway) call(ctx context.Context, method string, params any) (*RPCResponse, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      g.nextID.Add(1),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	var lastErr error
	for attempt := range g.maxRetries + 1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := g.doRequest(ctx, data)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, errRetryable) {
			return nil, err
		}
		lastErr = err

		if attempt < g.maxRetries {
			delay := g.baseDelay * time.Duration(math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return nil, fmt.Errorf("rpc call failed after %d attempts: %w", g.maxRetries+1, lastErr)
}

func (g *RPCGateway) doRequest(ctx context.Context, data []byte) (*RPCResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("http request: %w: %w", errRetryable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("server error %d: %w", resp.StatusCode, errRetryable)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal rpc response: %w", err)
	}
	return &rpcResp, nil
}
