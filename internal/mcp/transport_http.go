package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// HTTPTransport speaks JSON-RPC 2.0 over HTTP POST. SSE and websocket
// connection descriptors are served through the same request/response path;
// the endpoint distinguishes them server-side.
type HTTPTransport struct {
	url     string
	headers map[string]string
	client  *http.Client
	closed  atomic.Bool
}

// HTTPTransportOptions configures an HTTP transport.
type HTTPTransportOptions struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// NewHTTPTransport creates an HTTP transport for the given endpoint.
func NewHTTPTransport(opts HTTPTransportOptions) *HTTPTransport {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPTransport{
		url:     opts.URL,
		headers: opts.Headers,
		client:  &http.Client{Timeout: timeout},
	}
}

// Call sends a request and waits for a response.
func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("transport closed")
	}
	if t.url == "" {
		return nil, fmt.Errorf("URL is required for HTTP transport")
	}

	req := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      uuid.New().String(),
		Method:  method,
	}

	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	body, _ := json.Marshal(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, fmt.Errorf("MCP error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	return rpcResp.Result, nil
}

// Close marks the transport as closed.
func (t *HTTPTransport) Close() error {
	t.closed.Store(true)
	t.client.CloseIdleConnections()
	return nil
}
