package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeTransport struct {
	responses map[string]json.RawMessage
	err       error
	calls     []string
}

func (f *fakeTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	f.calls = append(f.calls, method)
	if f.err != nil {
		return nil, f.err
	}
	resp, ok := f.responses[method]
	if !ok {
		return nil, errors.New("unexpected method " + method)
	}
	return resp, nil
}

func (f *fakeTransport) Close() error { return nil }

func TestClientInitialize(t *testing.T) {
	ft := &fakeTransport{responses: map[string]json.RawMessage{
		"initialize": json.RawMessage(`{"protocolVersion":"2024-11-05","serverInfo":{"name":"crm","version":"2.1"}}`),
	}}
	c := NewClient(ft, nil)

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if c.ServerInfo().Name != "crm" {
		t.Errorf("ServerInfo().Name = %q, want %q", c.ServerInfo().Name, "crm")
	}
}

func TestClientListTools(t *testing.T) {
	ft := &fakeTransport{responses: map[string]json.RawMessage{
		"tools/list": json.RawMessage(`{"tools":[{"name":"lookup","description":"Look up a record","inputSchema":{"type":"object"}}]}`),
	}}
	c := NewClient(ft, nil)

	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "lookup" {
		t.Fatalf("ListTools() = %+v, want one tool named lookup", tools)
	}
}

func TestClientCallTool(t *testing.T) {
	ft := &fakeTransport{responses: map[string]json.RawMessage{
		"tools/call": json.RawMessage(`{"content":[{"type":"text","text":"ok"}]}`),
	}}
	c := NewClient(ft, nil)

	result, err := c.CallTool(context.Background(), "lookup", json.RawMessage(`{"id":"42"}`))
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if result.Text() != "ok" {
		t.Errorf("Text() = %q, want %q", result.Text(), "ok")
	}
}

func TestClientCallToolTransportError(t *testing.T) {
	ft := &fakeTransport{err: errors.New("connection refused")}
	c := NewClient(ft, nil)

	if _, err := c.CallTool(context.Background(), "lookup", nil); err == nil {
		t.Fatal("expected error from failing transport")
	}
}

func TestHTTPTransportCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Method != "tools/list" {
			t.Errorf("method = %q, want tools/list", req.Method)
		}
		resp := JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  json.RawMessage(`{"tools":[]}`),
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPTransportOptions{URL: srv.URL})
	result, err := tr.Call(context.Background(), "tools/list", nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	var listed ListToolsResult
	if err := json.Unmarshal(result, &listed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
}

func TestHTTPTransportRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := JSONRPCResponse{
			JSONRPC: "2.0",
			Error:   &JSONRPCError{Code: ErrCodeToolNotFound, Message: "no such tool"},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPTransportOptions{URL: srv.URL})
	if _, err := tr.Call(context.Background(), "tools/call", CallToolParams{Name: "x"}); err == nil {
		t.Fatal("expected RPC error")
	}
}

func TestHTTPTransportClosed(t *testing.T) {
	tr := NewHTTPTransport(HTTPTransportOptions{URL: "http://127.0.0.1:1"})
	_ = tr.Close()
	if _, err := tr.Call(context.Background(), "tools/list", nil); err == nil {
		t.Fatal("expected error after Close")
	}
}

func TestInnateProvider(t *testing.T) {
	p := NewInnateProvider("core")
	p.Register(ToolDescriptor{Name: "echo"}, func(ctx context.Context, args json.RawMessage) (*ToolCallResult, error) {
		return TextResult(string(args)), nil
	})

	tools, err := p.ListTools(context.Background())
	if err != nil || len(tools) != 1 {
		t.Fatalf("ListTools() = %v, %v; want one tool", tools, err)
	}

	result, err := p.CallTool(context.Background(), "echo", json.RawMessage(`"hi"`))
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if result.Text() != `"hi"` {
		t.Errorf("Text() = %q", result.Text())
	}

	if _, err := p.CallTool(context.Background(), "missing", nil); err == nil {
		t.Fatal("expected error for unregistered tool")
	}
}
