package toolset

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/deco-cx/agent-runtime/internal/connection"
	"github.com/deco-cx/agent-runtime/internal/mcp"
)

type fakeClient struct {
	tools    []mcp.ToolDescriptor
	listErr  error
	callErr  error
	delay    time.Duration
	listCnt  int
	callCnt  int
	callName string
}

func (f *fakeClient) ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	f.listCnt++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}

func (f *fakeClient) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*mcp.ToolCallResult, error) {
	f.callCnt++
	f.callName = name
	if f.callErr != nil {
		return nil, f.callErr
	}
	return mcp.TextResult("done"), nil
}

type fakeDialer struct {
	clients map[string]*fakeClient // keyed by URL or innate name
	dialErr map[string]error
	dials   int
}

func (f *fakeDialer) Dial(ctx context.Context, ref connection.Ref) (ToolClient, error) {
	f.dials++
	key := ref.URL
	if ref.Kind == connection.KindInnate {
		key = ref.Name
	}
	if err := f.dialErr[key]; err != nil {
		return nil, err
	}
	client, ok := f.clients[key]
	if !ok {
		return nil, errors.New("no client for " + key)
	}
	return client, nil
}

type fakeIntegrations struct {
	integrations map[string]*Integration
	calls        int
}

func (f *fakeIntegrations) GetIntegration(ctx context.Context, id string) (*Integration, error) {
	f.calls++
	integration, ok := f.integrations[id]
	if !ok {
		return nil, errors.New("integration not found")
	}
	return integration, nil
}

func descriptors(names ...string) []mcp.ToolDescriptor {
	out := make([]mcp.ToolDescriptor, 0, len(names))
	for _, n := range names {
		out = append(out, mcp.ToolDescriptor{Name: n, InputSchema: json.RawMessage(`{"type":"object"}`)})
	}
	return out
}

func httpSource(url string, filters ...string) Source {
	return Source{
		Ref:     connection.Ref{Kind: connection.KindHTTP, URL: url, Raw: url},
		Filters: filters,
	}
}

func newTestResolver(dialer Dialer, integrations IntegrationStore, timeout time.Duration) *Resolver {
	return NewResolver(ResolverOptions{
		Integrations: integrations,
		Dialer:       dialer,
		Timeout:      timeout,
	})
}

func TestResolveAllTools(t *testing.T) {
	dialer := &fakeDialer{clients: map[string]*fakeClient{
		"https://crm": {tools: descriptors("lookup", "create")},
	}}
	r := newTestResolver(dialer, nil, 0)

	result := r.Resolve(context.Background(), []Source{httpSource("https://crm")})

	tools, ok := result["https://crm"]
	if !ok {
		t.Fatalf("expected crm connection in result, got %v", result)
	}
	if len(tools) != 2 {
		t.Fatalf("len(tools) = %d, want 2", len(tools))
	}
	if _, ok := tools["lookup"]; !ok {
		t.Error("missing tool lookup")
	}
	if _, ok := tools["create"]; !ok {
		t.Error("missing tool create")
	}
}

func TestResolveFilterSemantics(t *testing.T) {
	tests := []struct {
		name    string
		filters []string
		want    []string
	}{
		{"single match", []string{"b"}, []string{"b"}},
		{"empty filter admits all", nil, []string{"a", "b", "c"}},
		{"unmatched filter yields empty", []string{"z"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &fakeDialer{clients: map[string]*fakeClient{
				"https://conn": {tools: descriptors("a", "b", "c")},
			}}
			r := newTestResolver(dialer, nil, 0)

			result := r.Resolve(context.Background(), []Source{httpSource("https://conn", tt.filters...)})

			tools := result["https://conn"]
			if len(tools) != len(tt.want) {
				t.Fatalf("len(tools) = %d, want %d (%v)", len(tools), len(tt.want), tools)
			}
			for _, name := range tt.want {
				if _, ok := tools[name]; !ok {
					t.Errorf("missing tool %q", name)
				}
			}
		})
	}
}

func TestResolvePerConnectionIsolation(t *testing.T) {
	dialer := &fakeDialer{
		clients: map[string]*fakeClient{
			"https://good":  {tools: descriptors("alpha")},
			"https://slow":  {tools: descriptors("beta"), delay: time.Second},
			"https://empty": {tools: nil},
		},
		dialErr: map[string]error{"https://broken": errors.New("connection refused")},
	}
	r := newTestResolver(dialer, nil, 50*time.Millisecond)

	result := r.Resolve(context.Background(), []Source{
		httpSource("https://good"),
		httpSource("https://slow"),
		httpSource("https://broken"),
		httpSource("https://empty"),
	})

	if len(result) != 1 {
		t.Fatalf("len(result) = %d, want only the healthy connection: %v", len(result), result)
	}
	if _, ok := result["https://good"]["alpha"]; !ok {
		t.Error("healthy connection missing its tool")
	}
}

func TestResolveTimeoutNotCached(t *testing.T) {
	slow := &fakeClient{tools: descriptors("beta"), delay: 200 * time.Millisecond}
	dialer := &fakeDialer{clients: map[string]*fakeClient{"https://slow": slow}}
	r := newTestResolver(dialer, nil, 20*time.Millisecond)

	_ = r.Resolve(context.Background(), []Source{httpSource("https://slow")})
	if r.Cache().Len() != 0 {
		t.Fatal("timed-out connection must not populate the cache")
	}

	// A later resolution retries instead of serving a cached failure.
	slow.delay = 0
	result := r.Resolve(context.Background(), []Source{httpSource("https://slow")})
	if _, ok := result["https://slow"]; !ok {
		t.Fatal("retry after timeout did not resolve the connection")
	}
}

func TestResolveConcurrentFanOut(t *testing.T) {
	// Three connections each taking ~40ms must resolve together, not
	// sequentially: total stays well under 3x the per-connection latency.
	dialer := &fakeDialer{clients: map[string]*fakeClient{
		"https://one":   {tools: descriptors("a"), delay: 40 * time.Millisecond},
		"https://two":   {tools: descriptors("b"), delay: 40 * time.Millisecond},
		"https://three": {tools: descriptors("c"), delay: 40 * time.Millisecond},
	}}
	r := newTestResolver(dialer, nil, time.Second)

	start := time.Now()
	result := r.Resolve(context.Background(), []Source{
		httpSource("https://one"),
		httpSource("https://two"),
		httpSource("https://three"),
	})
	elapsed := time.Since(start)

	if len(result) != 3 {
		t.Fatalf("len(result) = %d, want 3", len(result))
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("resolution took %v, expected concurrent fan-out", elapsed)
	}
}

func TestResolveUsesCache(t *testing.T) {
	client := &fakeClient{tools: descriptors("alpha")}
	dialer := &fakeDialer{clients: map[string]*fakeClient{"https://conn": client}}
	r := newTestResolver(dialer, nil, 0)

	sources := []Source{httpSource("https://conn")}
	_ = r.Resolve(context.Background(), sources)
	_ = r.Resolve(context.Background(), sources)

	if client.listCnt != 1 {
		t.Errorf("ListTools called %d times, want 1 (second resolve served from cache)", client.listCnt)
	}
}

func TestExecuteErrorInvalidatesConnection(t *testing.T) {
	client := &fakeClient{tools: descriptors("alpha"), callErr: errors.New("boom")}
	dialer := &fakeDialer{clients: map[string]*fakeClient{"https://conn": client}}
	r := newTestResolver(dialer, nil, 0)

	result := r.Resolve(context.Background(), []Source{httpSource("https://conn")})
	tool := result["https://conn"]["alpha"]

	if _, err := tool.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected execution error")
	}
	if r.Cache().Len() != 0 {
		t.Error("execution error must drop the connection's cache entry")
	}
}

func TestResolveIntegrationRef(t *testing.T) {
	integrations := &fakeIntegrations{integrations: map[string]*Integration{
		"crm": {
			ID:         "crm",
			Connection: connection.Ref{Kind: connection.KindHTTP, URL: "https://crm.internal"},
		},
	}}
	dialer := &fakeDialer{clients: map[string]*fakeClient{
		"https://crm.internal": {tools: descriptors("lookup")},
	}}
	r := newTestResolver(dialer, integrations, 0)

	result := r.Resolve(context.Background(), []Source{{
		Ref: connection.ParseString("i:crm"),
	}})

	// The toolset stays keyed by the integration id, not the endpoint.
	if _, ok := result["crm"]; !ok {
		t.Fatalf("expected result keyed by integration id, got %v", result)
	}
	if integrations.calls != 1 {
		t.Errorf("GetIntegration called %d times, want 1", integrations.calls)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Lookup Record", "lookup_record"},
		{"create", "create"},
		{"HTTP/GET v2", "http_get_v2"},
		{"  spaced  ", "spaced"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
