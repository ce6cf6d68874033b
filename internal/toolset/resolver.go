package toolset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deco-cx/agent-runtime/internal/connection"
	"github.com/deco-cx/agent-runtime/internal/mcp"
	"github.com/deco-cx/agent-runtime/internal/observability"
)

// DefaultConnectionTimeout bounds tool discovery per connection.
const DefaultConnectionTimeout = 5 * time.Second

// Integration is the stored/catalog representation of a connection.
type Integration struct {
	ID         string
	Name       string
	Connection connection.Ref
}

// IntegrationStore looks up stored integrations by id.
type IntegrationStore interface {
	GetIntegration(ctx context.Context, id string) (*Integration, error)
}

// ToolClient is the surface the resolver needs from a live connection.
// *mcp.Client and *mcp.InnateProvider both satisfy it.
type ToolClient interface {
	ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (*mcp.ToolCallResult, error)
}

// Dialer turns a connection reference into a live ToolClient.
type Dialer interface {
	Dial(ctx context.Context, ref connection.Ref) (ToolClient, error)
}

// Source pairs a connection reference with its tool-name filter list.
// An empty filter list admits all tools.
type Source struct {
	Ref     connection.Ref
	Filters []string
}

// Resolver builds callable toolsets from configured sources. Per-connection
// failures are isolated: a timed-out or broken connection contributes no
// tools and is not cached, so the next resolution retries it.
type Resolver struct {
	normalizer   *connection.Normalizer
	integrations IntegrationStore
	dialer       Dialer
	cache        *Cache
	timeout      time.Duration
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Integrations IntegrationStore
	Dialer       Dialer
	Cache        *Cache
	Timeout      time.Duration
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

// NewResolver creates a resolver. Cache and Timeout default when unset.
func NewResolver(opts ResolverOptions) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cache := opts.Cache
	if cache == nil {
		cache = NewCache()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectionTimeout
	}

	return &Resolver{
		normalizer:   connection.NewNormalizer(logger),
		integrations: opts.Integrations,
		dialer:       opts.Dialer,
		cache:        cache,
		timeout:      timeout,
		logger:       logger.With("component", "toolset"),
		metrics:      opts.Metrics,
	}
}

// Cache exposes the resolver's cache for explicit invalidation.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve fans out over all sources concurrently and merges the per-connection
// results. It never returns an error for a single bad connection; total time
// is bounded by the per-connection timeout, not the sum across connections.
func (r *Resolver) Resolve(ctx context.Context, sources []Source) Map {
	result := make(Map, len(sources))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, src := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()

			id, tools := r.resolveConnection(ctx, src)
			if len(tools) == 0 {
				return
			}

			mu.Lock()
			result[id] = tools
			mu.Unlock()
		}(src)
	}

	wg.Wait()
	return result
}

// ResolveConnection resolves a single connection by its canonical id and
// returns its full (unfiltered) toolset.
func (r *Resolver) ResolveConnection(ctx context.Context, connectionID string) (map[string]*CallableTool, error) {
	if entry, ok := r.cache.Get(connectionID); ok {
		return entry.Tools, nil
	}

	ref := connection.FromCanonical(connectionID)
	tools, err := r.fetchTools(ctx, ref, connectionID)
	if err != nil {
		return nil, err
	}

	r.cache.Put(connectionID, &Entry{Tools: tools})
	return tools, nil
}

// resolveConnection resolves one source, applying its filters. Failures are
// logged and swallowed so the remaining connections still contribute.
func (r *Resolver) resolveConnection(ctx context.Context, src Source) (string, map[string]*CallableTool) {
	id := r.normalizer.Normalize(src.Ref)
	start := time.Now()

	entry, ok := r.cache.Get(id)
	if !ok {
		tools, err := r.fetchTools(ctx, src.Ref, id)
		if err != nil {
			outcome := "error"
			if errors.Is(err, context.DeadlineExceeded) {
				outcome = "timeout"
			}
			r.observeResolution(outcome, start)
			r.logger.Warn("skipping connection: tool discovery failed",
				"connection", id,
				"outcome", outcome,
				"error", err)
			return id, nil
		}
		entry = &Entry{Tools: tools}
		r.cache.Put(id, entry)
	}

	if len(entry.Tools) == 0 {
		// An integration with no usable tools contributes nothing.
		r.observeResolution("empty", start)
		return id, nil
	}

	r.observeResolution("ok", start)
	return id, filterTools(entry.Tools, src.Filters, id, r.logger)
}

// fetchTools dials the connection and lists its tools under the discovery
// timeout. Cancelling the context aborts the in-flight fetch.
func (r *Resolver) fetchTools(ctx context.Context, ref connection.Ref, connectionID string) (map[string]*CallableTool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	switch ref.Kind {
	case connection.KindIntegrationID, connection.KindAgentID:
		if r.integrations == nil {
			return nil, fmt.Errorf("no integration store configured")
		}
		integration, err := r.integrations.GetIntegration(ctx, ref.ID)
		if err != nil {
			return nil, fmt.Errorf("get integration: %w", err)
		}
		ref = integration.Connection
	}

	client, err := r.dialer.Dial(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	descriptors, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	tools := make(map[string]*CallableTool, len(descriptors))
	for _, desc := range descriptors {
		tools[Slugify(desc.Name)] = r.newCallable(desc, client, connectionID)
	}
	return tools, nil
}

// newCallable binds a descriptor to its connection. An execution error drops
// the whole connection's cache entry so the next call re-resolves it.
func (r *Resolver) newCallable(desc mcp.ToolDescriptor, client ToolClient, connectionID string) *CallableTool {
	name := desc.Name
	return &CallableTool{
		Name:         name,
		Slug:         Slugify(name),
		Description:  desc.Description,
		InputSchema:  desc.InputSchema,
		ConnectionID: connectionID,
		execute: func(ctx context.Context, arguments json.RawMessage) (*mcp.ToolCallResult, error) {
			result, err := client.CallTool(ctx, name, arguments)
			if err != nil {
				r.cache.Invalidate(connectionID)
				if r.metrics != nil {
					r.metrics.ToolExecutionCounter.WithLabelValues(connectionID, "error").Inc()
				}
				return nil, err
			}
			if r.metrics != nil {
				r.metrics.ToolExecutionCounter.WithLabelValues(connectionID, "success").Inc()
			}
			return result, nil
		},
	}
}

func (r *Resolver) observeResolution(outcome string, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.ToolResolutionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// filterTools applies a tool-name filter list to a connection's toolset.
// Unmatched filter entries are logged, never fatal: a stale tool name in
// configuration must not break the whole toolset.
func filterTools(tools map[string]*CallableTool, filters []string, connectionID string, logger *slog.Logger) map[string]*CallableTool {
	if len(filters) == 0 {
		out := make(map[string]*CallableTool, len(tools))
		for slug, tool := range tools {
			out[slug] = tool
		}
		return out
	}

	out := make(map[string]*CallableTool, len(filters))
	for _, filter := range filters {
		slug := Slugify(filter)
		if tool, ok := tools[slug]; ok {
			out[slug] = tool
			continue
		}
		logger.Warn("configured tool not exposed by connection",
			"connection", connectionID,
			"tool", filter)
	}
	return out
}
