// Package agent contains the generation orchestrator: it gates calls on the
// wallet, resolves the thread's toolset, binds the model and drives the
// multi-step tool loop.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/deco-cx/agent-runtime/internal/config"
	"github.com/deco-cx/agent-runtime/internal/connection"
	"github.com/deco-cx/agent-runtime/internal/observability"
	"github.com/deco-cx/agent-runtime/internal/threads"
	"github.com/deco-cx/agent-runtime/internal/toolset"
	"github.com/deco-cx/agent-runtime/internal/wallet"
	"github.com/deco-cx/agent-runtime/internal/workingmem"
	"github.com/deco-cx/agent-runtime/pkg/models"
)

// ConfigStore persists agent configurations.
type ConfigStore interface {
	// GetConfiguration returns the stored configuration, or (nil, nil)
	// when the agent was never configured.
	GetConfiguration(ctx context.Context, agentID string) (*models.AgentConfiguration, error)

	// SaveConfiguration persists a full configuration and returns the
	// stored object.
	SaveConfiguration(ctx context.Context, cfg *models.AgentConfiguration) (*models.AgentConfiguration, error)
}

// Options are the per-call overrides of a generate or stream request.
type Options struct {
	ThreadID   string
	ResourceID string

	// Model, Instructions, MaxSteps and MaxTokens override the agent
	// configuration for this call only.
	Model        string
	Instructions string
	MaxSteps     int
	MaxTokens    int

	// Tools overrides the thread tool-set for this call only.
	Tools models.ToolsSet

	// Thinking toggles extended thinking.
	Thinking *bool

	// DirectProvider forces gateway bypass on or off.
	DirectProvider *bool
}

// Runtime orchestrates generation for one agent. Instances are independent:
// each carries its own toolset cache and bound model, so concurrent runtimes
// for different agents never share mutable state.
type Runtime struct {
	agentID   string
	principal string

	factory  *Factory
	store    threads.Store
	wallet   wallet.Wallet
	resolver *toolset.Resolver
	configs  ConfigStore
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer

	mu          sync.RWMutex
	agentCfg    *models.AgentConfiguration
	bound       *BoundAgent
	initialized bool
}

// RuntimeOptions wires a Runtime's collaborators.
type RuntimeOptions struct {
	AgentID   string
	Principal string

	Factory  *Factory
	Store    threads.Store
	Wallet   wallet.Wallet
	Resolver *toolset.Resolver
	Configs  ConfigStore
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Tracer   trace.Tracer
}

// NewRuntime creates a runtime for one agent.
func NewRuntime(opts RuntimeOptions) *Runtime {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		agentID:   opts.AgentID,
		principal: opts.Principal,
		factory:   opts.Factory,
		store:     opts.Store,
		wallet:    opts.Wallet,
		resolver:  opts.Resolver,
		configs:   opts.Configs,
		cfg:       cfg,
		logger:    logger.With("component", "agent.runtime", "agent", opts.AgentID),
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
	}
}

// Generate runs a full generation and returns the aggregate result. Usage is
// recorded after the result is produced; a recording failure never unwinds
// the generation.
func (r *Runtime) Generate(ctx context.Context, messages []models.Message, opts *Options) (*GenerationResult, error) {
	if opts == nil {
		opts = &Options{}
	}
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "agent.generate")
		defer span.End()
	}
	start := time.Now()

	bound, locator, tools, err := r.prepare(ctx, messages, opts)
	if err != nil {
		r.observeGeneration("generate", "rejected", "", start)
		return nil, err
	}

	result, err := r.run(ctx, bound, locator, messages, tools, nil)
	if err != nil {
		r.observeGeneration("generate", "error", bound.Model, start)
		return nil, err
	}

	r.recordUsage(ctx, bound, locator, result.Usage)
	r.observeGeneration("generate", "success", bound.Model, start)
	return result, nil
}

// Stream runs a generation and returns a streaming response as soon as the
// model call is initiated. The balance gate and tool resolution happen
// before this returns; usage recording is wired to stream completion, since
// totals are only known then.
func (r *Runtime) Stream(ctx context.Context, messages []models.Message, opts *Options) (*StreamingResponse, error) {
	if opts == nil {
		opts = &Options{}
	}
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "agent.stream")
		defer span.End()
	}
	start := time.Now()

	bound, locator, tools, err := r.prepare(ctx, messages, opts)
	if err != nil {
		r.observeGeneration("stream", "rejected", "", start)
		return nil, err
	}

	out := make(chan *CompletionChunk, 16)
	resp := newStreamingResponse(out)
	ttfb := newTTFBTimer(bound.Model, r.metrics)

	go func() {
		defer close(out)

		result, err := r.run(ctx, bound, locator, messages, tools, func(chunk *CompletionChunk) {
			ttfb.End()
			out <- chunk
		})
		if err != nil {
			r.observeGeneration("stream", "error", bound.Model, start)
			resp.finish(nil, err)
			return
		}

		r.recordUsage(ctx, bound, locator, result.Usage)
		r.observeGeneration("stream", "success", bound.Model, start)
		resp.finish(result, nil)
	}()

	return resp, nil
}

// prepare runs the shared front half of generate and stream: the balance
// gate, toolset resolution and agent binding, in that order. Resolving tools
// before confirming balance would waste work on a call about to be rejected.
func (r *Runtime) prepare(ctx context.Context, messages []models.Message, opts *Options) (*BoundAgent, models.ThreadLocator, toolset.Map, error) {
	if err := r.ensureInitialized(ctx); err != nil {
		return nil, models.ThreadLocator{}, nil, err
	}

	ok, err := r.wallet.CanProceed(ctx, r.principal)
	if err != nil {
		return nil, models.ThreadLocator{}, nil, fmt.Errorf("balance check: %w", err)
	}
	if !ok {
		return nil, models.ThreadLocator{}, nil, ErrInsufficientFunds
	}

	locator := r.locator(opts)
	tools := r.resolveTools(ctx, locator, opts.Tools)

	bound, err := r.boundFor(ctx, messages, opts)
	if err != nil {
		return nil, models.ThreadLocator{}, nil, err
	}
	return bound, locator, tools, nil
}

// run drives the multi-step tool loop. emit, when non-nil, receives every
// chunk as it arrives.
func (r *Runtime) run(ctx context.Context, bound *BoundAgent, locator models.ThreadLocator, inbound []models.Message, tools toolset.Map, emit func(*CompletionChunk)) (*GenerationResult, error) {
	conversation := r.loadHistory(ctx, locator, bound)
	for _, msg := range inbound {
		conversation = append(conversation, toCompletionMessage(msg))
	}
	r.persistInbound(ctx, locator, inbound)

	flat := tools.Flatten()
	defs := toolDefs(flat)

	system := bound.Instructions
	if bound.WorkingMemory != nil {
		if doc, ok := r.threadWorkingMemory(ctx, locator); ok {
			system += "\n\n<working_memory>\n" + doc + "\n</working_memory>"
		}
	}

	result := &GenerationResult{ThreadID: locator.ThreadID, Model: bound.Model}

	for step := 1; step <= bound.MaxSteps; step++ {
		result.Steps = step

		req := &CompletionRequest{
			Model:                bound.Model,
			System:               system,
			Messages:             conversation,
			Tools:                defs,
			MaxTokens:            bound.MaxTokens,
			Temperature:          bound.Temperature,
			EnableThinking:       bound.ThinkingBudget > 0,
			ThinkingBudgetTokens: bound.ThinkingBudget,
		}

		chunks, err := bound.Provider.Complete(ctx, req)
		if err != nil {
			return nil, err
		}

		var (
			stepText  strings.Builder
			toolCalls []models.ToolCall
		)
		for chunk := range chunks {
			if chunk.Error != nil {
				return nil, chunk.Error
			}
			if emit != nil {
				emit(chunk)
			}
			stepText.WriteString(chunk.Text)
			result.Thinking += chunk.Thinking
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
			if chunk.Usage != nil {
				result.Usage.Add(chunk.Usage)
			}
		}

		result.Text += stepText.String()

		if len(toolCalls) == 0 {
			r.persistResult(ctx, locator, result)
			return result, nil
		}

		results := r.executeToolCalls(ctx, flat, toolCalls)
		result.ToolCalls = append(result.ToolCalls, toolCalls...)
		result.Results = append(result.Results, results...)

		conversation = append(conversation,
			CompletionMessage{Role: "assistant", Content: stepText.String(), ToolCalls: toolCalls},
			CompletionMessage{Role: "tool", ToolResults: results},
		)
	}

	// Out of steps with tool calls still pending. The text produced so far
	// is still a valid answer fragment; surface it instead of discarding.
	r.logger.Warn("generation stopped at step limit", "max_steps", bound.MaxSteps)
	r.persistResult(ctx, locator, result)
	return result, nil
}

func (r *Runtime) executeToolCalls(ctx context.Context, flat map[string]*toolset.CallableTool, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, 0, len(calls))
	for _, call := range calls {
		tool, ok := flat[call.Name]
		if !ok {
			results = append(results, models.ToolResult{
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("tool %q not found", call.Name),
				IsError:    true,
			})
			continue
		}

		callCtx := ctx
		if timeout := r.cfg.Tools.CallTimeout; timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		out, err := tool.Execute(callCtx, call.Input)
		if err != nil {
			r.logger.Warn("tool execution failed",
				"tool", call.Name,
				"connection", tool.ConnectionID,
				"error", err)
			results = append(results, models.ToolResult{
				ToolCallID: call.ID,
				Content:    err.Error(),
				IsError:    true,
			})
			continue
		}
		results = append(results, models.ToolResult{
			ToolCallID: call.ID,
			Content:    out.Text(),
			IsError:    out.IsError,
		})
	}
	return results
}

// CallTool invokes a single tool directly, outside a generation. The tool id
// is "<connectionId>.<toolName>". Lookup misses come back as a structured
// failure, never an error: this path serves UI code that must not crash on a
// stale tool reference.
func (r *Runtime) CallTool(ctx context.Context, locator models.ThreadLocator, toolID string, input json.RawMessage) (*ToolCallOutcome, error) {
	if err := r.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	// Connection ids may contain dots (URLs); tool slugs never do.
	cut := strings.LastIndex(toolID, ".")
	if cut <= 0 || cut == len(toolID)-1 {
		return &ToolCallOutcome{Message: fmt.Sprintf("invalid tool id %q, want \"<connection>.<tool>\"", toolID)}, nil
	}
	connectionID, slug := toolID[:cut], toolID[cut+1:]

	toolSet := r.GetThreadTools(ctx, locator)
	if _, ok := toolSet[connectionID]; !ok {
		return &ToolCallOutcome{Message: fmt.Sprintf("connection %q not found in thread tool set", connectionID)}, nil
	}

	tools, err := r.resolver.ResolveConnection(ctx, connectionID)
	if err != nil {
		return &ToolCallOutcome{Message: fmt.Sprintf("connection %q not found: %v", connectionID, err)}, nil
	}
	tool, ok := tools[toolset.Slugify(slug)]
	if !ok {
		return &ToolCallOutcome{Message: fmt.Sprintf("tool %q not found on connection %q", slug, connectionID)}, nil
	}

	out, err := tool.Execute(ctx, input)
	if err != nil {
		callErr := newToolCallError(connectionID, slug, err)
		r.logger.Warn("direct tool call failed", "tool", toolID, "error", err)
		return &ToolCallOutcome{Message: callErr.Error()}, nil
	}
	if out.IsError {
		return &ToolCallOutcome{Message: out.Text()}, nil
	}
	return &ToolCallOutcome{Success: true, Data: out}, nil
}

// ToolCallOutcome is the structured result of a direct tool call.
type ToolCallOutcome struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Configure merges a partial update into the agent configuration, persists
// it and re-initializes the bound model. The id and views are protected.
func (r *Runtime) Configure(ctx context.Context, patch ConfigurationPatch) (*models.AgentConfiguration, error) {
	if err := r.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	if r.configs == nil {
		return nil, errors.New("no configuration store")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.agentCfg.Clone()
	patch.apply(next)
	if next.ID == "" {
		next.ID = r.agentID
	}

	// Surface a broken working-memory schema now, not mid-generation.
	if _, err := workingmem.Compile(next.Memory.WorkingMemory); err != nil {
		return nil, err
	}

	saved, err := r.configs.SaveConfiguration(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("save configuration: %w", err)
	}
	if saved == nil {
		return nil, errors.New("configuration store returned no configuration")
	}

	bound, err := r.factory.Build(ctx, saved, BuildOptions{Workspace: r.principal})
	if err != nil {
		return nil, err
	}

	r.agentCfg = saved
	r.bound = bound
	return saved.Clone(), nil
}

// ListThreads returns the principal's threads, newest first.
func (r *Runtime) ListThreads(ctx context.Context) ([]*models.Thread, error) {
	return r.store.Query(ctx, threads.QueryOptions{ResourceID: r.principal})
}

// Query returns a thread's messages in chronological order.
func (r *Runtime) Query(ctx context.Context, locator models.ThreadLocator, limit int) ([]*models.Message, error) {
	msgs, err := r.store.GetMessages(ctx, locator.ThreadID, limit)
	if err != nil && !errors.Is(err, threads.ErrThreadNotFound) {
		return nil, err
	}
	return msgs, nil
}

func (r *Runtime) ensureInitialized(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return nil
	}

	if r.configs == nil {
		r.agentCfg = &models.AgentConfiguration{ID: r.agentID}
		r.initialized = true
		return nil
	}

	cfg, err := r.configs.GetConfiguration(ctx, r.agentID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}
	if cfg == nil {
		// Cold start: nobody configured this agent yet.
		cfg = &models.AgentConfiguration{ID: r.agentID}
	}
	r.agentCfg = cfg
	r.initialized = true
	return nil
}

// boundFor returns the shared bound agent, or builds a fresh one when the
// call carries overrides. The shared instance is never mutated, so calls
// with the default model keep using it concurrently.
func (r *Runtime) boundFor(ctx context.Context, messages []models.Message, opts *Options) (*BoundAgent, error) {
	hasPDF := models.HasPDFAttachment(messages)
	overridden := opts.Model != "" || opts.Instructions != "" ||
		opts.MaxSteps > 0 || opts.MaxTokens > 0 ||
		opts.Thinking != nil || opts.DirectProvider != nil || hasPDF

	if !overridden {
		return r.sharedBound(ctx)
	}

	r.mu.RLock()
	agentCfg := r.agentCfg
	r.mu.RUnlock()

	return r.factory.Build(ctx, agentCfg, BuildOptions{
		Workspace:      r.principal,
		Model:          opts.Model,
		Instructions:   opts.Instructions,
		MaxSteps:       opts.MaxSteps,
		MaxTokens:      opts.MaxTokens,
		Thinking:       opts.Thinking,
		DirectProvider: opts.DirectProvider,
		HasPDF:         hasPDF,
	})
}

// sharedBound returns the lazily built bound agent for the stored
// configuration.
func (r *Runtime) sharedBound(ctx context.Context) (*BoundAgent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bound == nil {
		bound, err := r.factory.Build(ctx, r.agentCfg, BuildOptions{Workspace: r.principal})
		if err != nil {
			return nil, err
		}
		r.bound = bound
	}
	return r.bound, nil
}

func (r *Runtime) locator(opts *Options) models.ThreadLocator {
	threadID := opts.ThreadID
	if threadID == "" {
		threadID = r.store.GenerateID()
	}
	resourceID := opts.ResourceID
	if resourceID == "" {
		resourceID = r.principal
	}
	if resourceID == "" {
		resourceID = threadID
	}
	return models.ThreadLocator{ThreadID: threadID, ResourceID: resourceID}
}

// resolveTools picks the effective tool-set (per-call override, then thread
// override, then configured default) and resolves it concurrently.
func (r *Runtime) resolveTools(ctx context.Context, locator models.ThreadLocator, override models.ToolsSet) toolset.Map {
	toolSet := override
	if toolSet == nil {
		toolSet = r.GetThreadTools(ctx, locator)
	}
	if len(toolSet) == 0 {
		return toolset.Map{}
	}

	sources := make([]toolset.Source, 0, len(toolSet))
	for id, filters := range toolSet {
		sources = append(sources, toolset.Source{
			Ref:     connection.FromCanonical(id),
			Filters: filters,
		})
	}
	return r.resolver.Resolve(ctx, sources)
}

func (r *Runtime) recordUsage(ctx context.Context, bound *BoundAgent, locator models.ThreadLocator, usage models.Usage) {
	err := r.wallet.RecordUsage(ctx, wallet.Record{
		Principal: r.principal,
		AgentID:   r.agentID,
		ThreadID:  locator.ThreadID,
		Model:     bound.Model,
		Usage:     usage,
	})
	if err != nil {
		// Billing is best-effort: failing a generation that already
		// succeeded over a billing write is worse than an unbilled call.
		r.logger.Error("usage recording failed", "thread", locator.ThreadID, "error", err)
		if r.metrics != nil {
			r.metrics.UsageRecordFailures.Inc()
		}
		return
	}
	if r.metrics != nil {
		r.metrics.TokensUsed.WithLabelValues(bound.Model, "input").Add(float64(usage.InputTokens))
		r.metrics.TokensUsed.WithLabelValues(bound.Model, "output").Add(float64(usage.OutputTokens))
	}
}

func (r *Runtime) observeGeneration(mode, status, model string, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.GenerationCounter.WithLabelValues(mode, status).Inc()
	if model != "" {
		r.metrics.GenerationDuration.WithLabelValues(mode, model).Observe(time.Since(start).Seconds())
	}
}

// loadHistory replays prior thread messages under the agent's history
// budget. Store failures degrade to an empty history.
func (r *Runtime) loadHistory(ctx context.Context, locator models.ThreadLocator, bound *BoundAgent) []CompletionMessage {
	history, err := r.store.GetMessages(ctx, locator.ThreadID, bound.LastMessages)
	if err != nil {
		if !errors.Is(err, threads.ErrThreadNotFound) {
			r.logger.Warn("history load failed, continuing without", "thread", locator.ThreadID, "error", err)
		}
		return nil
	}

	// Walk from the newest message backwards until the budget is spent.
	budget := bound.HistoryTokenBudget
	kept := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := estimateTokens(history[i].Content)
		if cost > budget {
			break
		}
		budget -= cost
		kept++
	}

	out := make([]CompletionMessage, 0, kept)
	for _, msg := range history[len(history)-kept:] {
		out = append(out, toCompletionMessage(*msg))
	}
	return out
}

func (r *Runtime) persistInbound(ctx context.Context, locator models.ThreadLocator, inbound []models.Message) {
	if len(inbound) == 0 {
		return
	}
	if err := r.ensureThread(ctx, locator); err != nil {
		r.logger.Warn("thread persistence failed", "thread", locator.ThreadID, "error", err)
		return
	}
	for _, msg := range inbound {
		copied := msg
		if err := r.store.AppendMessage(ctx, locator.ThreadID, &copied); err != nil {
			r.logger.Warn("message persistence failed", "thread", locator.ThreadID, "error", err)
			return
		}
	}
}

func (r *Runtime) persistResult(ctx context.Context, locator models.ThreadLocator, result *GenerationResult) {
	msg := &models.Message{
		Role:        models.RoleAssistant,
		Content:     result.Text,
		ToolCalls:   result.ToolCalls,
		ToolResults: result.Results,
	}
	if err := r.store.AppendMessage(ctx, locator.ThreadID, msg); err != nil {
		r.logger.Warn("result persistence failed", "thread", locator.ThreadID, "error", err)
	}
}

func (r *Runtime) ensureThread(ctx context.Context, locator models.ThreadLocator) error {
	_, err := r.store.GetThreadByID(ctx, locator.ThreadID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, threads.ErrThreadNotFound) {
		return err
	}
	return r.store.SaveThread(ctx, &models.Thread{
		ID:         locator.ThreadID,
		ResourceID: locator.ResourceID,
	})
}

func toCompletionMessage(msg models.Message) CompletionMessage {
	return CompletionMessage{
		Role:        string(msg.Role),
		Content:     msg.Content,
		ToolCalls:   msg.ToolCalls,
		ToolResults: msg.ToolResults,
		Attachments: msg.Attachments,
	}
}

func toolDefs(flat map[string]*toolset.CallableTool) []ToolDef {
	if len(flat) == 0 {
		return nil
	}
	defs := make([]ToolDef, 0, len(flat))
	for slug, tool := range flat {
		defs = append(defs, ToolDef{
			Name:        slug,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return defs
}

// estimateTokens approximates token counts at four characters per token.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
