package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/deco-cx/agent-runtime/internal/config"
	"github.com/deco-cx/agent-runtime/internal/prompts"
	"github.com/deco-cx/agent-runtime/internal/vault"
	"github.com/deco-cx/agent-runtime/internal/workingmem"
	"github.com/deco-cx/agent-runtime/pkg/models"
)

// DefaultInstructions is the cold-start system prompt for an agent nobody
// has configured yet.
const DefaultInstructions = "You are a brand new agent. Help the user configure you: ask what you should do, which tools you need, and how you should behave."

// anthropicProvider is the provider name for the direct Anthropic API.
// Everything else routes through the multi-provider gateway.
const anthropicProvider = "anthropic"

// Credentials carries resolved provider credentials for one build.
type Credentials struct {
	APIKey  string
	BaseURL string
}

// ProviderRegistry constructs LLM providers on demand. "anthropic" selects
// the direct Anthropic client; any other name goes through the gateway.
type ProviderRegistry interface {
	Provider(name string, creds Credentials) (LLMProvider, error)
}

// BoundAgent is an immutable, model-bound agent ready for generation. A
// per-call override builds a fresh BoundAgent instead of mutating a shared
// one, so concurrent calls with the default model stay unaffected.
type BoundAgent struct {
	Name         string
	Instructions string
	Provider     LLMProvider
	ProviderName string

	// Model is the bare model id, without the provider prefix.
	Model string

	MaxSteps       int
	MaxTokens      int
	Temperature    *float64
	ThinkingBudget int

	// HistoryTokenBudget bounds how many historical tokens are replayed
	// into the context window.
	HistoryTokenBudget int

	// LastMessages is the history window size from the memory settings.
	LastMessages int

	WorkingMemory *workingmem.Validator
}

// BuildOptions adjust a single factory build.
type BuildOptions struct {
	// Workspace scopes credential lookup in the vault.
	Workspace string

	// Model overrides the configured model id for this build.
	Model string

	// Instructions overrides the configured instructions for this build.
	Instructions string

	// MaxSteps and MaxTokens override the configured limits when positive.
	MaxSteps  int
	MaxTokens int

	// Thinking toggles extended thinking. Nil keeps the default (off).
	Thinking *bool

	// DirectProvider forces provider routing when non-nil: true bypasses
	// the gateway, false forces it. Nil lets the heuristics decide.
	DirectProvider *bool

	// HasPDF marks the inbound payload as carrying a PDF attachment,
	// which feeds the gateway-bypass heuristic for claude models.
	HasPDF bool
}

// Factory builds BoundAgents from stored agent configuration.
type Factory struct {
	cfg       *config.Config
	vault     *vault.Vault
	mentions  *prompts.Resolver
	providers ProviderRegistry
	logger    *slog.Logger
}

// FactoryOptions configures a Factory. Vault and Mentions are optional.
type FactoryOptions struct {
	Config    *config.Config
	Vault     *vault.Vault
	Mentions  *prompts.Resolver
	Providers ProviderRegistry
	Logger    *slog.Logger
}

// NewFactory creates an agent factory.
func NewFactory(opts FactoryOptions) *Factory {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		cfg:       cfg,
		vault:     opts.Vault,
		mentions:  opts.Mentions,
		providers: opts.Providers,
		logger:    logger.With("component", "agent.factory"),
	}
}

// Build resolves instructions, credentials and the provider binding for one
// agent configuration. The returned BoundAgent is never mutated afterwards.
func (f *Factory) Build(ctx context.Context, agentCfg *models.AgentConfiguration, opts BuildOptions) (*BoundAgent, error) {
	if agentCfg == nil {
		agentCfg = &models.AgentConfiguration{}
	}

	instructions := agentCfg.Instructions
	if opts.Instructions != "" {
		instructions = opts.Instructions
	}
	if instructions == "" {
		instructions = DefaultInstructions
	} else if f.mentions != nil {
		instructions = f.mentions.ResolveFor(ctx, agentCfg.ID, instructions)
	}
	if max := f.cfg.Generation.MaxInstructionChars; len(instructions) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(instructions[cut]) {
			cut--
		}
		instructions = instructions[:cut]
	}

	modelID := agentCfg.Model
	if opts.Model != "" {
		modelID = opts.Model
	}
	if modelID == "" {
		modelID = f.cfg.Generation.DefaultModel
	}
	providerName, model := SplitModelID(modelID)

	creds, err := f.resolveCredentials(ctx, opts.Workspace, providerName, model)
	if err != nil {
		return nil, err
	}

	routedProvider := providerName
	if !f.useDirectProvider(providerName, model, opts) {
		routedProvider = "gateway"
	}
	provider, err := f.providers.Provider(routedProvider, creds)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrNoProvider, modelID, err)
	}

	maxSteps := firstPositive(opts.MaxSteps, agentCfg.MaxSteps, f.cfg.Generation.MaxSteps)
	maxTokens := firstPositive(opts.MaxTokens, agentCfg.MaxTokens, f.cfg.Generation.MaxTokens)

	thinkingBudget := 0
	if opts.Thinking != nil && *opts.Thinking {
		thinkingBudget = f.cfg.Generation.ThinkingBudget
	}

	workingMemory, err := workingmem.Compile(agentCfg.Memory.WorkingMemory)
	if err != nil {
		return nil, err
	}

	name := agentCfg.Name
	if name == "" {
		name = "Anonymous"
	}

	temperature := agentCfg.Temperature
	if temperature == nil {
		t := f.cfg.Generation.DefaultTemperature
		temperature = &t
	}

	return &BoundAgent{
		Name:               name,
		Instructions:       instructions,
		Provider:           provider,
		ProviderName:       routedProvider,
		Model:              model,
		MaxSteps:           maxSteps,
		MaxTokens:          maxTokens,
		Temperature:        temperature,
		ThinkingBudget:     thinkingBudget,
		HistoryTokenBudget: historyBudget(model, maxTokens),
		LastMessages:       agentCfg.Memory.LastMessages,
		WorkingMemory:      workingMemory,
	}, nil
}

// useDirectProvider decides whether to bypass the gateway. An explicit
// caller flag always wins. Otherwise PDF attachments on a claude model force
// the direct path: the gateway mangles PDF document blocks for that family.
func (f *Factory) useDirectProvider(providerName, model string, opts BuildOptions) bool {
	if opts.DirectProvider != nil {
		return *opts.DirectProvider
	}
	if opts.HasPDF && providerName == anthropicProvider && strings.Contains(model, "claude") {
		f.logger.Debug("forcing direct provider for pdf input", "model", model)
		return true
	}
	return false
}

func (f *Factory) resolveCredentials(ctx context.Context, workspace, providerName, model string) (Credentials, error) {
	if f.vault != nil && workspace != "" {
		entry, err := f.vault.GetWorkspaceModel(ctx, workspace, model)
		if err == nil {
			return Credentials{APIKey: entry.APIKey, BaseURL: entry.BaseURL}, nil
		}
		if !errors.Is(err, vault.ErrModelNotFound) {
			return Credentials{}, fmt.Errorf("resolve workspace model: %w", err)
		}
	}

	provider := f.cfg.Providers[providerName]
	return Credentials{APIKey: provider.APIKey, BaseURL: provider.BaseURL}, nil
}

// SplitModelID splits "provider:model" ids. A bare model id defaults to the
// anthropic provider.
func SplitModelID(id string) (provider, model string) {
	if before, after, ok := strings.Cut(id, ":"); ok {
		return before, after
	}
	return anthropicProvider, id
}

// historyBudget is the token budget for replayed history: the model context
// window minus the reserved output tokens. Token counts are estimated at
// four characters per token, so the budget errs on the small side.
func historyBudget(model string, maxTokens int) int {
	context := 200_000
	if !strings.Contains(model, "claude") {
		context = 128_000
	}
	budget := context - maxTokens
	if budget < 1024 {
		budget = 1024
	}
	return budget
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
