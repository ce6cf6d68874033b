package agent

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/deco-cx/agent-runtime/internal/threads"
	"github.com/deco-cx/agent-runtime/pkg/models"
)

// UpdateResult is the structured outcome of a thread tool-set update.
type UpdateResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GetThreadTools returns the thread's tool-set override, falling back to the
// agent's configured default. It never fails: store errors degrade to the
// defaults, since a broken thread row must not take the agent offline.
func (r *Runtime) GetThreadTools(ctx context.Context, locator models.ThreadLocator) models.ToolsSet {
	if err := r.ensureInitialized(ctx); err != nil {
		r.logger.Warn("configuration load failed, using empty tool set", "error", err)
		return models.ToolsSet{}
	}

	defaults := func() models.ToolsSet {
		r.mu.RLock()
		defer r.mu.RUnlock()
		if r.agentCfg == nil {
			return models.ToolsSet{}
		}
		return r.agentCfg.ToolsSet.Clone()
	}

	if locator.ThreadID == "" {
		return defaults()
	}

	thread, err := r.store.GetThreadByID(ctx, locator.ThreadID)
	if err != nil {
		if !errors.Is(err, threads.ErrThreadNotFound) {
			r.logger.Warn("thread lookup failed, using default tool set",
				"thread", locator.ThreadID,
				"error", err)
		}
		return defaults()
	}

	override, ok := thread.ToolSetOverride()
	if !ok {
		return defaults()
	}
	return override
}

// UpdateThreadTools replaces the thread's tool-set override and invalidates
// the whole toolset cache: the new set can reference connections the cache
// has never seen. A missing thread is a structured failure, not an error.
func (r *Runtime) UpdateThreadTools(ctx context.Context, locator models.ThreadLocator, toolSet models.ToolsSet) *UpdateResult {
	thread, err := r.store.GetThreadByID(ctx, locator.ThreadID)
	if err != nil {
		if errors.Is(err, threads.ErrThreadNotFound) {
			return &UpdateResult{Message: "thread not found"}
		}
		return &UpdateResult{Message: "thread lookup failed: " + err.Error()}
	}

	thread.SetToolSetOverride(toolSet)
	if err := r.store.SaveThread(ctx, thread); err != nil {
		return &UpdateResult{Message: "thread update failed: " + err.Error()}
	}

	r.resolver.Cache().InvalidateAll()
	return &UpdateResult{Success: true, Message: "thread tools updated"}
}

// UpdateWorkingMemory validates a working-memory document against the
// agent's compiled schema and stores it on the thread. The next generation
// on the thread sees the document in its system prompt. Validation failures
// and disabled working memory are structured failures, not errors.
func (r *Runtime) UpdateWorkingMemory(ctx context.Context, locator models.ThreadLocator, document json.RawMessage) *UpdateResult {
	if err := r.ensureInitialized(ctx); err != nil {
		return &UpdateResult{Message: err.Error()}
	}
	bound, err := r.sharedBound(ctx)
	if err != nil {
		return &UpdateResult{Message: err.Error()}
	}
	if bound.WorkingMemory == nil {
		return &UpdateResult{Message: "working memory is not enabled"}
	}
	if err := bound.WorkingMemory.Validate(document); err != nil {
		return &UpdateResult{Message: err.Error()}
	}

	thread, err := r.store.GetThreadByID(ctx, locator.ThreadID)
	if err != nil {
		if errors.Is(err, threads.ErrThreadNotFound) {
			return &UpdateResult{Message: "thread not found"}
		}
		return &UpdateResult{Message: "thread lookup failed: " + err.Error()}
	}

	thread.SetWorkingMemory(string(document))
	if err := r.store.SaveThread(ctx, thread); err != nil {
		return &UpdateResult{Message: "thread update failed: " + err.Error()}
	}
	return &UpdateResult{Success: true, Message: "working memory updated"}
}

// threadWorkingMemory loads the thread's working-memory document.
func (r *Runtime) threadWorkingMemory(ctx context.Context, locator models.ThreadLocator) (string, bool) {
	thread, err := r.store.GetThreadByID(ctx, locator.ThreadID)
	if err != nil {
		return "", false
	}
	return thread.WorkingMemory()
}

// ConfigurationPatch is a partial agent-configuration update. Nil fields
// keep their current value; the id and views cannot be set this way.
type ConfigurationPatch struct {
	Name         *string                `json:"name,omitempty"`
	Avatar       *string                `json:"avatar,omitempty"`
	Description  *string                `json:"description,omitempty"`
	Instructions *string                `json:"instructions,omitempty"`
	Model        *string                `json:"model,omitempty"`
	ToolsSet     models.ToolsSet        `json:"tools_set,omitempty"`
	Memory       *models.MemorySettings `json:"memory,omitempty"`
	MaxSteps     *int                   `json:"max_steps,omitempty"`
	MaxTokens    *int                   `json:"max_tokens,omitempty"`
	Temperature  *float64               `json:"temperature,omitempty"`
	Visibility   *models.Visibility     `json:"visibility,omitempty"`
}

func (p ConfigurationPatch) apply(cfg *models.AgentConfiguration) {
	if p.Name != nil {
		cfg.Name = *p.Name
	}
	if p.Avatar != nil {
		cfg.Avatar = *p.Avatar
	}
	if p.Description != nil {
		cfg.Description = *p.Description
	}
	if p.Instructions != nil {
		cfg.Instructions = *p.Instructions
	}
	if p.Model != nil {
		cfg.Model = *p.Model
	}
	if p.ToolsSet != nil {
		cfg.ToolsSet = p.ToolsSet.Clone()
	}
	if p.Memory != nil {
		cfg.Memory = *p.Memory
	}
	if p.MaxSteps != nil {
		cfg.MaxSteps = *p.MaxSteps
	}
	if p.MaxTokens != nil {
		cfg.MaxTokens = *p.MaxTokens
	}
	if p.Temperature != nil {
		cfg.Temperature = p.Temperature
	}
	if p.Visibility != nil {
		cfg.Visibility = *p.Visibility
	}
}
