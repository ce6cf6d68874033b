// Package models defines the shared data model for the agent runtime:
// agent configurations, threads, messages, and token usage.
package models

import "encoding/json"

// Visibility controls who can see and invoke an agent.
type Visibility string

const (
	VisibilityPublic    Visibility = "PUBLIC"
	VisibilityWorkspace Visibility = "WORKSPACE"
)

// ToolsSet maps a normalized connection identifier to the list of tool names
// the agent may use from that connection. An empty list means all tools.
type ToolsSet map[string][]string

// Clone returns a deep copy of the tool set.
func (ts ToolsSet) Clone() ToolsSet {
	if ts == nil {
		return nil
	}
	out := make(ToolsSet, len(ts))
	for id, filters := range ts {
		cp := make([]string, len(filters))
		copy(cp, filters)
		out[id] = cp
	}
	return out
}

// WorkingMemorySettings configures the agent's working memory.
// When Schema is set it must be a valid JSON Schema; memory updates are
// validated against it.
type WorkingMemorySettings struct {
	Enabled  bool            `json:"enabled" yaml:"enabled"`
	Template string          `json:"template,omitempty" yaml:"template,omitempty"`
	Schema   json.RawMessage `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// SemanticRecallSettings configures retrieval of older messages by similarity.
type SemanticRecallSettings struct {
	Enabled      bool `json:"enabled" yaml:"enabled"`
	TopK         int  `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	MessageRange int  `json:"message_range,omitempty" yaml:"message_range,omitempty"`
}

// MemorySettings bundles the per-agent memory configuration.
type MemorySettings struct {
	WorkingMemory  WorkingMemorySettings  `json:"working_memory" yaml:"working_memory"`
	SemanticRecall SemanticRecallSettings `json:"semantic_recall" yaml:"semantic_recall"`

	// LastMessages is the window of recent messages replayed into context.
	LastMessages int `json:"last_messages,omitempty" yaml:"last_messages,omitempty"`
}

// View is a UI surface attached to an agent. Views are managed by the API
// layer and are protected from writes via Configure.
type View struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// AgentConfiguration is the durable definition of an agent. Updates are a
// full replace; the runtime never writes a partial configuration.
type AgentConfiguration struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Avatar       string         `json:"avatar,omitempty"`
	Description  string         `json:"description,omitempty"`
	Instructions string         `json:"instructions"`
	Model        string         `json:"model"`
	ToolsSet     ToolsSet       `json:"tools_set"`
	Memory       MemorySettings `json:"memory"`
	MaxSteps     int            `json:"max_steps,omitempty"`
	MaxTokens    int            `json:"max_tokens,omitempty"`
	Temperature  *float64       `json:"temperature,omitempty"`
	Visibility   Visibility     `json:"visibility,omitempty"`
	Views        []View         `json:"views,omitempty"`
}

// Clone returns a deep copy of the configuration.
func (c *AgentConfiguration) Clone() *AgentConfiguration {
	if c == nil {
		return nil
	}
	out := *c
	out.ToolsSet = c.ToolsSet.Clone()
	if c.Temperature != nil {
		t := *c.Temperature
		out.Temperature = &t
	}
	if c.Views != nil {
		out.Views = make([]View, len(c.Views))
		copy(out.Views, c.Views)
	}
	if c.Memory.WorkingMemory.Schema != nil {
		out.Memory.WorkingMemory.Schema = append(json.RawMessage(nil), c.Memory.WorkingMemory.Schema...)
	}
	return &out
}
