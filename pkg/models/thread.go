package models

import "time"

// MetadataKeyToolSet is the thread metadata key holding a per-thread tool-set
// override. Absent means the agent's configured default applies.
const MetadataKeyToolSet = "tool_set"

// MetadataKeyWorkingMemory is the thread metadata key holding the thread's
// working-memory document.
const MetadataKeyWorkingMemory = "working_memory"

// ThreadLocator identifies a conversation. ResourceID defaults to the
// authenticated principal, then to the thread id itself, when absent.
type ThreadLocator struct {
	ThreadID   string `json:"thread_id"`
	ResourceID string `json:"resource_id,omitempty"`
}

// Thread is a conversation instance with its own message history and
// optional tool-set override stored in Metadata.
type Thread struct {
	ID         string         `json:"id"`
	ResourceID string         `json:"resource_id"`
	Title      string         `json:"title,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ToolSetOverride returns the thread's tool-set override, if present.
func (t *Thread) ToolSetOverride() (ToolsSet, bool) {
	if t == nil || t.Metadata == nil {
		return nil, false
	}
	raw, ok := t.Metadata[MetadataKeyToolSet]
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case ToolsSet:
		return v.Clone(), true
	case map[string][]string:
		return ToolsSet(v).Clone(), true
	case map[string]any:
		// JSON round-trips decode the override to map[string]any.
		out := make(ToolsSet, len(v))
		for id, filters := range v {
			list, ok := filters.([]any)
			if !ok {
				return nil, false
			}
			names := make([]string, 0, len(list))
			for _, f := range list {
				name, ok := f.(string)
				if !ok {
					return nil, false
				}
				names = append(names, name)
			}
			out[id] = names
		}
		return out, true
	default:
		return nil, false
	}
}

// SetToolSetOverride stores a tool-set override in the thread metadata.
func (t *Thread) SetToolSetOverride(set ToolsSet) {
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	t.Metadata[MetadataKeyToolSet] = set.Clone()
}

// WorkingMemory returns the thread's working-memory document, if present.
func (t *Thread) WorkingMemory() (string, bool) {
	if t == nil || t.Metadata == nil {
		return "", false
	}
	doc, ok := t.Metadata[MetadataKeyWorkingMemory].(string)
	if !ok || doc == "" {
		return "", false
	}
	return doc, true
}

// SetWorkingMemory stores a working-memory document in the thread metadata.
func (t *Thread) SetWorkingMemory(document string) {
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	t.Metadata[MetadataKeyWorkingMemory] = document
}
