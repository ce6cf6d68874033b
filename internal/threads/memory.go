package threads

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deco-cx/agent-runtime/pkg/models"
)

// maxMessagesPerThread limits messages stored per thread to prevent unbounded
// memory growth. When exceeded, the oldest messages are trimmed.
const maxMessagesPerThread = 1000

// MemoryStore provides an in-memory Store implementation for testing and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	threads  map[string]*models.Thread
	messages map[string][]*models.Message
	configs  map[string]*models.AgentConfiguration
}

// NewMemoryStore creates a new in-memory thread store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:  map[string]*models.Thread{},
		messages: map[string][]*models.Message{},
		configs:  map[string]*models.AgentConfiguration{},
	}
}

func (m *MemoryStore) GenerateID() string {
	return uuid.NewString()
}

func (m *MemoryStore) GetThreadByID(ctx context.Context, id string) (*models.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	thread, ok := m.threads[id]
	if !ok {
		return nil, ErrThreadNotFound
	}
	return cloneThread(thread), nil
}

// SaveThread inserts or fully replaces a thread. The stored metadata is the
// caller's metadata as given; concurrent savers race last-writer-wins.
func (m *MemoryStore) SaveThread(ctx context.Context, thread *models.Thread) error {
	if thread == nil {
		return errors.New("thread is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := cloneThread(thread)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	now := time.Now()
	if existing, ok := m.threads[clone.ID]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	// Reflect generated fields back to caller.
	thread.ID = clone.ID
	thread.CreatedAt = clone.CreatedAt
	thread.UpdatedAt = clone.UpdatedAt
	m.threads[clone.ID] = clone
	return nil
}

func (m *MemoryStore) DeleteThread(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.threads[id]; !ok {
		return ErrThreadNotFound
	}
	delete(m.threads, id)
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) Query(ctx context.Context, opts QueryOptions) ([]*models.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*models.Thread
	for _, thread := range m.threads {
		if opts.ResourceID != "" && thread.ResourceID != opts.ResourceID {
			continue
		}
		result = append(result, cloneThread(thread))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, threadID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.threads[threadID]; !ok {
		return ErrThreadNotFound
	}

	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.ThreadID = threadID
	msg.ID = clone.ID
	msg.CreatedAt = clone.CreatedAt

	history := append(m.messages[threadID], clone)
	if len(history) > maxMessagesPerThread {
		trimmed := make([]*models.Message, maxMessagesPerThread)
		copy(trimmed, history[len(history)-maxMessagesPerThread:])
		history = trimmed
	}
	m.messages[threadID] = history

	if thread, ok := m.threads[threadID]; ok {
		thread.UpdatedAt = clone.CreatedAt
	}
	return nil
}

func (m *MemoryStore) GetMessages(ctx context.Context, threadID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history, ok := m.messages[threadID]
	if !ok {
		if _, exists := m.threads[threadID]; !exists {
			return nil, ErrThreadNotFound
		}
		return nil, nil
	}

	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	result := make([]*models.Message, len(history))
	for i, msg := range history {
		result[i] = cloneMessage(msg)
	}
	return result, nil
}

// GetConfiguration returns the stored agent configuration, or (nil, nil)
// when the agent was never configured.
func (m *MemoryStore) GetConfiguration(ctx context.Context, agentID string) (*models.AgentConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[agentID]
	if !ok {
		return nil, nil
	}
	return cfg.Clone(), nil
}

// SaveConfiguration stores a full agent configuration.
func (m *MemoryStore) SaveConfiguration(ctx context.Context, cfg *models.AgentConfiguration) (*models.AgentConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.ID] = cfg.Clone()
	return cfg.Clone(), nil
}

func cloneThread(t *models.Thread) *models.Thread {
	clone := *t
	if t.Metadata != nil {
		clone.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

func cloneMessage(msg *models.Message) *models.Message {
	clone := *msg
	if msg.Attachments != nil {
		clone.Attachments = append([]models.Attachment(nil), msg.Attachments...)
	}
	if msg.ToolCalls != nil {
		clone.ToolCalls = append([]models.ToolCall(nil), msg.ToolCalls...)
	}
	if msg.ToolResults != nil {
		clone.ToolResults = append([]models.ToolResult(nil), msg.ToolResults...)
	}
	return &clone
}
