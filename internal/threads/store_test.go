package threads

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/deco-cx/agent-runtime/pkg/models"
)

func storeImplementations(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStoreThreadRoundTrip(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			thread := &models.Thread{
				ID:         store.GenerateID(),
				ResourceID: "user-1",
				Title:      "support case",
				Metadata:   map[string]any{"tool_set": map[string]any{"crm": []any{"lookup"}}},
			}
			if err := store.SaveThread(ctx, thread); err != nil {
				t.Fatalf("SaveThread: %v", err)
			}

			got, err := store.GetThreadByID(ctx, thread.ID)
			if err != nil {
				t.Fatalf("GetThreadByID: %v", err)
			}
			if got.ResourceID != "user-1" || got.Title != "support case" {
				t.Errorf("round-tripped thread = %+v", got)
			}
			override, ok := got.ToolSetOverride()
			if !ok {
				t.Fatal("metadata tool set lost in round trip")
			}
			if len(override["crm"]) != 1 || override["crm"][0] != "lookup" {
				t.Errorf("override = %v", override)
			}
		})
	}
}

func TestStoreThreadNotFound(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetThreadByID(context.Background(), "missing")
			if !errors.Is(err, ErrThreadNotFound) {
				t.Errorf("err = %v, want ErrThreadNotFound", err)
			}
			if err := store.DeleteThread(context.Background(), "missing"); !errors.Is(err, ErrThreadNotFound) {
				t.Errorf("delete err = %v, want ErrThreadNotFound", err)
			}
		})
	}
}

func TestStoreSaveReplacesMetadata(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			thread := &models.Thread{
				ID:       store.GenerateID(),
				Metadata: map[string]any{"a": "1", "b": "2"},
			}
			if err := store.SaveThread(ctx, thread); err != nil {
				t.Fatalf("SaveThread: %v", err)
			}

			// A full save replaces the metadata map, it does not merge.
			thread.Metadata = map[string]any{"a": "3"}
			if err := store.SaveThread(ctx, thread); err != nil {
				t.Fatalf("SaveThread (update): %v", err)
			}

			got, err := store.GetThreadByID(ctx, thread.ID)
			if err != nil {
				t.Fatalf("GetThreadByID: %v", err)
			}
			if _, ok := got.Metadata["b"]; ok {
				t.Error("stale metadata key survived replacement")
			}
			if got.Metadata["a"] != "3" {
				t.Errorf("metadata[a] = %v, want 3", got.Metadata["a"])
			}
		})
	}
}

func TestStoreMessages(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			thread := &models.Thread{ID: store.GenerateID(), ResourceID: "user-1"}
			if err := store.SaveThread(ctx, thread); err != nil {
				t.Fatalf("SaveThread: %v", err)
			}

			base := time.Now().Add(-time.Minute)
			for i := 0; i < 5; i++ {
				msg := &models.Message{
					Role:      models.RoleUser,
					Content:   fmt.Sprintf("message %d", i),
					CreatedAt: base.Add(time.Duration(i) * time.Second),
				}
				if err := store.AppendMessage(ctx, thread.ID, msg); err != nil {
					t.Fatalf("AppendMessage: %v", err)
				}
			}

			all, err := store.GetMessages(ctx, thread.ID, 0)
			if err != nil {
				t.Fatalf("GetMessages: %v", err)
			}
			if len(all) != 5 {
				t.Fatalf("len(all) = %d, want 5", len(all))
			}
			if all[0].Content != "message 0" || all[4].Content != "message 4" {
				t.Errorf("messages out of order: first=%q last=%q", all[0].Content, all[4].Content)
			}

			// Limit keeps the most recent messages, still chronological.
			recent, err := store.GetMessages(ctx, thread.ID, 2)
			if err != nil {
				t.Fatalf("GetMessages (limit): %v", err)
			}
			if len(recent) != 2 || recent[0].Content != "message 3" || recent[1].Content != "message 4" {
				t.Errorf("recent = %v", recent)
			}

			if err := store.AppendMessage(ctx, "missing", &models.Message{Role: models.RoleUser}); !errors.Is(err, ErrThreadNotFound) {
				t.Errorf("append to missing thread err = %v, want ErrThreadNotFound", err)
			}
		})
	}
}

func TestStoreQueryByResource(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				resource := "alice"
				if i == 2 {
					resource = "bob"
				}
				thread := &models.Thread{ID: store.GenerateID(), ResourceID: resource}
				if err := store.SaveThread(ctx, thread); err != nil {
					t.Fatalf("SaveThread: %v", err)
				}
			}

			threads, err := store.Query(ctx, QueryOptions{ResourceID: "alice"})
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(threads) != 2 {
				t.Errorf("len(threads) = %d, want 2", len(threads))
			}
			for _, thread := range threads {
				if thread.ResourceID != "alice" {
					t.Errorf("thread %s has resource %q", thread.ID, thread.ResourceID)
				}
			}

			limited, err := store.Query(ctx, QueryOptions{ResourceID: "alice", Limit: 1})
			if err != nil {
				t.Fatalf("Query (limit): %v", err)
			}
			if len(limited) != 1 {
				t.Errorf("len(limited) = %d, want 1", len(limited))
			}
		})
	}
}

func TestMemoryStoreCloneIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	thread := &models.Thread{ID: "t1", Metadata: map[string]any{"k": "v"}}
	if err := store.SaveThread(ctx, thread); err != nil {
		t.Fatalf("SaveThread: %v", err)
	}

	got, err := store.GetThreadByID(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThreadByID: %v", err)
	}
	got.Metadata["k"] = "mutated"

	again, err := store.GetThreadByID(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThreadByID: %v", err)
	}
	if again.Metadata["k"] != "v" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestStoreConfigurationRoundTrip(t *testing.T) {
	type configStore interface {
		GetConfiguration(ctx context.Context, agentID string) (*models.AgentConfiguration, error)
		SaveConfiguration(ctx context.Context, cfg *models.AgentConfiguration) (*models.AgentConfiguration, error)
	}

	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cs, ok := store.(configStore)
			if !ok {
				t.Fatalf("%s does not persist configurations", name)
			}

			got, err := cs.GetConfiguration(ctx, "agent-1")
			if err != nil {
				t.Fatalf("GetConfiguration: %v", err)
			}
			if got != nil {
				t.Fatalf("unconfigured agent returned %+v, want nil", got)
			}

			cfg := &models.AgentConfiguration{
				ID:           "agent-1",
				Name:         "Support",
				Model:        "anthropic:claude-sonnet-4-20250514",
				Instructions: "Be helpful.",
				ToolsSet:     models.ToolsSet{"crm": {"lookup"}},
				MaxSteps:     5,
			}
			saved, err := cs.SaveConfiguration(ctx, cfg)
			if err != nil {
				t.Fatalf("SaveConfiguration: %v", err)
			}
			if saved.Name != "Support" {
				t.Errorf("saved = %+v", saved)
			}

			got, err = cs.GetConfiguration(ctx, "agent-1")
			if err != nil {
				t.Fatalf("GetConfiguration: %v", err)
			}
			if got == nil || got.Model != cfg.Model || got.MaxSteps != 5 {
				t.Fatalf("loaded = %+v", got)
			}
			if len(got.ToolsSet["crm"]) != 1 || got.ToolsSet["crm"][0] != "lookup" {
				t.Errorf("tool set = %v", got.ToolsSet)
			}

			// A second save replaces the whole configuration.
			cfg.Name = "Sales"
			cfg.ToolsSet = nil
			if _, err := cs.SaveConfiguration(ctx, cfg); err != nil {
				t.Fatalf("SaveConfiguration: %v", err)
			}
			got, err = cs.GetConfiguration(ctx, "agent-1")
			if err != nil {
				t.Fatalf("GetConfiguration: %v", err)
			}
			if got.Name != "Sales" || got.ToolsSet != nil {
				t.Errorf("replaced = %+v", got)
			}
		})
	}
}
