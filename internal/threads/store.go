package threads

import (
	"context"
	"errors"

	"github.com/deco-cx/agent-runtime/pkg/models"
)

// ErrThreadNotFound is returned when a thread id does not exist in the store.
var ErrThreadNotFound = errors.New("thread not found")

// Store is the interface for thread and message persistence.
type Store interface {
	// Thread CRUD
	GetThreadByID(ctx context.Context, id string) (*models.Thread, error)
	SaveThread(ctx context.Context, thread *models.Thread) error
	DeleteThread(ctx context.Context, id string) error

	// Thread listing
	Query(ctx context.Context, opts QueryOptions) ([]*models.Thread, error)

	// Message history
	AppendMessage(ctx context.Context, threadID string, msg *models.Message) error
	GetMessages(ctx context.Context, threadID string, limit int) ([]*models.Message, error)

	// GenerateID returns a fresh thread id in the store's id space.
	GenerateID() string
}

// QueryOptions configures thread listing.
type QueryOptions struct {
	ResourceID string
	Limit      int
	Offset     int
}
