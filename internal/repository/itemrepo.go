package repository

import (
	"context"
	"time"

	"cryptvault/internal/model"
	"github.com/gofrs/uuid/v5"
)

// ItemRepository provides access to the item tree (files and folders).
type ItemRepository interface {
	// Insert creates a new item row.
	Insert(ctx context.Context, it *model.Item) error

	// Get loads a single item. Returns errs.ErrNotFound when absent.
	Get(ctx context.Context, id uuid.UUID) (*model.Item, error)

	// ListChildren returns the direct children of a folder.
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]model.Item, error)

	// SetOwnerDeleted flips the owner-side soft-delete flag on a batch of items.
	// Idempotent: re-applying the same flag is a no-op.
	SetOwnerDeleted(ctx context.Context, ids []uuid.UUID, deleted bool, at time.Time) error

	// Rename updates the display name and bumps updated_at.
	Rename(ctx context.Context, id uuid.UUID, name string) error

	// Delete removes item rows permanently.
	Delete(ctx context.Context, ids []uuid.UUID) error
}
