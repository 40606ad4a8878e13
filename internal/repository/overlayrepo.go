package repository

import (
	"context"
	"time"

	"cryptvault/internal/model"
	"github.com/gofrs/uuid/v5"
)

// OverlayRepository maintains the per-(item, recipient) visibility markers
// layered on top of grants. All mutations are idempotent so that a retried
// propagation converges to the same end state.
type OverlayRepository interface {
	// MarkOwnerTombstones hides an owner-trashed item from the given recipients.
	MarkOwnerTombstones(ctx context.Context, itemID uuid.UUID, recipients []string, at time.Time) error

	// ClearOwnerTombstones removes owner tombstones; empty recipients clears all of them.
	ClearOwnerTombstones(ctx context.Context, itemID uuid.UUID, recipients []string) error

	// MarkRecipientTombstone records that a recipient trashed their view of an item.
	MarkRecipientTombstone(ctx context.Context, itemID uuid.UUID, recipient string, at time.Time) error

	// ClearRecipientTombstone removes the recipient's trash marker.
	ClearRecipientTombstone(ctx context.Context, itemID uuid.UUID, recipient string) error

	// GetRecipientTombstone returns the marker or errs.ErrNotFound.
	GetRecipientTombstone(ctx context.Context, itemID uuid.UUID, recipient string) (*model.RecipientTombstone, error)

	// MarkHidden records a recipient's permanent dismissal of a share.
	MarkHidden(ctx context.Context, itemID uuid.UUID, recipient string, at time.Time) error

	// ClearHidden removes hidden markers for the recipient on the given items.
	ClearHidden(ctx context.Context, recipient string, itemIDs []uuid.UUID) (int, error)

	// IsHidden reports whether a hidden marker exists for the pair.
	IsHidden(ctx context.Context, itemID uuid.UUID, recipient string) (bool, error)

	// DeleteAllForPair removes every overlay row for one (item, recipient) pair.
	// Called by grant deletion so no orphan markers survive.
	DeleteAllForPair(ctx context.Context, itemID uuid.UUID, recipient string) error

	// DeleteAllForItems removes every overlay row for the given items across
	// all recipients. Used by owner permanent delete.
	DeleteAllForItems(ctx context.Context, itemIDs []uuid.UUID) error

	// ListVisible returns the recipient's current shared view: grants with no
	// owner tombstone, no recipient tombstone and no hidden marker.
	ListVisible(ctx context.Context, recipient string) ([]model.SharedItem, error)

	// ListTrash returns grants the recipient has trashed but not purged.
	ListTrash(ctx context.Context, recipient string) ([]model.SharedItem, error)

	// ListHidden returns shares the recipient has permanently dismissed.
	ListHidden(ctx context.Context, recipient string) ([]model.SharedItem, error)
}
