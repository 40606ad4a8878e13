package repository

import (
	"context"

	"cryptvault/internal/model"
	"github.com/gofrs/uuid/v5"
)

// GrantRepository is the ledger of (item, recipient) sharing relationships.
type GrantRepository interface {
	// Insert creates a grant. Returns errs.ErrAlreadyShared on a duplicate pair.
	Insert(ctx context.Context, g *model.Grant) error

	// Get loads one grant. Returns errs.ErrNotFound when absent.
	Get(ctx context.Context, itemID uuid.UUID, recipient string) (*model.Grant, error)

	// Delete removes the grant for one pair. Idempotent; reports whether a row existed.
	Delete(ctx context.Context, itemID uuid.UUID, recipient string) (bool, error)

	// DeleteForItems removes every grant any recipient holds on the given items.
	// Returns the number of removed rows.
	DeleteForItems(ctx context.Context, itemIDs []uuid.UUID) (int, error)

	// ListForItem returns all grants on one item.
	ListForItem(ctx context.Context, itemID uuid.UUID) ([]model.Grant, error)

	// ListByRecipient returns all grants held by a recipient.
	ListByRecipient(ctx context.Context, recipient string) ([]model.Grant, error)

	// ListByGranter returns all grants issued by an owner.
	ListByGranter(ctx context.Context, granter string) ([]model.Grant, error)

	// ListByRecipientForItems returns the grants a recipient holds on any of the
	// given items. Used to scope folder recursion to one recipient's view.
	ListByRecipientForItems(ctx context.Context, recipient string, itemIDs []uuid.UUID) ([]model.Grant, error)

	// RefreshMetadata re-snapshots the display cache (name/size/mime) on all
	// grants of an item after rename or content change.
	RefreshMetadata(ctx context.Context, itemID uuid.UUID, name string, size int64, mime string) error
}
