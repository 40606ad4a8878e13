// Package service contains the propagation engine: the transactional state
// machine applying share, trash, restore, delete and hide operations across
// item subtrees and recipient sets.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"cryptvault/internal/errs"
	"cryptvault/internal/model"
	"cryptvault/internal/repository"
)

// Engine applies sharing and visibility transitions. Every public mutating
// operation expands its target set (item + descendants, filtered per
// recipient), validates it through the guard and commits all row changes as
// one storage transaction. Operations are idempotent, so a caller may retry
// a failed one wholesale.
type Engine struct {
	store repository.Store
	guard guard
	now   func() time.Time
}

// NewEngine constructs the propagation engine on top of a Store.
func NewEngine(store repository.Store) *Engine {
	return &Engine{store: store, guard: guard{store: store}, now: time.Now}
}

// --- owner operations ---

// CreateItem inserts an item supplied by the upload collaborator. When the
// parent folder is shared, access fans out to the folder's recipients using
// the wrapped keys supplied in ni.RecipientKeys; a recipient whose view of
// the parent folder is currently trashed gets the new child born trashed too,
// so their trash stays consistent. Returns the number of grants created.
func (e *Engine) CreateItem(ctx context.Context, caller string, ni model.NewItem) (*model.Item, int, error) {
	owner := model.NormalizeIdentity(caller)
	if ni.Name == "" {
		return nil, 0, fmt.Errorf("empty name: %w", errs.ErrInvalidState)
	}

	id := ni.ID
	if id == uuid.Nil {
		var err error
		if id, err = uuid.NewV4(); err != nil {
			return nil, 0, err
		}
	}

	it := &model.Item{
		ID:              id,
		Owner:           owner,
		Name:            ni.Name,
		Size:            ni.Size,
		Mime:            ni.Mime,
		IsFolder:        ni.IsFolder,
		ParentID:        ni.ParentID,
		BlobEnc:         ni.BlobEnc,
		IV:              ni.IV,
		OwnerWrappedKey: ni.OwnerWrappedKey,
		CreatedAt:       e.now(),
	}

	affected := 0
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		if ni.ParentID.Valid {
			parent, err := e.guard.requireOwnedItem(ctx, owner, ni.ParentID.UUID)
			if err != nil {
				return err
			}
			if !parent.IsFolder {
				return fmt.Errorf("parent is not a folder: %w", errs.ErrInvalidState)
			}
			if err := e.store.Items().Insert(ctx, it); err != nil {
				return err
			}
			n, err := e.inheritParentGrants(ctx, it, parent, ni.RecipientKeys)
			if err != nil {
				return err
			}
			affected = n
			return nil
		}
		return e.store.Items().Insert(ctx, it)
	})
	if err != nil {
		return nil, 0, err
	}
	return it, affected, nil
}

// inheritParentGrants creates child grants for every recipient of the parent
// folder, carrying over the recipient-trashed state where present.
func (e *Engine) inheritParentGrants(ctx context.Context, it *model.Item, parent *model.Item, keys map[string][]byte) (int, error) {
	parentGrants, err := e.store.Grants().ListForItem(ctx, parent.ID)
	if err != nil {
		return 0, err
	}
	now := e.now()
	for _, pg := range parentGrants {
		g := &model.Grant{
			ItemID:     it.ID,
			Recipient:  pg.Recipient,
			Granter:    it.Owner,
			Name:       it.Name,
			Size:       it.Size,
			Mime:       it.Mime,
			IsFolder:   it.IsFolder,
			WrappedKey: keys[model.NormalizeIdentity(pg.Recipient)],
			Permission: pg.Permission,
			CreatedAt:  now,
		}
		if err := e.store.Grants().Insert(ctx, g); err != nil {
			return 0, err
		}
		tomb, err := e.store.Overlay().GetRecipientTombstone(ctx, parent.ID, pg.Recipient)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			continue
		case err != nil:
			return 0, err
		case !tomb.Purged:
			if err := e.store.Overlay().MarkRecipientTombstone(ctx, it.ID, pg.Recipient, now); err != nil {
				return 0, err
			}
		}
	}
	return len(parentGrants), nil
}

// Share grants a recipient access to an item. Sharing a folder does not
// recurse: children carry their own grants, created when they are shared or
// uploaded into the folder.
func (e *Engine) Share(ctx context.Context, caller string, itemID uuid.UUID, recipient string, wrappedKey []byte, perm model.Permission) (int, error) {
	owner := model.NormalizeIdentity(caller)
	rcpt := model.NormalizeIdentity(recipient)
	if rcpt == "" {
		return 0, fmt.Errorf("empty recipient: %w", errs.ErrInvalidState)
	}
	if perm == "" {
		perm = model.PermissionView
	}

	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		it, err := e.guard.requireOwnedItem(ctx, owner, itemID)
		if err != nil {
			return err
		}
		if err := e.guard.checkShare(ctx, it, rcpt); err != nil {
			return err
		}
		g := &model.Grant{
			ItemID:     it.ID,
			Recipient:  rcpt,
			Granter:    owner,
			Name:       it.Name,
			Size:       it.Size,
			Mime:       it.Mime,
			IsFolder:   it.IsFolder,
			WrappedKey: wrappedKey,
			Permission: perm,
			CreatedAt:  e.now(),
		}
		if err := e.store.Grants().Insert(ctx, g); err != nil {
			return err
		}
		return e.inheritTrashedParent(ctx, it, rcpt)
	})
	if err != nil {
		return 0, err
	}
	return 1, nil
}

// inheritTrashedParent marks a freshly created grant recipient-trashed when
// the same recipient's view of the parent folder currently sits in their
// trash, keeping the folder's contents consistent for them.
func (e *Engine) inheritTrashedParent(ctx context.Context, it *model.Item, recipient string) error {
	if !it.ParentID.Valid {
		return nil
	}
	if _, err := e.store.Grants().Get(ctx, it.ParentID.UUID, recipient); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}
	tomb, err := e.store.Overlay().GetRecipientTombstone(ctx, it.ParentID.UUID, recipient)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return nil
	case err != nil:
		return err
	case tomb.Purged:
		return nil
	}
	return e.store.Overlay().MarkRecipientTombstone(ctx, it.ID, recipient, e.now())
}

// TrashSubtree moves an item and every descendant into the owner's trash and
// tombstones each one for every recipient holding a grant on it. Returns the
// number of (item, recipient) pairs tombstoned.
func (e *Engine) TrashSubtree(ctx context.Context, caller string, rootID uuid.UUID) (int, error) {
	owner := model.NormalizeIdentity(caller)
	affected := 0
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		root, err := e.guard.requireOwnedItem(ctx, owner, rootID)
		if err != nil {
			return err
		}
		ids, err := e.resolveSubtree(ctx, root)
		if err != nil {
			return err
		}
		now := e.now()
		if err := e.store.Items().SetOwnerDeleted(ctx, ids, true, now); err != nil {
			return err
		}
		for _, id := range ids {
			recipients, err := e.grantRecipients(ctx, id)
			if err != nil {
				return err
			}
			if err := e.store.Overlay().MarkOwnerTombstones(ctx, id, recipients, now); err != nil {
				return err
			}
			affected += len(recipients)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// RestoreSubtree takes an item and every descendant out of the owner's trash
// and clears the owner tombstones, so all recipients see their grants again.
func (e *Engine) RestoreSubtree(ctx context.Context, caller string, rootID uuid.UUID) (int, error) {
	owner := model.NormalizeIdentity(caller)
	affected := 0
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		root, err := e.guard.requireOwnedItem(ctx, owner, rootID)
		if err != nil {
			return err
		}
		ids, err := e.resolveSubtree(ctx, root)
		if err != nil {
			return err
		}
		if err := e.store.Items().SetOwnerDeleted(ctx, ids, false, e.now()); err != nil {
			return err
		}
		for _, id := range ids {
			recipients, err := e.grantRecipients(ctx, id)
			if err != nil {
				return err
			}
			if err := e.store.Overlay().ClearOwnerTombstones(ctx, id, nil); err != nil {
				return err
			}
			affected += len(recipients)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// OwnerPermanentDelete removes the item and its whole subtree for good:
// every grant to every recipient goes, overlay rows go, item rows go.
// Allowed only when the item or one of its ancestors is in the owner's trash.
func (e *Engine) OwnerPermanentDelete(ctx context.Context, caller string, rootID uuid.UUID) (int, error) {
	owner := model.NormalizeIdentity(caller)
	affected := 0
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		root, err := e.guard.requireOwnedItem(ctx, owner, rootID)
		if err != nil {
			return err
		}
		if !root.OwnerDeleted {
			deleted, err := e.isAncestorOwnerDeleted(ctx, root)
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("permanent delete requires a trashed item: %w", errs.ErrInvalidState)
			}
		}
		ids, err := e.resolveSubtree(ctx, root)
		if err != nil {
			return err
		}
		n, err := e.store.Grants().DeleteForItems(ctx, ids)
		if err != nil {
			return err
		}
		affected = n
		if err := e.store.Overlay().DeleteAllForItems(ctx, ids); err != nil {
			return err
		}
		// Children before parents, so the parent foreign key never dangles.
		reverse(ids)
		return e.store.Items().Delete(ctx, ids)
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// Rename updates the item's display name and refreshes the metadata snapshot
// cached on its grants, the only mutation a grant row ever receives.
func (e *Engine) Rename(ctx context.Context, caller string, itemID uuid.UUID, name string) error {
	owner := model.NormalizeIdentity(caller)
	if name == "" {
		return fmt.Errorf("empty name: %w", errs.ErrInvalidState)
	}
	return e.store.WithinTx(ctx, func(ctx context.Context) error {
		it, err := e.guard.requireOwnedItem(ctx, owner, itemID)
		if err != nil {
			return err
		}
		if err := e.store.Items().Rename(ctx, it.ID, name); err != nil {
			return err
		}
		return e.store.Grants().RefreshMetadata(ctx, it.ID, name, it.Size, it.Mime)
	})
}

// Unshare deletes the grant for one (item, recipient) pair. The owner may
// revoke any recipient; a recipient may remove themselves. With recursive set
// on a folder, the recipient's descendant grants go too, so a folder tree is
// never left half-shared. Returns the number of grants removed.
func (e *Engine) Unshare(ctx context.Context, caller string, itemID uuid.UUID, recipient string, recursive bool) (int, error) {
	who := model.NormalizeIdentity(caller)
	rcpt := model.NormalizeIdentity(recipient)
	affected := 0
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		it, err := e.store.Items().Get(ctx, itemID)
		if err != nil {
			return err
		}
		if !model.SameIdentity(it.Owner, who) && !model.SameIdentity(rcpt, who) {
			return errs.ErrForbidden
		}
		n, err := e.deleteGrantsForRecipient(ctx, it, rcpt, recursive)
		if err != nil {
			return err
		}
		affected = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// UnshareAll severs every outstanding share of an item (and of every
// descendant when recursive), across all recipients.
func (e *Engine) UnshareAll(ctx context.Context, caller string, itemID uuid.UUID, recursive bool) (int, error) {
	owner := model.NormalizeIdentity(caller)
	affected := 0
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		it, err := e.guard.requireOwnedItem(ctx, owner, itemID)
		if err != nil {
			return err
		}
		ids := []uuid.UUID{it.ID}
		if recursive {
			if ids, err = e.resolveSubtree(ctx, it); err != nil {
				return err
			}
		}
		n, err := e.store.Grants().DeleteForItems(ctx, ids)
		if err != nil {
			return err
		}
		affected = n
		return e.store.Overlay().DeleteAllForItems(ctx, ids)
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// --- recipient operations ---

// RecipientTrash moves the caller's view of a shared item into their personal
// trash. For a folder the caller's descendant grants are tombstoned too;
// other recipients are untouched.
func (e *Engine) RecipientTrash(ctx context.Context, caller string, itemID uuid.UUID) (int, error) {
	rcpt := model.NormalizeIdentity(caller)
	affected := 0
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		it, _, err := e.requireLiveGrant(ctx, itemID, rcpt)
		if err != nil {
			return err
		}
		now := e.now()
		grants, err := e.recipientSubtreeGrants(ctx, it, rcpt)
		if err != nil {
			return err
		}
		for _, g := range grants {
			if err := e.store.Overlay().MarkRecipientTombstone(ctx, g.ItemID, rcpt, now); err != nil {
				return err
			}
		}
		affected = len(grants)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// RecipientRestore takes the caller's view of a shared item out of their
// trash, recursing over the caller's descendant grants like RecipientTrash.
func (e *Engine) RecipientRestore(ctx context.Context, caller string, itemID uuid.UUID) (int, error) {
	rcpt := model.NormalizeIdentity(caller)
	affected := 0
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		it, err := e.store.Items().Get(ctx, itemID)
		if err != nil {
			return err
		}
		if _, err := e.store.Grants().Get(ctx, itemID, rcpt); err != nil {
			return err
		}
		grants, err := e.recipientSubtreeGrants(ctx, it, rcpt)
		if err != nil {
			return err
		}
		for _, g := range grants {
			if err := e.store.Overlay().ClearRecipientTombstone(ctx, g.ItemID, rcpt); err != nil {
				return err
			}
		}
		affected = len(grants)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// RecipientPurge permanently discards the caller's trashed view of a shared
// item: their grant and overlay rows are removed; for a folder, everything
// inside it goes too, for this recipient only. The owner's item and other
// recipients' grants are untouched. Requires the item to be in the caller's
// trash.
func (e *Engine) RecipientPurge(ctx context.Context, caller string, itemID uuid.UUID) (int, error) {
	rcpt := model.NormalizeIdentity(caller)
	affected := 0
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		it, err := e.store.Items().Get(ctx, itemID)
		if err != nil {
			return err
		}
		tomb, err := e.store.Overlay().GetRecipientTombstone(ctx, itemID, rcpt)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return fmt.Errorf("purge requires a trashed share: %w", errs.ErrInvalidState)
			}
			return err
		}
		if tomb.Purged {
			return fmt.Errorf("purge requires a trashed share: %w", errs.ErrInvalidState)
		}
		n, err := e.deleteGrantsForRecipient(ctx, it, rcpt, true)
		if err != nil {
			return err
		}
		affected = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// HideForever permanently dismisses a share from the caller's view,
// independent of trash state. No undo short of an explicit unhide.
func (e *Engine) HideForever(ctx context.Context, caller string, itemID uuid.UUID) (int, error) {
	rcpt := model.NormalizeIdentity(caller)
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := e.store.Grants().Get(ctx, itemID, rcpt); err != nil {
			return err
		}
		return e.store.Overlay().MarkHidden(ctx, itemID, rcpt, e.now())
	})
	if err != nil {
		return 0, err
	}
	return 1, nil
}

// Unhide removes hidden markers for the caller on the given items.
func (e *Engine) Unhide(ctx context.Context, caller string, itemIDs []uuid.UUID) (int, error) {
	rcpt := model.NormalizeIdentity(caller)
	affected := 0
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		n, err := e.store.Overlay().ClearHidden(ctx, rcpt, itemIDs)
		if err != nil {
			return err
		}
		affected = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// --- read paths ---

// ListVisible returns the caller's current "shared with me" view.
func (e *Engine) ListVisible(ctx context.Context, caller string) ([]model.SharedItem, error) {
	return e.store.Overlay().ListVisible(ctx, model.NormalizeIdentity(caller))
}

// ListTrash returns the caller's trashed shares.
func (e *Engine) ListTrash(ctx context.Context, caller string) ([]model.SharedItem, error) {
	return e.store.Overlay().ListTrash(ctx, model.NormalizeIdentity(caller))
}

// ListHidden returns the caller's permanently dismissed shares.
func (e *Engine) ListHidden(ctx context.Context, caller string) ([]model.SharedItem, error) {
	return e.store.Overlay().ListHidden(ctx, model.NormalizeIdentity(caller))
}

// ListGrantsFor returns all grants on one of the caller's items.
func (e *Engine) ListGrantsFor(ctx context.Context, caller string, itemID uuid.UUID) ([]model.Grant, error) {
	owner := model.NormalizeIdentity(caller)
	if _, err := e.guard.requireOwnedItem(ctx, owner, itemID); err != nil {
		return nil, err
	}
	return e.store.Grants().ListForItem(ctx, itemID)
}

// ListSharedByOwner returns every grant the caller has issued.
func (e *Engine) ListSharedByOwner(ctx context.Context, caller string) ([]model.Grant, error) {
	return e.store.Grants().ListByGranter(ctx, model.NormalizeIdentity(caller))
}

// GetEnvelope returns the item's ciphertext, IV and the wrapped-key variant
// for the caller: owners get their own copy, recipients the copy minted for
// them at share time. A recipient who cannot currently see the item (owner
// trash, own trash, hidden) gets NotFound, same as no access at all.
func (e *Engine) GetEnvelope(ctx context.Context, caller string, itemID uuid.UUID) (*model.Envelope, error) {
	who := model.NormalizeIdentity(caller)
	it, err := e.store.Items().Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if model.SameIdentity(it.Owner, who) {
		return &model.Envelope{ItemID: it.ID, BlobEnc: it.BlobEnc, IV: it.IV, WrappedKey: it.OwnerWrappedKey}, nil
	}
	g, err := e.store.Grants().Get(ctx, itemID, who)
	if err != nil {
		return nil, err
	}
	if it.OwnerDeleted {
		return nil, errs.ErrNotFound
	}
	if _, err := e.store.Overlay().GetRecipientTombstone(ctx, itemID, who); err == nil {
		return nil, errs.ErrNotFound
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	hidden, err := e.store.Overlay().IsHidden(ctx, itemID, who)
	if err != nil {
		return nil, err
	}
	if hidden {
		return nil, errs.ErrNotFound
	}
	return &model.Envelope{ItemID: it.ID, BlobEnc: it.BlobEnc, IV: it.IV, WrappedKey: g.WrappedKey}, nil
}

// --- helpers ---

// resolveSubtree expands root breadth-first, including items already in the
// owner's trash. Each id is visited at most once: cyclic parent links are a
// data-integrity failure and yield a partial result instead of a hang.
func (e *Engine) resolveSubtree(ctx context.Context, root *model.Item) ([]uuid.UUID, error) {
	ids := []uuid.UUID{root.ID}
	if !root.IsFolder {
		return ids, nil
	}
	seen := map[uuid.UUID]bool{root.ID: true}
	queue := []uuid.UUID{root.ID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := e.store.Items().ListChildren(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			ids = append(ids, c.ID)
			if c.IsFolder {
				queue = append(queue, c.ID)
			}
		}
	}
	return ids, nil
}

// isAncestorOwnerDeleted walks the parent chain looking for a trashed
// ancestor. A seen-set guards against cyclic data here as well.
func (e *Engine) isAncestorOwnerDeleted(ctx context.Context, it *model.Item) (bool, error) {
	seen := map[uuid.UUID]bool{it.ID: true}
	cur := it
	for cur.ParentID.Valid {
		if seen[cur.ParentID.UUID] {
			return false, nil
		}
		seen[cur.ParentID.UUID] = true
		parent, err := e.store.Items().Get(ctx, cur.ParentID.UUID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		if parent.OwnerDeleted {
			return true, nil
		}
		cur = parent
	}
	return false, nil
}

// grantRecipients returns the identities holding a grant on the item.
func (e *Engine) grantRecipients(ctx context.Context, itemID uuid.UUID) ([]string, error) {
	grants, err := e.store.Grants().ListForItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(grants))
	for _, g := range grants {
		out = append(out, g.Recipient)
	}
	return out, nil
}

// requireLiveGrant loads the item and the caller's grant, rejecting shares
// the caller has already hidden.
func (e *Engine) requireLiveGrant(ctx context.Context, itemID uuid.UUID, recipient string) (*model.Item, *model.Grant, error) {
	it, err := e.store.Items().Get(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	g, err := e.store.Grants().Get(ctx, itemID, recipient)
	if err != nil {
		return nil, nil, err
	}
	hidden, err := e.store.Overlay().IsHidden(ctx, itemID, recipient)
	if err != nil {
		return nil, nil, err
	}
	if hidden {
		return nil, nil, errs.ErrNotFound
	}
	return it, g, nil
}

// recipientSubtreeGrants returns the caller's grant on the item plus, for a
// folder, the grants the same caller holds on any descendant.
func (e *Engine) recipientSubtreeGrants(ctx context.Context, it *model.Item, recipient string) ([]model.Grant, error) {
	g, err := e.store.Grants().Get(ctx, it.ID, recipient)
	if err != nil {
		return nil, err
	}
	out := []model.Grant{*g}
	if !it.IsFolder {
		return out, nil
	}
	ids, err := e.resolveSubtree(ctx, it)
	if err != nil {
		return nil, err
	}
	desc, err := e.store.Grants().ListByRecipientForItems(ctx, recipient, ids[1:])
	if err != nil {
		return nil, err
	}
	return append(out, desc...), nil
}

// deleteGrantsForRecipient removes the recipient's grant on the item (and on
// every descendant when recursive) together with all overlay rows for each
// pair, so no orphan markers survive.
func (e *Engine) deleteGrantsForRecipient(ctx context.Context, it *model.Item, recipient string, recursive bool) (int, error) {
	targets := []uuid.UUID{it.ID}
	if recursive && it.IsFolder {
		ids, err := e.resolveSubtree(ctx, it)
		if err != nil {
			return 0, err
		}
		targets = ids
	}
	n := 0
	for _, id := range targets {
		existed, err := e.store.Grants().Delete(ctx, id, recipient)
		if err != nil {
			return 0, err
		}
		if err := e.store.Overlay().DeleteAllForPair(ctx, id, recipient); err != nil {
			return 0, err
		}
		if existed {
			n++
		}
	}
	return n, nil
}

func reverse(ids []uuid.UUID) {
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
}
