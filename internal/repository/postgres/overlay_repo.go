package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"cryptvault/internal/errs"
	"cryptvault/internal/model"
)

// OverlayRepo implements OverlayRepository using PostgreSQL. Every mutation is
// expressed as ON CONFLICT DO NOTHING / absent-ok DELETE, so retries converge.
type OverlayRepo struct{ db *DB }

// NewOverlayRepo constructs an overlay repository.
func NewOverlayRepo(db *DB) *OverlayRepo { return &OverlayRepo{db: db} }

// MarkOwnerTombstones hides an owner-trashed item from the given recipients.
func (r *OverlayRepo) MarkOwnerTombstones(ctx context.Context, itemID uuid.UUID, recipients []string, at time.Time) error {
	if len(recipients) == 0 {
		return nil
	}
	const q = `
INSERT INTO owner_tombstones (item_id, recipient, created_at)
SELECT $1, unnest($2::text[]), $3
ON CONFLICT (item_id, recipient) DO NOTHING`
	_, err := r.db.q(ctx).Exec(ctx, q, itemID, recipients, at)
	return err
}

// ClearOwnerTombstones removes owner tombstones; empty recipients clears all.
func (r *OverlayRepo) ClearOwnerTombstones(ctx context.Context, itemID uuid.UUID, recipients []string) error {
	if len(recipients) == 0 {
		const q = `DELETE FROM owner_tombstones WHERE item_id=$1`
		_, err := r.db.q(ctx).Exec(ctx, q, itemID)
		return err
	}
	const q = `DELETE FROM owner_tombstones WHERE item_id=$1 AND recipient = ANY($2::text[])`
	_, err := r.db.q(ctx).Exec(ctx, q, itemID, recipients)
	return err
}

// MarkRecipientTombstone records the recipient-side trash marker.
func (r *OverlayRepo) MarkRecipientTombstone(ctx context.Context, itemID uuid.UUID, recipient string, at time.Time) error {
	const q = `
INSERT INTO recipient_tombstones (item_id, recipient, trashed_at, purged)
VALUES ($1,$2,$3,false)
ON CONFLICT (item_id, recipient) DO NOTHING`
	_, err := r.db.q(ctx).Exec(ctx, q, itemID, recipient, at)
	return err
}

// ClearRecipientTombstone removes the recipient's trash marker.
func (r *OverlayRepo) ClearRecipientTombstone(ctx context.Context, itemID uuid.UUID, recipient string) error {
	const q = `DELETE FROM recipient_tombstones WHERE item_id=$1 AND recipient=$2`
	_, err := r.db.q(ctx).Exec(ctx, q, itemID, recipient)
	return err
}

// GetRecipientTombstone returns the marker for one pair.
func (r *OverlayRepo) GetRecipientTombstone(ctx context.Context, itemID uuid.UUID, recipient string) (*model.RecipientTombstone, error) {
	const q = `SELECT item_id, recipient, trashed_at, purged FROM recipient_tombstones WHERE item_id=$1 AND recipient=$2`
	var t model.RecipientTombstone
	err := r.db.q(ctx).QueryRow(ctx, q, itemID, recipient).
		Scan(&t.ItemID, &t.Recipient, &t.TrashedAt, &t.Purged)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// MarkHidden records a recipient's permanent dismissal of a share.
func (r *OverlayRepo) MarkHidden(ctx context.Context, itemID uuid.UUID, recipient string, at time.Time) error {
	const q = `
INSERT INTO hidden_shares (item_id, recipient, hidden_at)
VALUES ($1,$2,$3)
ON CONFLICT (item_id, recipient) DO NOTHING`
	_, err := r.db.q(ctx).Exec(ctx, q, itemID, recipient, at)
	return err
}

// ClearHidden removes hidden markers for the recipient on the given items.
func (r *OverlayRepo) ClearHidden(ctx context.Context, recipient string, itemIDs []uuid.UUID) (int, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	const q = `DELETE FROM hidden_shares WHERE recipient=$1 AND item_id = ANY($2::uuid[])`
	tag, err := r.db.q(ctx).Exec(ctx, q, recipient, uuidStrings(itemIDs))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// IsHidden reports whether a hidden marker exists for the pair.
func (r *OverlayRepo) IsHidden(ctx context.Context, itemID uuid.UUID, recipient string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM hidden_shares WHERE item_id=$1 AND recipient=$2)`
	var ok bool
	if err := r.db.q(ctx).QueryRow(ctx, q, itemID, recipient).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// DeleteAllForPair removes every overlay row for one (item, recipient) pair.
func (r *OverlayRepo) DeleteAllForPair(ctx context.Context, itemID uuid.UUID, recipient string) error {
	q := r.db.q(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM owner_tombstones WHERE item_id=$1 AND recipient=$2`, itemID, recipient); err != nil {
		return err
	}
	if _, err := q.Exec(ctx, `DELETE FROM recipient_tombstones WHERE item_id=$1 AND recipient=$2`, itemID, recipient); err != nil {
		return err
	}
	_, err := q.Exec(ctx, `DELETE FROM hidden_shares WHERE item_id=$1 AND recipient=$2`, itemID, recipient)
	return err
}

// DeleteAllForItems removes every overlay row for the given items.
func (r *OverlayRepo) DeleteAllForItems(ctx context.Context, itemIDs []uuid.UUID) error {
	if len(itemIDs) == 0 {
		return nil
	}
	ids := uuidStrings(itemIDs)
	q := r.db.q(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM owner_tombstones WHERE item_id = ANY($1::uuid[])`, ids); err != nil {
		return err
	}
	if _, err := q.Exec(ctx, `DELETE FROM recipient_tombstones WHERE item_id = ANY($1::uuid[])`, ids); err != nil {
		return err
	}
	_, err := q.Exec(ctx, `DELETE FROM hidden_shares WHERE item_id = ANY($1::uuid[])`, ids)
	return err
}

// ListVisible returns the recipient's current shared view with one indexed join.
func (r *OverlayRepo) ListVisible(ctx context.Context, recipient string) ([]model.SharedItem, error) {
	const q = `
SELECT g.item_id, g.name, g.size, g.mime, g.is_folder, g.granter, g.created_at
FROM grants g
LEFT JOIN owner_tombstones ot ON ot.item_id=g.item_id AND ot.recipient=g.recipient
LEFT JOIN recipient_tombstones rt ON rt.item_id=g.item_id AND rt.recipient=g.recipient
LEFT JOIN hidden_shares h ON h.item_id=g.item_id AND h.recipient=g.recipient
WHERE g.recipient=$1 AND ot.item_id IS NULL AND rt.item_id IS NULL AND h.item_id IS NULL
ORDER BY g.created_at DESC`
	rows, err := r.db.q(ctx).Query(ctx, q, recipient)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SharedItem
	for rows.Next() {
		var si model.SharedItem
		if err := rows.Scan(&si.ItemID, &si.Name, &si.Size, &si.Mime, &si.IsFolder, &si.Granter, &si.SharedAt); err != nil {
			return nil, err
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// ListTrash returns grants the recipient has trashed but not purged.
func (r *OverlayRepo) ListTrash(ctx context.Context, recipient string) ([]model.SharedItem, error) {
	const q = `
SELECT g.item_id, g.name, g.size, g.mime, g.is_folder, g.granter, g.created_at, rt.trashed_at
FROM grants g
JOIN recipient_tombstones rt ON rt.item_id=g.item_id AND rt.recipient=g.recipient AND rt.purged=false
WHERE g.recipient=$1
ORDER BY rt.trashed_at DESC`
	rows, err := r.db.q(ctx).Query(ctx, q, recipient)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SharedItem
	for rows.Next() {
		var si model.SharedItem
		var trashedAt time.Time
		if err := rows.Scan(&si.ItemID, &si.Name, &si.Size, &si.Mime, &si.IsFolder, &si.Granter, &si.SharedAt, &trashedAt); err != nil {
			return nil, err
		}
		si.TrashedAt = &trashedAt
		out = append(out, si)
	}
	return out, rows.Err()
}

// ListHidden returns shares the recipient has permanently dismissed.
func (r *OverlayRepo) ListHidden(ctx context.Context, recipient string) ([]model.SharedItem, error) {
	const q = `
SELECT g.item_id, g.name, g.size, g.mime, g.is_folder, g.granter, g.created_at, h.hidden_at
FROM grants g
JOIN hidden_shares h ON h.item_id=g.item_id AND h.recipient=g.recipient
WHERE g.recipient=$1
ORDER BY h.hidden_at DESC`
	rows, err := r.db.q(ctx).Query(ctx, q, recipient)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SharedItem
	for rows.Next() {
		var si model.SharedItem
		var hiddenAt time.Time
		if err := rows.Scan(&si.ItemID, &si.Name, &si.Size, &si.Mime, &si.IsFolder, &si.Granter, &si.SharedAt, &hiddenAt); err != nil {
			return nil, err
		}
		si.HiddenAt = &hiddenAt
		out = append(out, si)
	}
	return out, rows.Err()
}
