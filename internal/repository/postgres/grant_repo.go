package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"cryptvault/internal/errs"
	"cryptvault/internal/model"
)

// GrantRepo implements GrantRepository using PostgreSQL.
type GrantRepo struct{ db *DB }

// NewGrantRepo constructs a grant repository.
func NewGrantRepo(db *DB) *GrantRepo { return &GrantRepo{db: db} }

const grantColumns = `item_id, recipient, granter, name, size, mime, is_folder, wrapped_key, permission, created_at`

// Insert creates a grant row. The (item_id, recipient) primary key backs
// duplicate-grant prevention.
func (r *GrantRepo) Insert(ctx context.Context, g *model.Grant) error {
	const q = `
INSERT INTO grants (item_id, recipient, granter, name, size, mime, is_folder, wrapped_key, permission)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.db.q(ctx).Exec(ctx, q,
		g.ItemID, g.Recipient, g.Granter, g.Name, g.Size, g.Mime, g.IsFolder,
		g.WrappedKey, string(g.Permission))
	if isUniqueViolation(err) {
		return errs.ErrAlreadyShared
	}
	return err
}

// Get loads one grant by pair.
func (r *GrantRepo) Get(ctx context.Context, itemID uuid.UUID, recipient string) (*model.Grant, error) {
	const q = `SELECT ` + grantColumns + ` FROM grants WHERE item_id=$1 AND recipient=$2`
	g, err := scanGrant(r.db.q(ctx).QueryRow(ctx, q, itemID, recipient))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return g, nil
}

// Delete removes the grant for one pair.
func (r *GrantRepo) Delete(ctx context.Context, itemID uuid.UUID, recipient string) (bool, error) {
	const q = `DELETE FROM grants WHERE item_id=$1 AND recipient=$2`
	tag, err := r.db.q(ctx).Exec(ctx, q, itemID, recipient)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteForItems removes every grant on the given items.
func (r *GrantRepo) DeleteForItems(ctx context.Context, itemIDs []uuid.UUID) (int, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	const q = `DELETE FROM grants WHERE item_id = ANY($1::uuid[])`
	tag, err := r.db.q(ctx).Exec(ctx, q, uuidStrings(itemIDs))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListForItem returns all grants on one item.
func (r *GrantRepo) ListForItem(ctx context.Context, itemID uuid.UUID) ([]model.Grant, error) {
	const q = `SELECT ` + grantColumns + ` FROM grants WHERE item_id=$1 ORDER BY created_at`
	return r.queryGrants(ctx, q, itemID)
}

// ListByRecipient returns all grants held by a recipient.
func (r *GrantRepo) ListByRecipient(ctx context.Context, recipient string) ([]model.Grant, error) {
	const q = `SELECT ` + grantColumns + ` FROM grants WHERE recipient=$1 ORDER BY created_at`
	return r.queryGrants(ctx, q, recipient)
}

// ListByGranter returns all grants issued by an owner.
func (r *GrantRepo) ListByGranter(ctx context.Context, granter string) ([]model.Grant, error) {
	const q = `SELECT ` + grantColumns + ` FROM grants WHERE granter=$1 ORDER BY created_at`
	return r.queryGrants(ctx, q, granter)
}

// ListByRecipientForItems returns the grants a recipient holds on the given items.
func (r *GrantRepo) ListByRecipientForItems(ctx context.Context, recipient string, itemIDs []uuid.UUID) ([]model.Grant, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	const q = `SELECT ` + grantColumns + ` FROM grants WHERE recipient=$1 AND item_id = ANY($2::uuid[]) ORDER BY created_at`
	return r.queryGrants(ctx, q, recipient, uuidStrings(itemIDs))
}

// RefreshMetadata re-snapshots the display cache on all grants of an item.
func (r *GrantRepo) RefreshMetadata(ctx context.Context, itemID uuid.UUID, name string, size int64, mime string) error {
	const q = `UPDATE grants SET name=$2, size=$3, mime=$4 WHERE item_id=$1`
	_, err := r.db.q(ctx).Exec(ctx, q, itemID, name, size, mime)
	return err
}

func (r *GrantRepo) queryGrants(ctx context.Context, q string, args ...any) ([]model.Grant, error) {
	rows, err := r.db.q(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func scanGrant(row pgx.Row) (*model.Grant, error) {
	var g model.Grant
	var perm string
	err := row.Scan(&g.ItemID, &g.Recipient, &g.Granter, &g.Name, &g.Size, &g.Mime,
		&g.IsFolder, &g.WrappedKey, &perm, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	g.Permission = model.Permission(perm)
	return &g, nil
}
