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

// ItemRepo implements ItemRepository using PostgreSQL.
type ItemRepo struct{ db *DB }

// NewItemRepo constructs an item repository.
func NewItemRepo(db *DB) *ItemRepo { return &ItemRepo{db: db} }

const itemColumns = `id, owner, name, size, mime, is_folder, parent_id,
owner_deleted, owner_deleted_at, blob_enc, iv, owner_wrapped_key, created_at, updated_at`

// Insert creates a new item row.
func (r *ItemRepo) Insert(ctx context.Context, it *model.Item) error {
	const q = `
INSERT INTO items (id, owner, name, size, mime, is_folder, parent_id, blob_enc, iv, owner_wrapped_key)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.db.q(ctx).Exec(ctx, q,
		it.ID, it.Owner, it.Name, it.Size, it.Mime, it.IsFolder, it.ParentID,
		[]byte(it.BlobEnc), it.IV, it.OwnerWrappedKey)
	return err
}

// Get loads a single item by id.
func (r *ItemRepo) Get(ctx context.Context, id uuid.UUID) (*model.Item, error) {
	const q = `SELECT ` + itemColumns + ` FROM items WHERE id=$1`
	it, err := scanItem(r.db.q(ctx).QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return it, nil
}

// ListChildren returns the direct children of a folder.
func (r *ItemRepo) ListChildren(ctx context.Context, parentID uuid.UUID) ([]model.Item, error) {
	const q = `SELECT ` + itemColumns + ` FROM items WHERE parent_id=$1 ORDER BY created_at`
	rows, err := r.db.q(ctx).Query(ctx, q, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// SetOwnerDeleted flips the soft-delete flag on a batch of items.
func (r *ItemRepo) SetOwnerDeleted(ctx context.Context, ids []uuid.UUID, deleted bool, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `
UPDATE items
SET owner_deleted=$2,
    owner_deleted_at=CASE WHEN $2 THEN $3 ELSE NULL END,
    updated_at=now()
WHERE id = ANY($1::uuid[])`
	_, err := r.db.q(ctx).Exec(ctx, q, uuidStrings(ids), deleted, at)
	return err
}

// Rename updates the display name.
func (r *ItemRepo) Rename(ctx context.Context, id uuid.UUID, name string) error {
	const q = `UPDATE items SET name=$2, updated_at=now() WHERE id=$1`
	tag, err := r.db.q(ctx).Exec(ctx, q, id, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes item rows permanently. Children first, so the parent FK holds.
func (r *ItemRepo) Delete(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `DELETE FROM items WHERE id = ANY($1::uuid[])`
	_, err := r.db.q(ctx).Exec(ctx, q, uuidStrings(ids))
	return err
}

// scanItem reads one item row from a pgx.Row or pgx.Rows.
func scanItem(row pgx.Row) (*model.Item, error) {
	var it model.Item
	var blob []byte
	err := row.Scan(&it.ID, &it.Owner, &it.Name, &it.Size, &it.Mime, &it.IsFolder,
		&it.ParentID, &it.OwnerDeleted, &it.OwnerDeletedAt,
		&blob, &it.IV, &it.OwnerWrappedKey, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	it.BlobEnc = model.EncryptedBlob(blob)
	return &it, nil
}

// uuidStrings converts ids for binding as a uuid[] parameter.
func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
