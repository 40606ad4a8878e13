package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"cryptvault/internal/errs"
	"cryptvault/internal/model"
)

func grantRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"item_id", "recipient", "granter", "name", "size", "mime", "is_folder",
		"wrapped_key", "permission", "created_at",
	})
}

func TestGrantRepo_Insert_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewGrantRepo(db)

	id := uuid.Must(uuid.NewV4())
	g := &model.Grant{ItemID: id, Recipient: "b@x.com", Granter: "a@x.com",
		Name: "report.pdf", Size: 10, Mime: "application/pdf",
		WrappedKey: []byte("wk"), Permission: model.PermissionView}

	mock.ExpectExec(`INSERT INTO grants \(item_id, recipient, granter, name, size, mime, is_folder, wrapped_key, permission\)`).
		WithArgs(id, "b@x.com", "a@x.com", "report.pdf", int64(10), "application/pdf",
			false, []byte("wk"), "view").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, r.Insert(context.Background(), g))
}

func TestGrantRepo_Insert_DuplicatePair(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewGrantRepo(db)

	id := uuid.Must(uuid.NewV4())
	mock.ExpectExec(`INSERT INTO grants`).
		WithArgs(id, "b@x.com", "a@x.com", "f", int64(0), "", false, []byte(nil), "view").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := r.Insert(context.Background(), &model.Grant{
		ItemID: id, Recipient: "b@x.com", Granter: "a@x.com", Name: "f",
		Permission: model.PermissionView,
	})
	require.ErrorIs(t, err, errs.ErrAlreadyShared)
}

func TestGrantRepo_Get_OK_And_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewGrantRepo(db)

	id := uuid.Must(uuid.NewV4())
	ts := time.Now().UTC()

	mock.ExpectQuery(`SELECT (.+) FROM grants WHERE item_id=\$1 AND recipient=\$2`).
		WithArgs(id, "b@x.com").
		WillReturnRows(grantRows().AddRow(
			id, "b@x.com", "a@x.com", "report.pdf", int64(10), "application/pdf",
			false, []byte("wk"), "view", ts))
	g, err := r.Get(context.Background(), id, "b@x.com")
	require.NoError(t, err)
	require.Equal(t, model.PermissionView, g.Permission)
	require.Equal(t, []byte("wk"), g.WrappedKey)

	mock.ExpectQuery(`SELECT (.+) FROM grants WHERE item_id=\$1 AND recipient=\$2`).
		WithArgs(id, "b@x.com").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(context.Background(), id, "b@x.com")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGrantRepo_Delete_ReportsExistence(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewGrantRepo(db)

	id := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`DELETE FROM grants WHERE item_id=\$1 AND recipient=\$2`).
		WithArgs(id, "b@x.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	existed, err := r.Delete(context.Background(), id, "b@x.com")
	require.NoError(t, err)
	require.True(t, existed)

	mock.ExpectExec(`DELETE FROM grants WHERE item_id=\$1 AND recipient=\$2`).
		WithArgs(id, "b@x.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	existed, err = r.Delete(context.Background(), id, "b@x.com")
	require.NoError(t, err)
	require.False(t, existed)
}

func TestGrantRepo_DeleteForItems_CountsRows(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewGrantRepo(db)

	a := uuid.Must(uuid.NewV4())
	b := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`DELETE FROM grants WHERE item_id = ANY\(\$1::uuid\[\]\)`).
		WithArgs([]string{a.String(), b.String()}).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := r.DeleteForItems(context.Background(), []uuid.UUID{a, b})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = r.DeleteForItems(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantRepo_ListForItem(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewGrantRepo(db)

	id := uuid.Must(uuid.NewV4())
	ts := time.Now().UTC()

	mock.ExpectQuery(`SELECT (.+) FROM grants WHERE item_id=\$1 ORDER BY created_at`).
		WithArgs(id).
		WillReturnRows(grantRows().
			AddRow(id, "b@x.com", "a@x.com", "f", int64(0), "", false, []byte(nil), "view", ts).
			AddRow(id, "c@x.com", "a@x.com", "f", int64(0), "", false, []byte(nil), "view", ts))

	out, err := r.ListForItem(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "b@x.com", out[0].Recipient)
}

func TestGrantRepo_ListByRecipientForItems_EmptySkipsQuery(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewGrantRepo(db)

	out, err := r.ListByRecipientForItems(context.Background(), "b@x.com", nil)
	require.NoError(t, err)
	require.Empty(t, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantRepo_RefreshMetadata(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewGrantRepo(db)

	id := uuid.Must(uuid.NewV4())
	mock.ExpectExec(`UPDATE grants SET name=\$2, size=\$3, mime=\$4 WHERE item_id=\$1`).
		WithArgs(id, "final.pdf", int64(20), "application/pdf").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	require.NoError(t, r.RefreshMetadata(context.Background(), id, "final.pdf", 20, "application/pdf"))
}
