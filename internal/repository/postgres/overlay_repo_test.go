package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"cryptvault/internal/errs"
)

func TestOverlayRepo_MarkOwnerTombstones(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewOverlayRepo(db)

	id := uuid.Must(uuid.NewV4())
	at := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO owner_tombstones \(item_id, recipient, created_at\)`).
		WithArgs(id, []string{"b@x.com", "c@x.com"}, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, r.MarkOwnerTombstones(context.Background(), id, []string{"b@x.com", "c@x.com"}, at))

	// No recipients, no statement.
	require.NoError(t, r.MarkOwnerTombstones(context.Background(), id, nil, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOverlayRepo_ClearOwnerTombstones_AllAndSome(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewOverlayRepo(db)

	id := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`DELETE FROM owner_tombstones WHERE item_id=\$1$`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	require.NoError(t, r.ClearOwnerTombstones(context.Background(), id, nil))

	mock.ExpectExec(`DELETE FROM owner_tombstones WHERE item_id=\$1 AND recipient = ANY\(\$2::text\[\]\)`).
		WithArgs(id, []string{"b@x.com"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.ClearOwnerTombstones(context.Background(), id, []string{"b@x.com"}))
}

func TestOverlayRepo_RecipientTombstone_RoundTrip(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewOverlayRepo(db)

	id := uuid.Must(uuid.NewV4())
	at := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO recipient_tombstones \(item_id, recipient, trashed_at, purged\)`).
		WithArgs(id, "b@x.com", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.MarkRecipientTombstone(context.Background(), id, "b@x.com", at))

	mock.ExpectQuery(`SELECT item_id, recipient, trashed_at, purged FROM recipient_tombstones`).
		WithArgs(id, "b@x.com").
		WillReturnRows(pgxmock.NewRows([]string{"item_id", "recipient", "trashed_at", "purged"}).
			AddRow(id, "b@x.com", at, false))
	tomb, err := r.GetRecipientTombstone(context.Background(), id, "b@x.com")
	require.NoError(t, err)
	require.False(t, tomb.Purged)
	require.Equal(t, at, tomb.TrashedAt)

	mock.ExpectExec(`DELETE FROM recipient_tombstones WHERE item_id=\$1 AND recipient=\$2`).
		WithArgs(id, "b@x.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.ClearRecipientTombstone(context.Background(), id, "b@x.com"))

	mock.ExpectQuery(`SELECT item_id, recipient, trashed_at, purged FROM recipient_tombstones`).
		WithArgs(id, "b@x.com").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetRecipientTombstone(context.Background(), id, "b@x.com")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestOverlayRepo_HiddenMarkers(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewOverlayRepo(db)

	id := uuid.Must(uuid.NewV4())
	at := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO hidden_shares \(item_id, recipient, hidden_at\)`).
		WithArgs(id, "b@x.com", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.MarkHidden(context.Background(), id, "b@x.com", at))

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM hidden_shares WHERE item_id=\$1 AND recipient=\$2\)`).
		WithArgs(id, "b@x.com").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	hidden, err := r.IsHidden(context.Background(), id, "b@x.com")
	require.NoError(t, err)
	require.True(t, hidden)

	mock.ExpectExec(`DELETE FROM hidden_shares WHERE recipient=\$1 AND item_id = ANY\(\$2::uuid\[\]\)`).
		WithArgs("b@x.com", []string{id.String()}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	n, err := r.ClearHidden(context.Background(), "b@x.com", []uuid.UUID{id})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestOverlayRepo_DeleteAllForPair(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewOverlayRepo(db)

	id := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`DELETE FROM owner_tombstones WHERE item_id=\$1 AND recipient=\$2`).
		WithArgs(id, "b@x.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM recipient_tombstones WHERE item_id=\$1 AND recipient=\$2`).
		WithArgs(id, "b@x.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM hidden_shares WHERE item_id=\$1 AND recipient=\$2`).
		WithArgs(id, "b@x.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, r.DeleteAllForPair(context.Background(), id, "b@x.com"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOverlayRepo_ListVisible(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewOverlayRepo(db)

	id := uuid.Must(uuid.NewV4())
	ts := time.Now().UTC()

	mock.ExpectQuery(`LEFT JOIN owner_tombstones`).
		WithArgs("b@x.com").
		WillReturnRows(pgxmock.NewRows([]string{"item_id", "name", "size", "mime", "is_folder", "granter", "created_at"}).
			AddRow(id, "report.pdf", int64(10), "application/pdf", false, "a@x.com", ts))

	out, err := r.ListVisible(context.Background(), "b@x.com")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "report.pdf", out[0].Name)
	require.Nil(t, out[0].TrashedAt)
}

func TestOverlayRepo_ListTrash(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewOverlayRepo(db)

	id := uuid.Must(uuid.NewV4())
	ts := time.Now().UTC()
	trashed := ts.Add(time.Hour)

	mock.ExpectQuery(`JOIN recipient_tombstones rt`).
		WithArgs("b@x.com").
		WillReturnRows(pgxmock.NewRows([]string{"item_id", "name", "size", "mime", "is_folder", "granter", "created_at", "trashed_at"}).
			AddRow(id, "report.pdf", int64(10), "application/pdf", false, "a@x.com", ts, trashed))

	out, err := r.ListTrash(context.Background(), "b@x.com")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].TrashedAt)
	require.Equal(t, trashed, *out[0].TrashedAt)
}

func TestOverlayRepo_ListHidden(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewOverlayRepo(db)

	id := uuid.Must(uuid.NewV4())
	ts := time.Now().UTC()
	hidden := ts.Add(time.Hour)

	mock.ExpectQuery(`JOIN hidden_shares h`).
		WithArgs("b@x.com").
		WillReturnRows(pgxmock.NewRows([]string{"item_id", "name", "size", "mime", "is_folder", "granter", "created_at", "hidden_at"}).
			AddRow(id, "report.pdf", int64(10), "application/pdf", false, "a@x.com", ts, hidden))

	out, err := r.ListHidden(context.Background(), "b@x.com")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].HiddenAt)
}
