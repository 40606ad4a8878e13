package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"cryptvault/internal/errs"
	"cryptvault/internal/model"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.Items().Insert(ctx, &model.Item{ID: id, Owner: "a@x.com", Name: "f"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Items().Get(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestWithinTxCommitsOnSuccess(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		return s.Items().Insert(ctx, &model.Item{ID: id, Owner: "a@x.com", Name: "f"})
	})
	require.NoError(t, err)

	it, err := s.Items().Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "f", it.Name)
}

func TestWithinTxJoinsOpenTransaction(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		return s.WithinTx(ctx, func(ctx context.Context) error {
			return s.Items().Insert(ctx, &model.Item{ID: id, Owner: "a@x.com", Name: "f"})
		})
	})
	require.NoError(t, err)

	_, err = s.Items().Get(ctx, id)
	require.NoError(t, err)
}

func TestWithinTxRestoresSnapshotOnPanic(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	require.Panics(t, func() {
		_ = s.WithinTx(ctx, func(ctx context.Context) error {
			_ = s.Items().Insert(ctx, &model.Item{ID: id, Owner: "a@x.com", Name: "f"})
			panic("boom")
		})
	})

	_, err := s.Items().Get(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGrantInsertRejectsDuplicatePair(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	g := &model.Grant{ItemID: id, Recipient: "b@x.com", Granter: "a@x.com", CreatedAt: time.Now()}

	require.NoError(t, s.Grants().Insert(ctx, g))
	require.ErrorIs(t, s.Grants().Insert(ctx, g), errs.ErrAlreadyShared)
}

func TestOverlayMarksAreIdempotent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	first := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	require.NoError(t, s.Overlay().MarkRecipientTombstone(ctx, id, "b@x.com", first))
	require.NoError(t, s.Overlay().MarkRecipientTombstone(ctx, id, "b@x.com", later))

	tomb, err := s.Overlay().GetRecipientTombstone(ctx, id, "b@x.com")
	require.NoError(t, err)
	require.Equal(t, first, tomb.TrashedAt)
}
