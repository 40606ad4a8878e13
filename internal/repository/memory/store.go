// Package memory provides an in-memory Store with the same semantics as the
// Postgres backend, including transactional rollback. It backs the service
// behavior tests and lets them exercise full share/trash/restore scenarios
// without a database.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"cryptvault/internal/errs"
	"cryptvault/internal/model"
	"cryptvault/internal/repository"
)

type pairKey struct {
	item      uuid.UUID
	recipient string
}

type data struct {
	items      map[uuid.UUID]model.Item
	grants     map[pairKey]model.Grant
	ownerTombs map[pairKey]model.OwnerTombstone
	recipTombs map[pairKey]model.RecipientTombstone
	hidden     map[pairKey]model.HiddenMarker
}

func (d *data) clone() *data {
	return &data{
		items:      maps.Clone(d.items),
		grants:     maps.Clone(d.grants),
		ownerTombs: maps.Clone(d.ownerTombs),
		recipTombs: maps.Clone(d.recipTombs),
		hidden:     maps.Clone(d.hidden),
	}
}

// Store implements repository.Store in memory.
type Store struct {
	mu sync.Mutex
	d  *data
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{d: &data{
		items:      map[uuid.UUID]model.Item{},
		grants:     map[pairKey]model.Grant{},
		ownerTombs: map[pairKey]model.OwnerTombstone{},
		recipTombs: map[pairKey]model.RecipientTombstone{},
		hidden:     map[pairKey]model.HiddenMarker{},
	}}
}

// Items returns the item tree repository.
func (s *Store) Items() repository.ItemRepository { return &itemRepo{s} }

// Grants returns the grant ledger repository.
func (s *Store) Grants() repository.GrantRepository { return &grantRepo{s} }

// Overlay returns the visibility overlay repository.
func (s *Store) Overlay() repository.OverlayRepository { return &overlayRepo{s} }

type txKey struct{}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(bool)
	return ok
}

// WithinTx serializes the whole operation under one lock and restores a
// snapshot of the data when fn fails, so partial application never survives.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.d.clone()
	defer func() {
		if p := recover(); p != nil {
			s.d = snapshot
			panic(p)
		}
		if err != nil {
			s.d = snapshot
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, true))
}

// lock acquires the store mutex unless the caller already runs inside WithinTx.
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// --- items ---

type itemRepo struct{ s *Store }

func (r *itemRepo) Insert(ctx context.Context, it *model.Item) error {
	defer r.s.lock(ctx)()
	r.s.d.items[it.ID] = *it
	return nil
}

func (r *itemRepo) Get(ctx context.Context, id uuid.UUID) (*model.Item, error) {
	defer r.s.lock(ctx)()
	it, ok := r.s.d.items[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &it, nil
}

func (r *itemRepo) ListChildren(ctx context.Context, parentID uuid.UUID) ([]model.Item, error) {
	defer r.s.lock(ctx)()
	var out []model.Item
	for _, it := range r.s.d.items {
		if it.ParentID.Valid && it.ParentID.UUID == parentID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (r *itemRepo) SetOwnerDeleted(ctx context.Context, ids []uuid.UUID, deleted bool, at time.Time) error {
	defer r.s.lock(ctx)()
	for _, id := range ids {
		it, ok := r.s.d.items[id]
		if !ok {
			continue
		}
		it.OwnerDeleted = deleted
		if deleted {
			t := at
			it.OwnerDeletedAt = &t
		} else {
			it.OwnerDeletedAt = nil
		}
		r.s.d.items[id] = it
	}
	return nil
}

func (r *itemRepo) Rename(ctx context.Context, id uuid.UUID, name string) error {
	defer r.s.lock(ctx)()
	it, ok := r.s.d.items[id]
	if !ok {
		return errs.ErrNotFound
	}
	it.Name = name
	r.s.d.items[id] = it
	return nil
}

func (r *itemRepo) Delete(ctx context.Context, ids []uuid.UUID) error {
	defer r.s.lock(ctx)()
	for _, id := range ids {
		delete(r.s.d.items, id)
	}
	return nil
}

// --- grants ---

type grantRepo struct{ s *Store }

func (r *grantRepo) Insert(ctx context.Context, g *model.Grant) error {
	defer r.s.lock(ctx)()
	k := pairKey{g.ItemID, g.Recipient}
	if _, exists := r.s.d.grants[k]; exists {
		return errs.ErrAlreadyShared
	}
	r.s.d.grants[k] = *g
	return nil
}

func (r *grantRepo) Get(ctx context.Context, itemID uuid.UUID, recipient string) (*model.Grant, error) {
	defer r.s.lock(ctx)()
	g, ok := r.s.d.grants[pairKey{itemID, recipient}]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &g, nil
}

func (r *grantRepo) Delete(ctx context.Context, itemID uuid.UUID, recipient string) (bool, error) {
	defer r.s.lock(ctx)()
	k := pairKey{itemID, recipient}
	_, existed := r.s.d.grants[k]
	delete(r.s.d.grants, k)
	return existed, nil
}

func (r *grantRepo) DeleteForItems(ctx context.Context, itemIDs []uuid.UUID) (int, error) {
	defer r.s.lock(ctx)()
	n := 0
	for _, id := range itemIDs {
		for k := range r.s.d.grants {
			if k.item == id {
				delete(r.s.d.grants, k)
				n++
			}
		}
	}
	return n, nil
}

func (r *grantRepo) ListForItem(ctx context.Context, itemID uuid.UUID) ([]model.Grant, error) {
	return r.list(ctx, func(g model.Grant) bool { return g.ItemID == itemID })
}

func (r *grantRepo) ListByRecipient(ctx context.Context, recipient string) ([]model.Grant, error) {
	return r.list(ctx, func(g model.Grant) bool { return g.Recipient == recipient })
}

func (r *grantRepo) ListByGranter(ctx context.Context, granter string) ([]model.Grant, error) {
	return r.list(ctx, func(g model.Grant) bool { return g.Granter == granter })
}

func (r *grantRepo) ListByRecipientForItems(ctx context.Context, recipient string, itemIDs []uuid.UUID) ([]model.Grant, error) {
	in := make(map[uuid.UUID]bool, len(itemIDs))
	for _, id := range itemIDs {
		in[id] = true
	}
	return r.list(ctx, func(g model.Grant) bool { return g.Recipient == recipient && in[g.ItemID] })
}

func (r *grantRepo) RefreshMetadata(ctx context.Context, itemID uuid.UUID, name string, size int64, mime string) error {
	defer r.s.lock(ctx)()
	for k, g := range r.s.d.grants {
		if k.item == itemID {
			g.Name, g.Size, g.Mime = name, size, mime
			r.s.d.grants[k] = g
		}
	}
	return nil
}

func (r *grantRepo) list(ctx context.Context, keep func(model.Grant) bool) ([]model.Grant, error) {
	defer r.s.lock(ctx)()
	var out []model.Grant
	for _, g := range r.s.d.grants {
		if keep(g) {
			out = append(out, g)
		}
	}
	sortGrants(out)
	return out, nil
}

func sortGrants(gs []model.Grant) {
	sort.Slice(gs, func(i, j int) bool {
		if !gs[i].CreatedAt.Equal(gs[j].CreatedAt) {
			return gs[i].CreatedAt.Before(gs[j].CreatedAt)
		}
		return gs[i].ItemID.String() < gs[j].ItemID.String()
	})
}

// --- overlay ---

type overlayRepo struct{ s *Store }

func (r *overlayRepo) MarkOwnerTombstones(ctx context.Context, itemID uuid.UUID, recipients []string, at time.Time) error {
	defer r.s.lock(ctx)()
	for _, rcpt := range recipients {
		k := pairKey{itemID, rcpt}
		if _, exists := r.s.d.ownerTombs[k]; !exists {
			r.s.d.ownerTombs[k] = model.OwnerTombstone{ItemID: itemID, Recipient: rcpt, CreatedAt: at}
		}
	}
	return nil
}

func (r *overlayRepo) ClearOwnerTombstones(ctx context.Context, itemID uuid.UUID, recipients []string) error {
	defer r.s.lock(ctx)()
	if len(recipients) == 0 {
		for k := range r.s.d.ownerTombs {
			if k.item == itemID {
				delete(r.s.d.ownerTombs, k)
			}
		}
		return nil
	}
	for _, rcpt := range recipients {
		delete(r.s.d.ownerTombs, pairKey{itemID, rcpt})
	}
	return nil
}

func (r *overlayRepo) MarkRecipientTombstone(ctx context.Context, itemID uuid.UUID, recipient string, at time.Time) error {
	defer r.s.lock(ctx)()
	k := pairKey{itemID, recipient}
	if _, exists := r.s.d.recipTombs[k]; !exists {
		r.s.d.recipTombs[k] = model.RecipientTombstone{ItemID: itemID, Recipient: recipient, TrashedAt: at}
	}
	return nil
}

func (r *overlayRepo) ClearRecipientTombstone(ctx context.Context, itemID uuid.UUID, recipient string) error {
	defer r.s.lock(ctx)()
	delete(r.s.d.recipTombs, pairKey{itemID, recipient})
	return nil
}

func (r *overlayRepo) GetRecipientTombstone(ctx context.Context, itemID uuid.UUID, recipient string) (*model.RecipientTombstone, error) {
	defer r.s.lock(ctx)()
	t, ok := r.s.d.recipTombs[pairKey{itemID, recipient}]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &t, nil
}

func (r *overlayRepo) MarkHidden(ctx context.Context, itemID uuid.UUID, recipient string, at time.Time) error {
	defer r.s.lock(ctx)()
	k := pairKey{itemID, recipient}
	if _, exists := r.s.d.hidden[k]; !exists {
		r.s.d.hidden[k] = model.HiddenMarker{ItemID: itemID, Recipient: recipient, HiddenAt: at}
	}
	return nil
}

func (r *overlayRepo) ClearHidden(ctx context.Context, recipient string, itemIDs []uuid.UUID) (int, error) {
	defer r.s.lock(ctx)()
	n := 0
	for _, id := range itemIDs {
		k := pairKey{id, recipient}
		if _, ok := r.s.d.hidden[k]; ok {
			delete(r.s.d.hidden, k)
			n++
		}
	}
	return n, nil
}

func (r *overlayRepo) IsHidden(ctx context.Context, itemID uuid.UUID, recipient string) (bool, error) {
	defer r.s.lock(ctx)()
	_, ok := r.s.d.hidden[pairKey{itemID, recipient}]
	return ok, nil
}

func (r *overlayRepo) DeleteAllForPair(ctx context.Context, itemID uuid.UUID, recipient string) error {
	defer r.s.lock(ctx)()
	k := pairKey{itemID, recipient}
	delete(r.s.d.ownerTombs, k)
	delete(r.s.d.recipTombs, k)
	delete(r.s.d.hidden, k)
	return nil
}

func (r *overlayRepo) DeleteAllForItems(ctx context.Context, itemIDs []uuid.UUID) error {
	defer r.s.lock(ctx)()
	for _, id := range itemIDs {
		for k := range r.s.d.ownerTombs {
			if k.item == id {
				delete(r.s.d.ownerTombs, k)
			}
		}
		for k := range r.s.d.recipTombs {
			if k.item == id {
				delete(r.s.d.recipTombs, k)
			}
		}
		for k := range r.s.d.hidden {
			if k.item == id {
				delete(r.s.d.hidden, k)
			}
		}
	}
	return nil
}

func (r *overlayRepo) ListVisible(ctx context.Context, recipient string) ([]model.SharedItem, error) {
	defer r.s.lock(ctx)()
	var out []model.SharedItem
	for k, g := range r.s.d.grants {
		if g.Recipient != recipient {
			continue
		}
		if _, ot := r.s.d.ownerTombs[k]; ot {
			continue
		}
		if _, rt := r.s.d.recipTombs[k]; rt {
			continue
		}
		if _, h := r.s.d.hidden[k]; h {
			continue
		}
		out = append(out, sharedItem(g, nil, nil))
	}
	sortShared(out)
	return out, nil
}

func (r *overlayRepo) ListTrash(ctx context.Context, recipient string) ([]model.SharedItem, error) {
	defer r.s.lock(ctx)()
	var out []model.SharedItem
	for k, g := range r.s.d.grants {
		if g.Recipient != recipient {
			continue
		}
		t, ok := r.s.d.recipTombs[k]
		if !ok || t.Purged {
			continue
		}
		trashedAt := t.TrashedAt
		out = append(out, sharedItem(g, &trashedAt, nil))
	}
	sortShared(out)
	return out, nil
}

func (r *overlayRepo) ListHidden(ctx context.Context, recipient string) ([]model.SharedItem, error) {
	defer r.s.lock(ctx)()
	var out []model.SharedItem
	for k, g := range r.s.d.grants {
		if g.Recipient != recipient {
			continue
		}
		h, ok := r.s.d.hidden[k]
		if !ok {
			continue
		}
		hiddenAt := h.HiddenAt
		out = append(out, sharedItem(g, nil, &hiddenAt))
	}
	sortShared(out)
	return out, nil
}

func sharedItem(g model.Grant, trashedAt, hiddenAt *time.Time) model.SharedItem {
	return model.SharedItem{
		ItemID:    g.ItemID,
		Name:      g.Name,
		Size:      g.Size,
		Mime:      g.Mime,
		IsFolder:  g.IsFolder,
		Granter:   g.Granter,
		SharedAt:  g.CreatedAt,
		TrashedAt: trashedAt,
		HiddenAt:  hiddenAt,
	}
}

func sortShared(items []model.SharedItem) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].SharedAt.Equal(items[j].SharedAt) {
			return items[i].SharedAt.After(items[j].SharedAt)
		}
		return items[i].ItemID.String() < items[j].ItemID.String()
	})
}
