// Package repository defines storage interfaces implemented by concrete backends.
package repository

import "context"

// Store bundles the three row families behind one transactional boundary.
// Every propagation engine operation runs inside a single WithinTx call, so
// a crash or context cancellation mid-operation rolls back all of its writes.
type Store interface {
	Items() ItemRepository
	Grants() GrantRepository
	Overlay() OverlayRepository

	// WithinTx runs fn inside one storage transaction. Repository calls made
	// with the context passed to fn join that transaction. fn returning an
	// error (or a panic) rolls everything back.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
