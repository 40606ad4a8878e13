// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested item or grant does not exist in the caller's scope.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the caller is not the owner or authorized actor.
	ErrForbidden = errors.New("forbidden")

	// ErrAlreadyShared indicates a grant already exists for this (item, recipient) pair.
	// Callers should treat it as an informational no-op, not a failure.
	ErrAlreadyShared = errors.New("already shared")

	// ErrRecipientMustPurgeFirst indicates the recipient holds a trashed copy of the
	// item; the owner cannot re-share it until the recipient purges their trash.
	ErrRecipientMustPurgeFirst = errors.New("recipient must purge trashed copy first")

	// ErrInvalidState indicates a failed operation precondition
	// (e.g. permanent delete of an item that is not in the trash).
	ErrInvalidState = errors.New("invalid state")
)
