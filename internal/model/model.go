// Package model defines domain entities used by services and repositories.
package model

import (
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Permission is the access level a grant carries. Only read access exists today.
type Permission string

const (
	PermissionView Permission = "view"
)

// EncryptedBlob is opaque ciphertext produced on the client side.
// The server stores and returns it verbatim, never inspecting it.
type EncryptedBlob []byte

// Envelope carries the encryption collaborator's payload for one item:
// ciphertext, IV and the wrapped per-file key variant for the calling identity.
type Envelope struct {
	ItemID     uuid.UUID
	BlobEnc    EncryptedBlob
	IV         []byte
	WrappedKey []byte // owner's own copy, or the recipient's copy from their grant
}

// Item is a file or folder in its owner's hierarchy.
type Item struct {
	ID              uuid.UUID
	Owner           string // normalized identity
	Name            string
	Size            int64
	Mime            string
	IsFolder        bool
	ParentID        uuid.NullUUID // null = root of the owner's tree
	OwnerDeleted    bool          // owner-side soft-delete flag
	OwnerDeletedAt  *time.Time
	BlobEnc         EncryptedBlob
	IV              []byte
	OwnerWrappedKey []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewItem is the upload collaborator's intent to create an item, together with
// wrapped keys for recipients inheriting access from the parent folder.
type NewItem struct {
	ID              uuid.UUID
	Owner           string
	Name            string
	Size            int64
	Mime            string
	IsFolder        bool
	ParentID        uuid.NullUUID
	BlobEnc         EncryptedBlob
	IV              []byte
	OwnerWrappedKey []byte
	// RecipientKeys maps normalized recipient identity to that recipient's
	// wrapped copy of the file key. Entries for identities without a parent
	// grant are ignored.
	RecipientKeys map[string][]byte
}

// Grant records that an owner shared an item with a recipient.
// Name/Size/Mime/IsFolder are a display cache, not authoritative.
type Grant struct {
	ItemID     uuid.UUID
	Recipient  string // normalized identity
	Granter    string // normalized identity; always the item's owner
	Name       string
	Size       int64
	Mime       string
	IsFolder   bool
	WrappedKey []byte
	Permission Permission
	CreatedAt  time.Time
}

// OwnerTombstone hides an item from one recipient while the owner's copy
// sits in the owner's trash. The grant itself stays intact.
type OwnerTombstone struct {
	ItemID    uuid.UUID
	Recipient string
	CreatedAt time.Time
}

// RecipientTombstone marks that a recipient moved their view of a shared item
// into their personal trash. Purged records the recipient's permanent delete.
type RecipientTombstone struct {
	ItemID    uuid.UUID
	Recipient string
	TrashedAt time.Time
	Purged    bool
}

// HiddenMarker is a recipient's permanent dismissal of a share, independent of trash.
type HiddenMarker struct {
	ItemID    uuid.UUID
	Recipient string
	HiddenAt  time.Time
}

// SharedItem is one row of a recipient-facing listing (shared view, trash, hidden).
type SharedItem struct {
	ItemID    uuid.UUID
	Name      string
	Size      int64
	Mime      string
	IsFolder  bool
	Granter   string
	SharedAt  time.Time
	TrashedAt *time.Time // set on trash listings
	HiddenAt  *time.Time // set on hidden listings
}

// NormalizeIdentity canonicalizes an email-like identity for storage and
// comparison. All identity comparisons in the core are case-insensitive.
func NormalizeIdentity(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// SameIdentity reports whether two identities are equal case-insensitively.
func SameIdentity(a, b string) bool {
	return NormalizeIdentity(a) == NormalizeIdentity(b)
}
