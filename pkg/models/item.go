package models

import "time"

// Item types. The server treats all of them identically; the type only
// drives client-side rendering.
const (
	ItemTypeLogin      = "login"
	ItemTypeNote       = "note"
	ItemTypeCard       = "card"
	ItemTypeCredential = "credential"
)

// VaultItem is one client-encrypted secret. Ciphertext is an opaque
// base64 blob produced and consumed by clients; the server never holds
// a key that could open it.
type VaultItem struct {
	ID         string
	OrgID      string
	CreatedBy  string
	Name       string
	Type       string
	Folder     string
	Ciphertext string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// IsDeleted reports whether the item has been soft-deleted.
func (v *VaultItem) IsDeleted() bool {
	return v.DeletedAt != nil
}
