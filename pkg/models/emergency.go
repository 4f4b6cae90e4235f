package models

import "time"

// Emergency contact statuses.
const (
	ContactActive  = "active"
	ContactRevoked = "revoked"
)

// Effective emergency request states. Granted is never stored: it is
// derived from the grant-at timestamp at read time.
const (
	RequestPending = "pending"
	RequestGranted = "granted"
	RequestDenied  = "denied"
)

// EmergencyContact is a trusted delegate for one (organization, user)
// pair. Contacts are soft-deleted via status, never removed.
type EmergencyContact struct {
	ID            string
	OrgID         string
	UserID        string
	Email         string
	Name          string
	WaitTimeHours int
	Status        string
	CreatedAt     time.Time
	RevokedAt     *time.Time
}

// IsActive reports whether the contact may open emergency requests.
func (c *EmergencyContact) IsActive() bool {
	return c.Status == ContactActive
}

// EmergencyRequest is one outstanding access request by a contact.
// Only pending and denied are ever persisted; a pending request whose
// GrantAt has passed is granted by definition.
type EmergencyRequest struct {
	ID          string
	ContactID   string
	Reason      string
	RequestedAt time.Time
	GrantAt     time.Time
	DeniedAt    *time.Time
	DeniedBy    *string
}
