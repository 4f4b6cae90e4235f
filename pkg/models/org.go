package models

import "time"

// Member roles, in decreasing order of privilege.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User is an account holder. PasswordHash is a PBKDF2 hash of the
// client-derived login verifier; the master password itself never
// reaches the server.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

// OrgSettings are the per-organization knobs that the access-control
// core reads at decision time.
type OrgSettings struct {
	EmergencyMinWaitHours     int `json:"emergency_min_wait_hours"`
	ShareMaxExpiryHours       int `json:"share_max_expiry_hours"`
	SessionIdleTimeoutMinutes int `json:"session_idle_timeout_minutes"`
}

// DefaultOrgSettings returns the settings applied to a newly created
// organization.
func DefaultOrgSettings() OrgSettings {
	return OrgSettings{
		EmergencyMinWaitHours:     24,
		ShareMaxExpiryHours:       720, // 30 days
		SessionIdleTimeoutMinutes: 0,   // never
	}
}

// Organization groups users and vault items. Every user gets a personal
// organization at registration.
type Organization struct {
	ID        string
	Name      string
	Settings  OrgSettings
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Member links a user to an organization with a role.
type Member struct {
	OrgID    string
	UserID   string
	Role     string
	JoinedAt time.Time
}

// Invitation is a pending offer to join an organization, redeemed by a
// single-use token sent to the recipient out of band.
type Invitation struct {
	ID        string
	OrgID     string
	Email     string
	Role      string
	TokenHash string
	InvitedBy string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// IsExpired reports whether the invitation can no longer be redeemed.
func (i *Invitation) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
