package models

import "time"

// Audit action tags emitted by the access-control core. Handlers may
// emit additional CRUD actions with the same shape.
const (
	ActionLogin            = "auth.login"
	ActionLoginFailed      = "auth.login_failed"
	ActionLogout           = "auth.logout"
	ActionItemCreate       = "item.create"
	ActionItemUpdate       = "item.update"
	ActionItemDelete       = "item.delete"
	ActionShareCreate      = "share.create"
	ActionShareAccess      = "share.access"
	ActionShareRevoke      = "share.revoke"
	ActionEmergencyRequest = "emergency.request"
	ActionEmergencyDeny    = "emergency.deny"
	ActionContactAdd       = "emergency.contact_add"
	ActionContactRevoke    = "emergency.contact_revoke"
	ActionOrgDelete        = "org.delete"
	ActionInviteCreate     = "org.invite"
	ActionInviteAccept     = "org.invite_accept"
)

// AuditEvent is one append-only record of a security-relevant action.
// OrgID/UserID/TargetID are optional; anonymous events (public share
// access, emergency requests) carry no UserID.
type AuditEvent struct {
	ID        int64
	Action    string
	OrgID     string
	UserID    string
	TargetID  string
	ClientIP  string
	Metadata  map[string]any
	CreatedAt time.Time
}
