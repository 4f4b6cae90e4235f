package storage

import (
	"context"
	"errors"
	"time"

	"github.com/passkeep/passkeep/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a uniqueness or one-in-flight invariant
// would be violated.
var ErrConflict = errors.New("already exists")

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	OrgID  string
	Action string
	Since  *time.Time
	Limit  int
	Offset int
}

// Store defines the relational persistence interface for Passkeep.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// Organizations and membership
	CreateOrganization(ctx context.Context, org *models.Organization, owner *models.Member) error
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
	UpdateOrganizationSettings(ctx context.Context, id string, settings models.OrgSettings) error
	// DeleteOrganization removes the organization and every org-scoped
	// row in a single atomic batch; partial cascades must be impossible.
	DeleteOrganization(ctx context.Context, id string) error
	GetMember(ctx context.Context, orgID, userID string) (*models.Member, error)
	AddMember(ctx context.Context, member *models.Member) error
	ListMembers(ctx context.Context, orgID string) ([]*models.Member, error)
	ListMembershipsForUser(ctx context.Context, userID string) ([]*models.Member, error)

	// Invitations
	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*models.Invitation, error)
	MarkInvitationUsed(ctx context.Context, id string, usedAt time.Time) error
	ListInvitations(ctx context.Context, orgID string) ([]*models.Invitation, error)

	// Vault items
	CreateItem(ctx context.Context, item *models.VaultItem) error
	GetItem(ctx context.Context, id string) (*models.VaultItem, error)
	ListItems(ctx context.Context, orgID string) ([]*models.VaultItem, error)
	UpdateItem(ctx context.Context, item *models.VaultItem) error
	SoftDeleteItem(ctx context.Context, id string, at time.Time) error

	// Emergency access
	CreateEmergencyContact(ctx context.Context, contact *models.EmergencyContact) error
	GetEmergencyContact(ctx context.Context, id string) (*models.EmergencyContact, error)
	GetActiveContactByEmail(ctx context.Context, orgID, userID, email string) (*models.EmergencyContact, error)
	ListEmergencyContacts(ctx context.Context, orgID string) ([]*models.EmergencyContact, error)
	RevokeEmergencyContact(ctx context.Context, id string, at time.Time) error
	CreateEmergencyRequest(ctx context.Context, req *models.EmergencyRequest) error
	GetEmergencyRequest(ctx context.Context, id string) (*models.EmergencyRequest, error)
	// LatestRequestByContact returns the most recent request for the
	// contact regardless of state; callers derive the effective state.
	LatestRequestByContact(ctx context.Context, contactID string) (*models.EmergencyRequest, error)
	ListEmergencyRequests(ctx context.Context, orgID string) ([]*models.EmergencyRequest, error)
	DenyEmergencyRequest(ctx context.Context, id, adminID string, at time.Time) error

	// Share links
	CreateShareLink(ctx context.Context, link *models.ShareLink) error
	GetShareLink(ctx context.Context, id string) (*models.ShareLink, error)
	ListShareLinks(ctx context.Context, orgID string) ([]*models.ShareLink, error)
	RevokeShareLink(ctx context.Context, id string) error
	IncrementShareViews(ctx context.Context, id string, at time.Time) error

	// Audit
	WriteAuditEvent(ctx context.Context, event *models.AuditEvent) error
	QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEvent, error)

	// Metrics helpers
	CountItems(ctx context.Context) (int64, error)
	CountActiveShareLinks(ctx context.Context) (int64, error)

	// Lifecycle
	Close()
}
