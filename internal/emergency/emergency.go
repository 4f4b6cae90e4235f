// Package emergency implements delayed-grant emergency access: a
// trusted contact requests access, and the grant happens implicitly
// when the wait time elapses without an admin denial. Granted is never
// stored; StateAt derives it from timestamps so every reader agrees.
package emergency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/passkeep/passkeep/internal/audit"
	"github.com/passkeep/passkeep/internal/storage"
	"github.com/passkeep/passkeep/pkg/models"
)

var (
	// ErrWaitTooShort rejects contacts below the organization minimum.
	ErrWaitTooShort = errors.New("wait time is below the organization minimum")
	// ErrDuplicateContact rejects a second active contact with the same email.
	ErrDuplicateContact = errors.New("an active contact with this email already exists")
	// ErrContactInactive rejects requests through revoked contacts.
	ErrContactInactive = errors.New("contact is not active")
	// ErrRequestPending enforces the one-in-flight invariant.
	ErrRequestPending = errors.New("a pending request already exists for this contact")
	// ErrTooLate rejects denials after the grant time has passed.
	ErrTooLate = errors.New("grant time has passed; the request is already granted")
)

// StateAt derives the effective state of a request at the given time.
// This is the single source of truth for the pending/granted boundary;
// no other code may compare GrantAt against a clock.
func StateAt(req *models.EmergencyRequest, now time.Time) string {
	if req.DeniedAt != nil {
		return models.RequestDenied
	}
	if !now.Before(req.GrantAt) {
		return models.RequestGranted
	}
	return models.RequestPending
}

// Service runs the emergency access workflow.
type Service struct {
	store   storage.Store
	auditor audit.Recorder
	now     func() time.Time
}

// New creates an emergency Service.
func New(store storage.Store, auditor audit.Recorder) *Service {
	return &Service{store: store, auditor: auditor, now: time.Now}
}

// WithClock overrides the service clock; tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// State derives the effective state of req at the current time.
func (s *Service) State(req *models.EmergencyRequest) string {
	return StateAt(req, s.now().UTC())
}

// AddContact registers a trusted delegate for (org, userID). The wait
// time must meet the organization minimum, and at most one active
// contact may exist per email.
func (s *Service) AddContact(ctx context.Context, org *models.Organization, userID, email, name string, waitHours int) (*models.EmergencyContact, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("contact email is required")
	}
	if waitHours < org.Settings.EmergencyMinWaitHours {
		return nil, ErrWaitTooShort
	}
	if _, err := s.store.GetActiveContactByEmail(ctx, org.ID, userID, email); err == nil {
		return nil, ErrDuplicateContact
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("checking existing contact: %w", err)
	}

	contact := &models.EmergencyContact{
		ID:            uuid.NewString(),
		OrgID:         org.ID,
		UserID:        userID,
		Email:         email,
		Name:          name,
		WaitTimeHours: waitHours,
		Status:        models.ContactActive,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.CreateEmergencyContact(ctx, contact); err != nil {
		return nil, fmt.Errorf("creating contact: %w", err)
	}
	s.auditor.Record(ctx, audit.Event{
		Action: models.ActionContactAdd, OrgID: org.ID, UserID: userID, TargetID: contact.ID,
		Metadata: map[string]any{"wait_time_hours": waitHours},
	})
	return contact, nil
}

// GetContact loads a contact by ID.
func (s *Service) GetContact(ctx context.Context, contactID string) (*models.EmergencyContact, error) {
	return s.store.GetEmergencyContact(ctx, contactID)
}

// ListContacts returns all contacts for an organization, revoked included.
func (s *Service) ListContacts(ctx context.Context, orgID string) ([]*models.EmergencyContact, error) {
	return s.store.ListEmergencyContacts(ctx, orgID)
}

// RevokeContact soft-deletes a contact. Contacts are never hard-deleted.
func (s *Service) RevokeContact(ctx context.Context, contact *models.EmergencyContact, actorID string) error {
	if !contact.IsActive() {
		return storage.ErrNotFound
	}
	if err := s.store.RevokeEmergencyContact(ctx, contact.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("revoking contact: %w", err)
	}
	s.auditor.Record(ctx, audit.Event{
		Action: models.ActionContactRevoke, OrgID: contact.OrgID, UserID: actorID, TargetID: contact.ID,
	})
	return nil
}

// Request opens an access request through a contact. Public: the
// caller presents only the contact identifier. The grant is scheduled,
// never executed; it becomes effective when GrantAt passes undenied.
func (s *Service) Request(ctx context.Context, contactID, reason, clientIP string) (*models.EmergencyRequest, error) {
	contact, err := s.store.GetEmergencyContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if !contact.IsActive() {
		return nil, ErrContactInactive
	}

	latest, err := s.store.LatestRequestByContact(ctx, contactID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("checking open request: %w", err)
	}
	if latest != nil && s.State(latest) == models.RequestPending {
		return nil, ErrRequestPending
	}

	now := s.now().UTC()
	req := &models.EmergencyRequest{
		ID:          uuid.NewString(),
		ContactID:   contactID,
		Reason:      reason,
		RequestedAt: now,
		GrantAt:     now.Add(time.Duration(contact.WaitTimeHours) * time.Hour),
	}
	if err := s.store.CreateEmergencyRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	// Logged at request time: the grant itself is implicit and will
	// never produce another event.
	s.auditor.Record(ctx, audit.Event{
		Action: models.ActionEmergencyRequest, OrgID: contact.OrgID, TargetID: req.ID, ClientIP: clientIP,
		Metadata: map[string]any{"contact_id": contactID, "grant_at": req.GrantAt},
	})
	return req, nil
}

// Deny rejects a request on behalf of an admin of orgID. Requests that
// belong to another organization look absent. Denial is permitted only
// while the request is still pending; once GrantAt has passed the
// request counts as granted even though no row says so, and denial
// fails with ErrTooLate.
func (s *Service) Deny(ctx context.Context, orgID, requestID, adminID string) error {
	req, err := s.store.GetEmergencyRequest(ctx, requestID)
	if err != nil {
		return err
	}
	contact, err := s.store.GetEmergencyContact(ctx, req.ContactID)
	if err != nil {
		return fmt.Errorf("loading request contact: %w", err)
	}
	if contact.OrgID != orgID {
		return storage.ErrNotFound
	}
	switch s.State(req) {
	case models.RequestDenied:
		return storage.ErrConflict
	case models.RequestGranted:
		return ErrTooLate
	}
	if err := s.store.DenyEmergencyRequest(ctx, requestID, adminID, s.now().UTC()); err != nil {
		return fmt.Errorf("denying request: %w", err)
	}
	s.auditor.Record(ctx, audit.Event{
		Action: models.ActionEmergencyDeny, OrgID: contact.OrgID, UserID: adminID, TargetID: requestID,
	})
	return nil
}

// GetRequest loads a request by ID.
func (s *Service) GetRequest(ctx context.Context, id string) (*models.EmergencyRequest, error) {
	return s.store.GetEmergencyRequest(ctx, id)
}

// ListRequests returns all requests in the organization, newest first.
func (s *Service) ListRequests(ctx context.Context, orgID string) ([]*models.EmergencyRequest, error) {
	return s.store.ListEmergencyRequests(ctx, orgID)
}
