// Package share implements single-secret share links: expiring,
// optionally password-gated, view-limited capabilities that grant
// access independently of any session token.
package share

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/passkeep/passkeep/internal/audit"
	"github.com/passkeep/passkeep/internal/crypto"
	"github.com/passkeep/passkeep/internal/storage"
	"github.com/passkeep/passkeep/pkg/models"
)

// Terminal conditions are independent and reported distinctly so the
// recipient sees an accurate message.
var (
	ErrRevoked          = errors.New("this share link has been revoked")
	ErrExpired          = errors.New("this share link has expired")
	ErrExhausted        = errors.New("this share link has reached its view limit")
	ErrPasswordRequired = errors.New("this share link requires a password")
	ErrInvalidPassword  = errors.New("incorrect password")
	ErrExpiryTooLong    = errors.New("expiry exceeds the organization maximum")
)

// Service issues and resolves share links.
type Service struct {
	store   storage.Store
	auditor audit.Recorder
	now     func() time.Time
}

// New creates a share Service.
func New(store storage.Store, auditor audit.Recorder) *Service {
	return &Service{store: store, auditor: auditor, now: time.Now}
}

// WithClock overrides the service clock; tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateParams are the caller-supplied fields for a new link.
type CreateParams struct {
	ItemID         string
	ExpiresInHours int // 0 = organization maximum
	MaxViews       int // 0 = unlimited
	Password       string
	AllowCopy      bool
	RecipientEmail string
}

// Create issues a capability for one vault item. The link ID doubles
// as the bearer secret, so it is a ULID over crypto/rand entropy.
func (s *Service) Create(ctx context.Context, org *models.Organization, creatorID string, p CreateParams) (*models.ShareLink, error) {
	item, err := s.store.GetItem(ctx, p.ItemID)
	if err != nil {
		return nil, err
	}
	if item.OrgID != org.ID || item.IsDeleted() {
		return nil, storage.ErrNotFound
	}

	maxExpiry := org.Settings.ShareMaxExpiryHours
	hours := p.ExpiresInHours
	if hours == 0 {
		hours = maxExpiry
	}
	if hours < 0 || (maxExpiry > 0 && hours > maxExpiry) {
		return nil, ErrExpiryTooLong
	}
	if p.MaxViews < 0 {
		return nil, errors.New("max views cannot be negative")
	}

	passwordHash := ""
	if p.Password != "" {
		// Always the salted format; the legacy unsalted path is
		// verification-only.
		passwordHash, err = crypto.HashPassword(p.Password)
		if err != nil {
			return nil, fmt.Errorf("hashing link password: %w", err)
		}
	}

	now := s.now().UTC()
	link := &models.ShareLink{
		ID:             ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		ItemID:         item.ID,
		OrgID:          org.ID,
		CreatedBy:      creatorID,
		RecipientEmail: strings.ToLower(strings.TrimSpace(p.RecipientEmail)),
		PasswordHash:   passwordHash,
		AllowCopy:      p.AllowCopy,
		MaxViews:       p.MaxViews,
		ExpiresAt:      now.Add(time.Duration(hours) * time.Hour),
		CreatedAt:      now,
	}
	if err := s.store.CreateShareLink(ctx, link); err != nil {
		return nil, fmt.Errorf("creating share link: %w", err)
	}
	s.auditor.Record(ctx, audit.Event{
		Action: models.ActionShareCreate, OrgID: org.ID, UserID: creatorID, TargetID: link.ID,
		Metadata: map[string]any{"item_id": item.ID, "max_views": p.MaxViews, "expires_at": link.ExpiresAt},
	})
	return link, nil
}

// PublicInfo is the non-sensitive metadata a recipient may see before
// authenticating against the link. Validity flags are surfaced instead
// of hard errors so the caller can render an informative page.
type PublicInfo struct {
	RequiresPassword bool
	AllowCopy        bool
	ExpiresAt        time.Time
	// RemainingViews is -1 for unlimited links.
	RemainingViews int
	Revoked        bool
	Expired        bool
	Exhausted      bool
}

// ResolvePublicInfo returns link metadata without consuming a view.
// Only a missing link is an error.
func (s *Service) ResolvePublicInfo(ctx context.Context, linkID string) (*PublicInfo, error) {
	link, err := s.store.GetShareLink(ctx, linkID)
	if err != nil {
		return nil, err
	}
	return &PublicInfo{
		RequiresPassword: link.PasswordHash != "",
		AllowCopy:        link.AllowCopy,
		ExpiresAt:        link.ExpiresAt,
		RemainingViews:   link.RemainingViews(),
		Revoked:          link.Revoked,
		Expired:          link.IsExpired(s.now().UTC()),
		Exhausted:        link.IsExhausted(),
	}, nil
}

// AccessResult carries the shared item's ciphertext and the link
// metadata back to the recipient for client-side decryption.
type AccessResult struct {
	Link *models.ShareLink
	Item *models.VaultItem
}

// Access consumes one view of the link. Password outcomes are client
// errors distinct from not-found, so probing cannot distinguish a
// wrong password from a password-gated link's existence going dark.
// The validity check and the view increment are not atomic: concurrent
// accesses at the final permitted view can slightly exceed MaxViews.
func (s *Service) Access(ctx context.Context, linkID, password, clientIP string) (*AccessResult, error) {
	link, err := s.store.GetShareLink(ctx, linkID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	switch {
	case link.Revoked:
		return nil, ErrRevoked
	case link.IsExpired(now):
		return nil, ErrExpired
	case link.IsExhausted():
		return nil, ErrExhausted
	}
	if link.PasswordHash != "" {
		if password == "" {
			return nil, ErrPasswordRequired
		}
		if !crypto.VerifyPassword(password, link.PasswordHash) {
			return nil, ErrInvalidPassword
		}
	}

	item, err := s.store.GetItem(ctx, link.ItemID)
	if err != nil {
		return nil, err
	}
	// A deleted item is gone on every read path, links included.
	if item.IsDeleted() {
		return nil, storage.ErrNotFound
	}
	if err := s.store.IncrementShareViews(ctx, linkID, now); err != nil {
		return nil, fmt.Errorf("recording view: %w", err)
	}
	link.ViewCount++
	link.LastViewedAt = &now

	// Anonymous event: share access happens outside any session.
	s.auditor.Record(ctx, audit.Event{
		Action: models.ActionShareAccess, OrgID: link.OrgID, TargetID: link.ID, ClientIP: clientIP,
		Metadata: map[string]any{"item_id": item.ID, "view_count": link.ViewCount},
	})
	return &AccessResult{Link: link, Item: item}, nil
}

// Get loads a link scoped to an organization, for management calls.
func (s *Service) Get(ctx context.Context, orgID, linkID string) (*models.ShareLink, error) {
	link, err := s.store.GetShareLink(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if link.OrgID != orgID {
		return nil, storage.ErrNotFound
	}
	return link, nil
}

// List returns all links issued by an organization.
func (s *Service) List(ctx context.Context, orgID string) ([]*models.ShareLink, error) {
	return s.store.ListShareLinks(ctx, orgID)
}

// Revoke permanently disables a link.
func (s *Service) Revoke(ctx context.Context, link *models.ShareLink, actorID string) error {
	if err := s.store.RevokeShareLink(ctx, link.ID); err != nil {
		return fmt.Errorf("revoking share link: %w", err)
	}
	s.auditor.Record(ctx, audit.Event{
		Action: models.ActionShareRevoke, OrgID: link.OrgID, UserID: actorID, TargetID: link.ID,
	})
	return nil
}
