// Package vault is the CRUD service for client-encrypted items. The
// server stores and returns ciphertext; it never holds a key.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/passkeep/passkeep/internal/audit"
	"github.com/passkeep/passkeep/internal/storage"
	"github.com/passkeep/passkeep/pkg/models"
)

// ErrEmptyCiphertext rejects items with no payload.
var ErrEmptyCiphertext = errors.New("ciphertext is required")

// Service manages vault items for an organization.
type Service struct {
	store   storage.Store
	auditor audit.Recorder
	now     func() time.Time
}

// New creates a vault Service.
func New(store storage.Store, auditor audit.Recorder) *Service {
	return &Service{store: store, auditor: auditor, now: time.Now}
}

// CreateParams are the caller-supplied fields for a new item.
type CreateParams struct {
	Name       string
	Type       string
	Folder     string
	Ciphertext string
}

// Create persists a new item owned by orgID.
func (s *Service) Create(ctx context.Context, orgID, userID string, p CreateParams) (*models.VaultItem, error) {
	if p.Ciphertext == "" {
		return nil, ErrEmptyCiphertext
	}
	if p.Type == "" {
		p.Type = models.ItemTypeLogin
	}
	item := &models.VaultItem{
		ID:         uuid.NewString(),
		OrgID:      orgID,
		CreatedBy:  userID,
		Name:       p.Name,
		Type:       p.Type,
		Folder:     p.Folder,
		Ciphertext: p.Ciphertext,
		CreatedAt:  s.now().UTC(),
		UpdatedAt:  s.now().UTC(),
	}
	if err := s.store.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}
	s.auditor.Record(ctx, audit.Event{
		Action: models.ActionItemCreate, OrgID: orgID, UserID: userID, TargetID: item.ID,
	})
	return item, nil
}

// Get returns an item if it belongs to orgID and is not deleted.
func (s *Service) Get(ctx context.Context, orgID, itemID string) (*models.VaultItem, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	// Cross-org probes look identical to missing items.
	if item.OrgID != orgID || item.IsDeleted() {
		return nil, storage.ErrNotFound
	}
	return item, nil
}

// List returns all live items in the organization.
func (s *Service) List(ctx context.Context, orgID string) ([]*models.VaultItem, error) {
	return s.store.ListItems(ctx, orgID)
}

// Update overwrites the mutable fields of an existing item.
func (s *Service) Update(ctx context.Context, orgID, userID, itemID string, p CreateParams) (*models.VaultItem, error) {
	item, err := s.Get(ctx, orgID, itemID)
	if err != nil {
		return nil, err
	}
	if p.Ciphertext == "" {
		return nil, ErrEmptyCiphertext
	}
	item.Name = p.Name
	if p.Type != "" {
		item.Type = p.Type
	}
	item.Folder = p.Folder
	item.Ciphertext = p.Ciphertext
	item.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("updating item: %w", err)
	}
	s.auditor.Record(ctx, audit.Event{
		Action: models.ActionItemUpdate, OrgID: orgID, UserID: userID, TargetID: item.ID,
	})
	return item, nil
}

// Delete soft-deletes an item.
func (s *Service) Delete(ctx context.Context, orgID, userID, itemID string) error {
	if _, err := s.Get(ctx, orgID, itemID); err != nil {
		return err
	}
	if err := s.store.SoftDeleteItem(ctx, itemID, s.now().UTC()); err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	s.auditor.Record(ctx, audit.Event{
		Action: models.ActionItemDelete, OrgID: orgID, UserID: userID, TargetID: itemID,
	})
	return nil
}
