package models

import "time"

// ShareLink is a capability granting access to exactly one vault item,
// independent of any session. The ID doubles as the bearer secret, so
// it must be unguessable.
type ShareLink struct {
	ID             string
	ItemID         string
	OrgID          string
	CreatedBy      string
	RecipientEmail string
	// PasswordHash is empty for open links. New links store
	// "salt:hash" (both base64); hashes without the delimiter are
	// legacy unsalted SHA-256 hex and remain verifiable.
	PasswordHash string
	AllowCopy    bool
	MaxViews     int // 0 = unlimited
	ViewCount    int
	ExpiresAt    time.Time
	LastViewedAt *time.Time
	Revoked      bool
	CreatedAt    time.Time
}

// IsExpired reports whether the link's expiry has passed.
func (s *ShareLink) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// IsExhausted reports whether the view budget has been spent.
func (s *ShareLink) IsExhausted() bool {
	return s.MaxViews > 0 && s.ViewCount >= s.MaxViews
}

// RemainingViews returns views left, or -1 for unlimited links.
func (s *ShareLink) RemainingViews() int {
	if s.MaxViews == 0 {
		return -1
	}
	if n := s.MaxViews - s.ViewCount; n > 0 {
		return n
	}
	return 0
}
