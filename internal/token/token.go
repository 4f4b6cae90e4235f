// Package token implements bearer session tokens: issuance, stateless
// verification plus revocation and idle-timeout checks against the
// capability store.
package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/passkeep/passkeep/internal/capstore"
)

const (
	issuer = "passkeep"

	// Absolute token lifetime. The idle-timeout policy is embedded in
	// the token so verification needs no database lookup; a policy
	// change therefore takes effect only on re-issue.
	tokenLifetime = 7 * 24 * time.Hour

	// Activity markers bound idle-timeout computation; absence means
	// "no timeout yet", so 24h is enough for any sane policy.
	activityTTL = 24 * time.Hour

	// Revocation entries outlive the token slightly to absorb clock
	// skew between nodes.
	revocationSkew = time.Minute

	revokedKeyPrefix  = "revoked:"
	lastSeenKeyPrefix = "lastseen:"
)

// Verification failure modes. The API layer maps each to a distinct
// machine-readable code.
var (
	ErrMalformed   = errors.New("token is malformed")
	ErrExpired     = errors.New("token has expired")
	ErrRevoked     = errors.New("token has been revoked")
	ErrIdleTimeout = errors.New("session timed out due to inactivity")
)

// Subject identifies the authenticated principal carried by a token.
type Subject struct {
	UserID string
	Email  string
	OrgID  string
	Role   string
}

// Session is the result of a successful verification.
type Session struct {
	Subject
	TokenID            string
	IssuedAt           time.Time
	ExpiresAt          time.Time
	IdleTimeoutMinutes int
}

type claims struct {
	Email       string `json:"email"`
	OrgID       string `json:"org"`
	Role        string `json:"role"`
	IdleMinutes int    `json:"idle"`
	jwt.RegisteredClaims
}

// Service issues, verifies, and revokes session tokens.
type Service struct {
	secret []byte
	caps   capstore.Store
	now    func() time.Time
}

// New creates a token Service signing with secret and tracking
// revocations and activity in caps.
func New(secret []byte, caps capstore.Store) *Service {
	return &Service{secret: secret, caps: caps, now: time.Now}
}

// WithClock overrides the service clock; tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Issue signs a fresh token for sub. idleTimeoutMinutes is the
// organization's policy at issue time (0 = never); it is cached in the
// token. Issue has no side effects beyond creating the token.
func (s *Service) Issue(sub Subject, idleTimeoutMinutes int) (string, error) {
	now := s.now().UTC()
	c := claims{
		Email:       sub.Email,
		OrgID:       sub.OrgID,
		Role:        sub.Role,
		IdleMinutes: idleTimeoutMinutes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   sub.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks structure, signature, absolute expiry, revocation, and
// idle timeout. On success it unconditionally refreshes the subject's
// activity marker: every validated request extends the session.
func (s *Service) Verify(ctx context.Context, raw string) (*Session, error) {
	c, err := s.parse(raw)
	if err != nil {
		return nil, err
	}

	_, revoked, err := s.caps.Get(ctx, revokedKeyPrefix+c.ID)
	if err != nil {
		return nil, fmt.Errorf("checking revocation: %w", err)
	}
	if revoked {
		return nil, ErrRevoked
	}

	now := s.now().UTC()
	if c.IdleMinutes > 0 {
		lastSeen, ok, err := s.caps.Get(ctx, lastSeenKeyPrefix+c.Subject)
		if err != nil {
			return nil, fmt.Errorf("checking activity: %w", err)
		}
		// A missing marker means the session is fresh, not stale.
		if ok {
			seen, perr := strconv.ParseInt(string(lastSeen), 10, 64)
			if perr == nil && now.Sub(time.Unix(seen, 0)) > time.Duration(c.IdleMinutes)*time.Minute {
				return nil, ErrIdleTimeout
			}
		}
	}

	marker := []byte(strconv.FormatInt(now.Unix(), 10))
	if err := s.caps.Put(ctx, lastSeenKeyPrefix+c.Subject, marker, activityTTL); err != nil {
		return nil, fmt.Errorf("recording activity: %w", err)
	}

	return &Session{
		Subject: Subject{
			UserID: c.Subject,
			Email:  c.Email,
			OrgID:  c.OrgID,
			Role:   c.Role,
		},
		TokenID:            c.ID,
		IssuedAt:           c.IssuedAt.Time,
		ExpiresAt:          c.ExpiresAt.Time,
		IdleTimeoutMinutes: c.IdleMinutes,
	}, nil
}

// Revoke writes a revocation entry with TTL equal to the token's
// remaining absolute lifetime. Revoking an already-expired token is a
// no-op.
func (s *Service) Revoke(ctx context.Context, raw string) error {
	c, err := s.parse(raw)
	if err != nil {
		if errors.Is(err, ErrExpired) {
			return nil
		}
		return err
	}
	remaining := c.ExpiresAt.Sub(s.now().UTC())
	if remaining <= 0 {
		return nil
	}
	if err := s.caps.Put(ctx, revokedKeyPrefix+c.ID, []byte("1"), remaining+revocationSkew); err != nil {
		return fmt.Errorf("writing revocation: %w", err)
	}
	return nil
}

func (s *Service) parse(raw string) (*claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrMalformed
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }), jwt.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrMalformed
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.Subject == "" || c.ID == "" {
		return nil, ErrMalformed
	}
	return c, nil
}
