package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/passkeep/passkeep/internal/audit"
	"github.com/passkeep/passkeep/internal/crypto"
	"github.com/passkeep/passkeep/internal/storage"
	"github.com/passkeep/passkeep/internal/token"
	"github.com/passkeep/passkeep/pkg/models"
)

// RegisterHandler handles POST /v1/auth/register. Every new account
// gets a personal organization with default settings.
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
		OrgName  string `json:"org_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "email and password are required")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: hash,
		CreatedAt:    now,
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		writeServiceError(w, r, err)
		return
	}

	orgName := req.OrgName
	if orgName == "" {
		orgName = req.Email
	}
	org := &models.Organization{
		ID:        uuid.NewString(),
		Name:      orgName,
		Settings:  models.DefaultOrgSettings(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	owner := &models.Member{OrgID: org.ID, UserID: user.ID, Role: models.RoleOwner, JoinedAt: now}
	if err := s.store.CreateOrganization(r.Context(), org, owner); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"user": map[string]any{"id": user.ID, "email": user.Email, "name": user.Name},
		"org":  map[string]any{"id": org.ID, "name": org.Name},
	})
}

// LoginHandler handles POST /v1/auth/login. The issued token caches
// the organization's idle-timeout policy at login time.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		OrgID    string `json:"org_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	fail := func() {
		s.auditor.Record(r.Context(), audit.Event{
			Action: models.ActionLoginFailed, ClientIP: clientIP(r),
			Metadata: map[string]any{"email": req.Email},
		})
		// One message for every failure mode; no account probing.
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid credentials")
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fail()
			return
		}
		writeServiceError(w, r, err)
		return
	}
	if !crypto.VerifyPassword(req.Password, user.PasswordHash) {
		fail()
		return
	}

	memberships, err := s.store.ListMembershipsForUser(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var member *models.Member
	for _, m := range memberships {
		if req.OrgID == "" || m.OrgID == req.OrgID {
			member = m
			break
		}
	}
	if member == nil {
		fail()
		return
	}

	org, err := s.store.GetOrganization(r.Context(), member.OrgID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	signed, err := s.tokens.Issue(token.Subject{
		UserID: user.ID,
		Email:  user.Email,
		OrgID:  org.ID,
		Role:   member.Role,
	}, org.Settings.SessionIdleTimeoutMinutes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	s.auditor.Record(r.Context(), audit.Event{
		Action: models.ActionLogin, OrgID: org.ID, UserID: user.ID, ClientIP: clientIP(r),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"token":  signed,
		"org_id": org.ID,
		"role":   member.Role,
		"user":   map[string]any{"id": user.ID, "email": user.Email, "name": user.Name},
	})
}

// LogoutHandler handles POST /v1/auth/logout. The presented token is
// revoked for the remainder of its absolute lifetime.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	if err := s.tokens.Revoke(r.Context(), bearerToken(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.auditor.Record(r.Context(), audit.Event{
		Action: models.ActionLogout, OrgID: sess.OrgID, UserID: sess.UserID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// MeHandler handles GET /v1/auth/me.
func (s *Server) MeHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":              sess.UserID,
		"email":                sess.Email,
		"org_id":               sess.OrgID,
		"role":                 sess.Role,
		"token_expires_at":     sess.ExpiresAt,
		"idle_timeout_minutes": sess.IdleTimeoutMinutes,
	})
}
