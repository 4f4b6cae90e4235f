package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/passkeep/passkeep/internal/audit"
	"github.com/passkeep/passkeep/internal/crypto"
	"github.com/passkeep/passkeep/internal/policy"
	"github.com/passkeep/passkeep/internal/storage"
	"github.com/passkeep/passkeep/pkg/models"
)

const inviteLifetime = 7 * 24 * time.Hour

// OrgGetHandler handles GET /v1/org
func (s *Server) OrgGetHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	org, err := s.store.GetOrganization(r.Context(), sess.OrgID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	members, err := s.store.ListMembers(r.Context(), sess.OrgID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(members))
	for _, m := range members {
		out = append(out, map[string]any{"user_id": m.UserID, "role": m.Role, "joined_at": m.JoinedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         org.ID,
		"name":       org.Name,
		"settings":   org.Settings,
		"created_at": org.CreatedAt,
		"members":    out,
	})
}

// OrgSettingsHandler handles PUT /v1/org/settings. Admin only. Setting
// changes affect future decisions; existing tokens keep the idle
// policy they were issued with until re-login.
func (s *Server) OrgSettingsHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	if err := policy.Require(sess.Role, policy.CanAdminister); err != nil {
		writeServiceError(w, r, err)
		return
	}

	var settings models.OrgSettings
	if err := decodeJSON(r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}
	if settings.EmergencyMinWaitHours < 0 || settings.ShareMaxExpiryHours < 0 || settings.SessionIdleTimeoutMinutes < 0 {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "settings must be non-negative")
		return
	}

	if err := s.store.UpdateOrganizationSettings(r.Context(), sess.OrgID, settings); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

// OrgDeleteHandler handles DELETE /v1/org. Owner only. The cascade is
// atomic: either every org-scoped row goes or none do.
func (s *Server) OrgDeleteHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	if err := policy.Require(sess.Role, policy.CanManageOrg); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.DeleteOrganization(r.Context(), sess.OrgID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.auditor.Record(r.Context(), audit.Event{
		Action: models.ActionOrgDelete, OrgID: sess.OrgID, UserID: sess.UserID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// AuditLogHandler handles GET /v1/org/audit. Admin only.
func (s *Server) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	if err := policy.Require(sess.Role, policy.CanAdminister); err != nil {
		writeServiceError(w, r, err)
		return
	}

	filter := storage.AuditFilter{OrgID: sess.OrgID, Action: r.URL.Query().Get("action")}
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "since must be RFC3339")
			return
		}
		filter.Since = &t
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		filter.Limit, _ = strconv.Atoi(raw)
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		filter.Offset, _ = strconv.Atoi(raw)
	}

	events, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		out = append(out, map[string]any{
			"id":         ev.ID,
			"action":     ev.Action,
			"user_id":    ev.UserID,
			"target_id":  ev.TargetID,
			"client_ip":  ev.ClientIP,
			"metadata":   ev.Metadata,
			"created_at": ev.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// InviteCreateHandler handles POST /v1/org/invites. Admin only. The
// plaintext token appears exactly once, in this response.
func (s *Server) InviteCreateHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	if err := policy.Require(sess.Role, policy.CanAdminister); err != nil {
		writeServiceError(w, r, err)
		return
	}

	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "email is required")
		return
	}
	if req.Role == "" {
		req.Role = models.RoleMember
	}
	if req.Role != models.RoleMember && req.Role != models.RoleAdmin {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "role must be member or admin")
		return
	}

	plaintext, err := crypto.RandomToken(32)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	now := time.Now().UTC()
	inv := &models.Invitation{
		ID:        uuid.NewString(),
		OrgID:     sess.OrgID,
		Email:     req.Email,
		Role:      req.Role,
		TokenHash: crypto.HashToken(plaintext),
		InvitedBy: sess.UserID,
		CreatedAt: now,
		ExpiresAt: now.Add(inviteLifetime),
	}
	if err := s.store.CreateInvitation(r.Context(), inv); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.auditor.Record(r.Context(), audit.Event{
		Action: models.ActionInviteCreate, OrgID: sess.OrgID, UserID: sess.UserID, TargetID: inv.ID,
		Metadata: map[string]any{"email": req.Email, "role": req.Role},
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         inv.ID,
		"email":      inv.Email,
		"role":       inv.Role,
		"token":      plaintext,
		"expires_at": inv.ExpiresAt,
	})
}

// InviteListHandler handles GET /v1/org/invites. Admin only.
func (s *Server) InviteListHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	if err := policy.Require(sess.Role, policy.CanAdminister); err != nil {
		writeServiceError(w, r, err)
		return
	}
	invites, err := s.store.ListInvitations(r.Context(), sess.OrgID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(invites))
	for _, inv := range invites {
		out = append(out, map[string]any{
			"id":         inv.ID,
			"email":      inv.Email,
			"role":       inv.Role,
			"invited_by": inv.InvitedBy,
			"created_at": inv.CreatedAt,
			"expires_at": inv.ExpiresAt,
			"used_at":    inv.UsedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"invites": out})
}

// InviteAcceptHandler handles POST /v1/invites/accept. The caller must
// be logged in as the invited address; redeeming adds a membership in
// the inviting organization.
func (s *Server) InviteAcceptHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())

	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "token is required")
		return
	}

	inv, err := s.store.GetInvitationByTokenHash(r.Context(), crypto.HashToken(req.Token))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	now := time.Now().UTC()
	if inv.UsedAt != nil || inv.IsExpired(now) || inv.Email != strings.ToLower(sess.Email) {
		// One answer for every dead end; tokens are not probeable.
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
		return
	}

	member := &models.Member{OrgID: inv.OrgID, UserID: sess.UserID, Role: inv.Role, JoinedAt: now}
	if err := s.store.AddMember(r.Context(), member); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.MarkInvitationUsed(r.Context(), inv.ID, now); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.auditor.Record(r.Context(), audit.Event{
		Action: models.ActionInviteAccept, OrgID: inv.OrgID, UserID: sess.UserID, TargetID: inv.ID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"org_id": inv.OrgID, "role": inv.Role})
}
