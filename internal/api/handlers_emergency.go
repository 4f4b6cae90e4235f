package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/passkeep/passkeep/internal/policy"
	"github.com/passkeep/passkeep/pkg/models"
)

func contactJSON(c *models.EmergencyContact) map[string]any {
	return map[string]any{
		"id":              c.ID,
		"user_id":         c.UserID,
		"email":           c.Email,
		"name":            c.Name,
		"wait_time_hours": c.WaitTimeHours,
		"status":          c.Status,
		"created_at":      c.CreatedAt,
		"revoked_at":      c.RevokedAt,
	}
}

// requestJSON renders a request with its state derived at response
// time, never a stored state column.
func (s *Server) requestJSON(req *models.EmergencyRequest) map[string]any {
	return map[string]any{
		"id":           req.ID,
		"contact_id":   req.ContactID,
		"reason":       req.Reason,
		"state":        s.emergency.State(req),
		"requested_at": req.RequestedAt,
		"grant_at":     req.GrantAt,
		"denied_at":    req.DeniedAt,
		"denied_by":    req.DeniedBy,
	}
}

// ContactAddHandler handles POST /v1/emergency/contacts
func (s *Server) ContactAddHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())

	var req struct {
		Email         string `json:"email"`
		Name          string `json:"name"`
		WaitTimeHours int    `json:"wait_time_hours"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}

	org, err := s.store.GetOrganization(r.Context(), sess.OrgID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	contact, err := s.emergency.AddContact(r.Context(), org, sess.UserID, req.Email, req.Name, req.WaitTimeHours)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, contactJSON(contact))
}

// ContactListHandler handles GET /v1/emergency/contacts
func (s *Server) ContactListHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	contacts, err := s.emergency.ListContacts(r.Context(), sess.OrgID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, contactJSON(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": out})
}

// ContactRevokeHandler handles POST /v1/emergency/contacts/{contactID}/revoke.
// The protected user revokes their own contacts; admins revoke anyone's.
func (s *Server) ContactRevokeHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	contact, err := s.emergency.GetContact(r.Context(), chi.URLParam(r, "contactID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if contact.OrgID != sess.OrgID {
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
		return
	}
	if contact.UserID != sess.UserID {
		if err := policy.Require(sess.Role, policy.CanAdminister); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	if err := s.emergency.RevokeContact(r.Context(), contact, sess.UserID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EmergencyRequestHandler handles POST /v1/emergency/request/{contactID}.
// Public: the contact identifier is the only credential.
func (s *Server) EmergencyRequestHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	decodeJSON(r, &req) //nolint:errcheck

	er, err := s.emergency.Request(r.Context(), chi.URLParam(r, "contactID"), req.Reason, clientIP(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.requestJSON(er))
}

// EmergencyListHandler handles GET /v1/emergency/requests. Admin only.
func (s *Server) EmergencyListHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	if err := policy.Require(sess.Role, policy.CanAdminister); err != nil {
		writeServiceError(w, r, err)
		return
	}
	reqs, err := s.emergency.ListRequests(r.Context(), sess.OrgID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(reqs))
	for _, er := range reqs {
		out = append(out, s.requestJSON(er))
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": out})
}

// EmergencyDenyHandler handles POST /v1/emergency/requests/{requestID}/deny.
// Admin only, and only while the request is still pending.
func (s *Server) EmergencyDenyHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	if err := policy.Require(sess.Role, policy.CanAdminister); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.emergency.Deny(r.Context(), sess.OrgID, chi.URLParam(r, "requestID"), sess.UserID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
