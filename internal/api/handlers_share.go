package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/passkeep/passkeep/internal/policy"
	"github.com/passkeep/passkeep/internal/share"
	"github.com/passkeep/passkeep/pkg/models"
)

func linkJSON(link *models.ShareLink) map[string]any {
	return map[string]any{
		"id":              link.ID,
		"item_id":         link.ItemID,
		"created_by":      link.CreatedBy,
		"recipient_email": link.RecipientEmail,
		"has_password":    link.PasswordHash != "",
		"allow_copy":      link.AllowCopy,
		"max_views":       link.MaxViews,
		"view_count":      link.ViewCount,
		"expires_at":      link.ExpiresAt,
		"last_viewed_at":  link.LastViewedAt,
		"revoked":         link.Revoked,
		"created_at":      link.CreatedAt,
	}
}

// ShareCreateHandler handles POST /v1/shares
func (s *Server) ShareCreateHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	if err := policy.Require(sess.Role, policy.CanWriteItems); err != nil {
		writeServiceError(w, r, err)
		return
	}

	var req struct {
		ItemID         string `json:"item_id"`
		ExpiresInHours int    `json:"expires_in_hours"`
		MaxViews       int    `json:"max_views"`
		Password       string `json:"password"`
		AllowCopy      bool   `json:"allow_copy"`
		RecipientEmail string `json:"recipient_email"`
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
	link, err := s.shares.Create(r.Context(), org, sess.UserID, share.CreateParams{
		ItemID:         req.ItemID,
		ExpiresInHours: req.ExpiresInHours,
		MaxViews:       req.MaxViews,
		Password:       req.Password,
		AllowCopy:      req.AllowCopy,
		RecipientEmail: req.RecipientEmail,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, linkJSON(link))
}

// ShareListHandler handles GET /v1/shares
func (s *Server) ShareListHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	links, err := s.shares.List(r.Context(), sess.OrgID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(links))
	for _, link := range links {
		out = append(out, linkJSON(link))
	}
	writeJSON(w, http.StatusOK, map[string]any{"shares": out})
}

// ShareRevokeHandler handles POST /v1/shares/{linkID}/revoke. Members
// may revoke their own links; admins may revoke anyone's.
func (s *Server) ShareRevokeHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	link, err := s.shares.Get(r.Context(), sess.OrgID, chi.URLParam(r, "linkID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if link.CreatedBy != sess.UserID {
		if err := policy.Require(sess.Role, policy.CanAdminister); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	if err := s.shares.Revoke(r.Context(), link, sess.UserID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ShareInfoHandler handles GET /v1/share/{linkID}. Public: returns
// link metadata without consuming a view.
func (s *Server) ShareInfoHandler(w http.ResponseWriter, r *http.Request) {
	info, err := s.shares.ResolvePublicInfo(r.Context(), chi.URLParam(r, "linkID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requires_password": info.RequiresPassword,
		"allow_copy":        info.AllowCopy,
		"expires_at":        info.ExpiresAt,
		"remaining_views":   info.RemainingViews,
		"revoked":           info.Revoked,
		"expired":           info.Expired,
		"exhausted":         info.Exhausted,
	})
}

// ShareAccessHandler handles POST /v1/share/{linkID}/access. Public:
// consumes one view and returns the item ciphertext.
func (s *Server) ShareAccessHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	decodeJSON(r, &req) //nolint:errcheck

	res, err := s.shares.Access(r.Context(), chi.URLParam(r, "linkID"), req.Password, clientIP(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item": map[string]any{
			"name":       res.Item.Name,
			"type":       res.Item.Type,
			"ciphertext": res.Item.Ciphertext,
		},
		"allow_copy":      res.Link.AllowCopy,
		"remaining_views": res.Link.RemainingViews(),
	})
}
