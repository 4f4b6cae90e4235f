package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/passkeep/passkeep/internal/policy"
	"github.com/passkeep/passkeep/internal/vault"
	"github.com/passkeep/passkeep/pkg/models"
)

func itemJSON(item *models.VaultItem) map[string]any {
	return map[string]any{
		"id":         item.ID,
		"name":       item.Name,
		"type":       item.Type,
		"folder":     item.Folder,
		"ciphertext": item.Ciphertext,
		"created_by": item.CreatedBy,
		"created_at": item.CreatedAt,
		"updated_at": item.UpdatedAt,
	}
}

// ItemCreateHandler handles POST /v1/vault/items
func (s *Server) ItemCreateHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	if err := policy.Require(sess.Role, policy.CanWriteItems); err != nil {
		writeServiceError(w, r, err)
		return
	}

	var req struct {
		Name       string `json:"name"`
		Type       string `json:"type"`
		Folder     string `json:"folder"`
		Ciphertext string `json:"ciphertext"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}

	item, err := s.vault.Create(r.Context(), sess.OrgID, sess.UserID, vault.CreateParams{
		Name: req.Name, Type: req.Type, Folder: req.Folder, Ciphertext: req.Ciphertext,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, itemJSON(item))
}

// ItemListHandler handles GET /v1/vault/items
func (s *Server) ItemListHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	items, err := s.vault.List(r.Context(), sess.OrgID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, itemJSON(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// ItemGetHandler handles GET /v1/vault/items/{itemID}
func (s *Server) ItemGetHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	item, err := s.vault.Get(r.Context(), sess.OrgID, chi.URLParam(r, "itemID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemJSON(item))
}

// ItemUpdateHandler handles PUT /v1/vault/items/{itemID}
func (s *Server) ItemUpdateHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	if err := policy.Require(sess.Role, policy.CanWriteItems); err != nil {
		writeServiceError(w, r, err)
		return
	}

	var req struct {
		Name       string `json:"name"`
		Type       string `json:"type"`
		Folder     string `json:"folder"`
		Ciphertext string `json:"ciphertext"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}

	item, err := s.vault.Update(r.Context(), sess.OrgID, sess.UserID, chi.URLParam(r, "itemID"), vault.CreateParams{
		Name: req.Name, Type: req.Type, Folder: req.Folder, Ciphertext: req.Ciphertext,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemJSON(item))
}

// ItemDeleteHandler handles DELETE /v1/vault/items/{itemID}
func (s *Server) ItemDeleteHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r.Context())
	if err := policy.Require(sess.Role, policy.CanWriteItems); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.vault.Delete(r.Context(), sess.OrgID, sess.UserID, chi.URLParam(r, "itemID")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
