package api

import (
	"errors"
	"net/http"

	"github.com/passkeep/passkeep/internal/emergency"
	"github.com/passkeep/passkeep/internal/policy"
	"github.com/passkeep/passkeep/internal/share"
	"github.com/passkeep/passkeep/internal/storage"
	"github.com/passkeep/passkeep/internal/vault"
	"github.com/rs/zerolog/log"
)

// Stable machine-readable error codes. Clients branch on these, so
// they never change.
const (
	codeInvalidRequest   = "invalid_request"
	codeUnauthorized     = "unauthorized"
	codeMalformed        = "malformed"
	codeExpired          = "expired"
	codeRevoked          = "revoked"
	codeIdleTimeout      = "idle_timeout"
	codeForbidden        = "forbidden"
	codeNotFound         = "not_found"
	codeConflict         = "conflict"
	codeTooLate          = "too_late"
	codeRateLimited      = "rate_limited"
	codeLinkRevoked      = "link_revoked"
	codeLinkExpired      = "link_expired"
	codeLinkExhausted    = "link_exhausted"
	codePasswordRequired = "password_required"
	codeInvalidPassword  = "invalid_password"
	codeInternal         = "internal"
)

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": code, "message": message})
}

// writeAuthError renders a 401 whose code lets clients distinguish an
// idle timeout from generic invalidity.
func writeAuthError(w http.ResponseWriter, code string) {
	writeJSON(w, http.StatusUnauthorized, map[string]any{"error": codeUnauthorized, "code": code})
}

// writeServiceError maps service-layer sentinels onto HTTP responses.
// Anything unrecognized becomes an opaque 500: store and internal
// error detail never reaches the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, codeConflict, "resource already exists")
	case errors.Is(err, policy.ErrForbidden):
		writeError(w, http.StatusForbidden, codeForbidden, "insufficient role")
	case errors.Is(err, emergency.ErrTooLate):
		writeError(w, http.StatusConflict, codeTooLate, err.Error())
	case errors.Is(err, emergency.ErrDuplicateContact),
		errors.Is(err, emergency.ErrRequestPending):
		writeError(w, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, emergency.ErrContactInactive):
		// A revoked contact looks like a missing one to the public.
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, emergency.ErrWaitTooShort),
		errors.Is(err, share.ErrExpiryTooLong),
		errors.Is(err, vault.ErrEmptyCiphertext):
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
	case errors.Is(err, share.ErrRevoked):
		writeError(w, http.StatusGone, codeLinkRevoked, err.Error())
	case errors.Is(err, share.ErrExpired):
		writeError(w, http.StatusGone, codeLinkExpired, err.Error())
	case errors.Is(err, share.ErrExhausted):
		writeError(w, http.StatusGone, codeLinkExhausted, err.Error())
	case errors.Is(err, share.ErrPasswordRequired):
		writeError(w, http.StatusUnauthorized, codePasswordRequired, err.Error())
	case errors.Is(err, share.ErrInvalidPassword):
		writeError(w, http.StatusUnauthorized, codeInvalidPassword, err.Error())
	default:
		log.Error().Err(err).Str("request_id", requestIDFromCtx(r.Context())).
			Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
