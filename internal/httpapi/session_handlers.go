package httpapi

import (
	"net/http"
	"strings"

	"loom.social/internal/audit"
	"loom.social/internal/auth"
)

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	requester, ok := auth.RequesterFromContext(r.Context())
	if !ok {
		writeDomainError(w, auth.ErrUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sessions, err := a.ledger.ListMine(r.Context(), requester.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": sessions})

	case http.MethodDelete:
		if err := a.ledger.RevokeAll(r.Context(), requester.ID); err != nil {
			writeDomainError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "sessions.revoke_all", nil)
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, "GET, DELETE")
	}
}

func (a *API) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodDelete)
		return
	}
	requester, ok := auth.RequesterFromContext(r.Context())
	if !ok {
		writeDomainError(w, auth.ErrUnauthorized)
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		writeError(w, http.StatusBadRequest, auth.CodeBadRequest, "session id is required")
		return
	}

	if err := a.ledger.RevokeByID(r.Context(), requester, sessionID); err != nil {
		writeDomainError(w, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "sessions.revoke", map[string]any{
		"session_id": sessionID,
	})
	w.WriteHeader(http.StatusNoContent)
}
