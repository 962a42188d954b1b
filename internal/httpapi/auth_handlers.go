package httpapi

import (
	"net/http"

	"loom.social/internal/audit"
	"loom.social/internal/auth"
)

const (
	refreshCookieName = "refreshToken"
	refreshCookiePath = "/v1/auth"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	User        auth.PublicAccount `json:"user"`
	AccessToken string             `json:"access_token"`
}

func (a *API) requestMeta(r *http.Request) auth.Meta {
	return auth.Meta{
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	}
}

// refreshCookie builds the cookie carrying the refresh token: http-only,
// strict same-site, scoped to the auth endpoint family, secure outside
// development.
func (a *API) refreshCookie(value string, maxAgeSeconds int) *http.Cookie {
	return &http.Cookie{
		Name:     refreshCookieName,
		Value:    value,
		Path:     refreshCookiePath,
		MaxAge:   maxAgeSeconds,
		HttpOnly: true,
		Secure:   a.production,
		SameSite: http.SameSiteStrictMode,
	}
}

func (a *API) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, a.refreshCookie(token, int(a.codec.RefreshTTL().Seconds())))
}

func (a *API) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, a.refreshCookie("", -1))
}

func refreshTokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, auth.CodeBadRequest, err.Error())
		return
	}

	result, err := a.service.Register(r.Context(), req.Email, req.Password, req.Username, a.requestMeta(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"account_id": result.Account.ID,
		"username":   result.Account.Username,
	})

	a.setRefreshCookie(w, result.RefreshToken)
	writeJSON(w, http.StatusCreated, authResponse{
		User:        result.Account,
		AccessToken: result.AccessToken,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, auth.CodeBadRequest, err.Error())
		return
	}

	result, err := a.service.Login(r.Context(), req.Email, req.Password, a.requestMeta(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"account_id": result.Account.ID,
	})

	a.setRefreshCookie(w, result.RefreshToken)
	writeJSON(w, http.StatusOK, authResponse{
		User:        result.Account,
		AccessToken: result.AccessToken,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	raw := refreshTokenFromCookie(r)
	result, err := a.service.Refresh(r.Context(), raw, a.requestMeta(r))
	if err != nil {
		if auth.CodeOf(err) == auth.CodeRefreshReuseDetected {
			_ = audit.LogEvent(r.Context(), "auth.refresh.reuse_detected", map[string]any{
				"ip":         clientIP(r),
				"user_agent": r.UserAgent(),
			})
		}
		a.clearRefreshCookie(w)
		writeDomainError(w, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.refresh.rotated", map[string]any{
		"account_id": result.Account.ID,
	})

	a.setRefreshCookie(w, result.RefreshToken)
	writeJSON(w, http.StatusOK, authResponse{
		User:        result.Account,
		AccessToken: result.AccessToken,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	requester, ok := auth.RequesterFromContext(r.Context())
	if !ok {
		writeDomainError(w, auth.ErrUnauthorized)
		return
	}

	if err := a.service.Logout(r.Context(), requester.ID, refreshTokenFromCookie(r)); err != nil {
		writeDomainError(w, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.logout", nil)

	a.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	requester, ok := auth.RequesterFromContext(r.Context())
	if !ok {
		writeDomainError(w, auth.ErrUnauthorized)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, auth.CodeBadRequest, err.Error())
		return
	}

	if err := a.service.ChangePassword(r.Context(), requester, req.CurrentPassword, req.NewPassword); err != nil {
		writeDomainError(w, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.password.changed", nil)

	a.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
