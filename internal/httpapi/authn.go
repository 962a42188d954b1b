package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"loom.social/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// Tolerated clock skew when validating access tokens.
	accessTokenLeeway = 5 * time.Second
)

// requireAuth gates a handler behind access-token verification. On
// success the Requester is attached to the request context; it is never
// reconstructed deeper in the call chain.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, auth.CodeUnauthorized, err.Error())
			return
		}

		claims, err := a.codec.VerifyAccess(token, accessTokenLeeway)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		requester := auth.Requester{ID: claims.Subject, Role: claims.Role}
		ctx := auth.ContextWithRequester(r.Context(), requester)
		next(w, r.WithContext(ctx))
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
