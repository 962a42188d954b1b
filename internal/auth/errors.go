package auth

import (
	"errors"
	"net/http"
)

// Machine-readable failure codes surfaced to callers.
const (
	CodeBadRequest           = "BAD_REQUEST"
	CodeEmailInUse           = "EMAIL_IN_USE"
	CodeUsernameTaken        = "USERNAME_TAKEN"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeRefreshTokenInvalid  = "REFRESH_TOKEN_INVALID"
	CodeRefreshReuseDetected = "REFRESH_REUSE_DETECTED"
	CodeAccessTokenExpired   = "ACCESS_TOKEN_EXPIRED"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeSessionNotFound      = "SESSION_NOT_FOUND"
	CodeForbidden            = "FORBIDDEN"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeConflict             = "CONFLICT"
	CodeInternal             = "INTERNAL_ERROR"
)

// ErrNotFound is the store-level absence sentinel. Services translate it
// into a domain *Error before it reaches a caller.
var ErrNotFound = errors.New("auth: not found")

// Error is the single structured failure type crossing the subsystem
// boundary: an HTTP status class, a machine-readable code and a human
// message.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func BadRequest(code, message string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: code, Message: message}
}

func Unauthorized(code, message string) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: code, Message: message}
}

func Forbidden(code, message string) *Error {
	return &Error{Status: http.StatusForbidden, Code: code, Message: message}
}

func NotFound(code, message string) *Error {
	return &Error{Status: http.StatusNotFound, Code: code, Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Status: http.StatusConflict, Code: code, Message: message}
}

// Domain failures shared across components.
var (
	ErrEmailInUse           = Conflict(CodeEmailInUse, "email already registered")
	ErrUsernameTaken        = Conflict(CodeUsernameTaken, "username not available")
	ErrInvalidCredentials   = Unauthorized(CodeInvalidCredentials, "invalid credentials")
	ErrRefreshTokenInvalid  = Unauthorized(CodeRefreshTokenInvalid, "refresh token invalid")
	ErrRefreshReuseDetected = Unauthorized(CodeRefreshReuseDetected, "refresh token reuse detected")
	ErrAccessTokenExpired   = Unauthorized(CodeAccessTokenExpired, "access token expired")
	ErrInvalidToken         = Unauthorized(CodeInvalidToken, "invalid token")
	ErrSessionNotFound      = NotFound(CodeSessionNotFound, "session not found")
	ErrForbidden            = Forbidden(CodeForbidden, "operation not allowed")
	ErrUnauthorized         = Unauthorized(CodeUnauthorized, "unauthorized")
)

// CodeOf extracts the machine-readable code from err, or CodeInternal.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// StatusOf extracts the HTTP status class from err, or 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}
