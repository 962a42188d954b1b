package auth

import "context"

type requesterContextKey struct{}

// ContextWithRequester attaches the authenticated requester to the
// context. The web layer does this once after verifying the access
// token; nothing deeper in the call chain rebuilds it.
func ContextWithRequester(ctx context.Context, requester Requester) context.Context {
	return context.WithValue(ctx, requesterContextKey{}, requester)
}

// RequesterFromContext extracts the authenticated requester.
func RequesterFromContext(ctx context.Context) (Requester, bool) {
	if ctx == nil {
		return Requester{}, false
	}
	v, ok := ctx.Value(requesterContextKey{}).(Requester)
	if !ok || v.ID == "" {
		return Requester{}, false
	}
	return v, true
}
