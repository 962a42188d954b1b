package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"loom.social/internal/auth"
	"loom.social/internal/obs"
)

// ReadyProbe reports readiness (DB ping when a DB is configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer. It owns wire framing only; all lifecycle
// semantics live in the auth service and ledger.
type API struct {
	mux         *http.ServeMux
	service     *auth.Service
	ledger      *auth.Ledger
	codec       *auth.Codec
	readyProbe  ReadyProbe
	version     string
	production  bool
	corsOrigins []string
}

// Options configures the API.
type Options struct {
	Service     *auth.Service
	Ledger      *auth.Ledger
	Codec       *auth.Codec
	ReadyProbe  ReadyProbe
	Version     string
	Production  bool
	CORSOrigins []string
}

func New(opts Options) *API {
	a := &API{
		mux:         http.NewServeMux(),
		service:     opts.Service,
		ledger:      opts.Ledger,
		codec:       opts.Codec,
		readyProbe:  opts.ReadyProbe,
		version:     opts.Version,
		production:  opts.Production,
		corsOrigins: opts.CORSOrigins,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.requireAuth(a.handleLogout))
	a.mux.HandleFunc("/v1/auth/password", a.requireAuth(a.handleChangePassword))

	a.mux.HandleFunc("/v1/sessions", a.requireAuth(a.handleSessions))
	a.mux.HandleFunc("/v1/sessions/", a.requireAuth(a.handleSessionByID))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 20, 10)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "loom-auth",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "loom-auth",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"build":   obs.ReadBuildInfo(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

// writeDomainError maps a service failure onto the wire, preserving the
// machine-readable code and emitting the retry-hint challenge for
// expired access tokens.
func writeDomainError(w http.ResponseWriter, err error) {
	code := auth.CodeOf(err)
	if code == auth.CodeAccessTokenExpired {
		w.Header().Set("WWW-Authenticate",
			`Bearer error="invalid_token", error_description="access token expired"`)
	}
	status := auth.StatusOf(err)
	message := "internal error"
	var domainErr *auth.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	writeError(w, status, code, message)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}
