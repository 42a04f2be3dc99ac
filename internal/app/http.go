package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"notespace/internal/apperr"
	"notespace/internal/authpw"
	"notespace/internal/notes"
	"notespace/internal/store"
	"notespace/internal/tenant"
	"notespace/internal/votes"
)

// Pinger is a dependency checked by /api/ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the core components the HTTP layer dispatches to.
type Services struct {
	Tenants    *tenant.Directory
	Auth       *authpw.Service
	Notes      *notes.Engine
	Workspaces *notes.Workspaces
	Votes      *votes.Ledger
	// Checks are pinged by the readiness endpoint, keyed by name.
	Checks map[string]Pinger
}

type Options struct {
	CORSOrigin   string
	CookieName   string
	CookieSecure bool
	QueryTimeout time.Duration
}

type HTTPServer struct {
	svc      Services
	opts     Options
	log      zerolog.Logger
	validate *validator.Validate
}

func NewHTTPServer(svc Services, opts Options, log zerolog.Logger) *HTTPServer {
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	if opts.CookieName == "" {
		opts.CookieName = "notespace_session"
	}
	return &HTTPServer{svc: svc, opts: opts, log: log, validate: newValidator()}
}

const idPattern = "{%s:[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}}"

func idVar(name string) string {
	return fmt.Sprintf(idPattern, name)
}

func (s *HTTPServer) Handler() http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)

	// Routes hang off the root router with their middleware applied per
	// handler. A PathPrefix subrouter copies its prefix matcher into every
	// route, and a matching prefix clears mux's method-mismatch state, so
	// 405 responses would come back as 404.
	public := func(path string, handler http.HandlerFunc, method string) {
		router.Handle("/api"+path, s.requireTenant(handler)).Methods(method)
	}
	authed := func(path string, handler http.HandlerFunc, method string) {
		router.Handle("/api"+path, s.requireTenant(s.requireSession(handler))).Methods(method)
	}
	public("/auth/register", s.handleRegister, http.MethodPost)
	public("/auth/login", s.handleLogin, http.MethodPost)

	authed("/auth/logout", s.handleLogout, http.MethodPost)
	authed("/auth/me", s.handleMe, http.MethodGet)
	authed("/dashboard", s.handleDashboard, http.MethodGet)

	authed("/workspaces", s.handleListWorkspaces, http.MethodGet)
	authed("/workspaces", s.handleCreateWorkspace, http.MethodPost)
	authed("/workspaces/"+idVar("id"), s.handleGetWorkspace, http.MethodGet)
	authed("/workspaces/"+idVar("workspaceId")+"/notes", s.handleListWorkspaceNotes, http.MethodGet)
	authed("/workspaces/"+idVar("workspaceId")+"/notes", s.handleCreateNote, http.MethodPost)

	authed("/notes/mine", s.handleMyNotes, http.MethodGet)
	authed("/notes/votes/bulk", s.handleBulkVotes, http.MethodPost)
	note := "/notes/" + idVar("id")
	authed(note, s.handleShowNote, http.MethodGet)
	authed(note, s.handleUpdateNote, http.MethodPut)
	authed(note, s.handleDestroyNote, http.MethodDelete)
	authed(note+"/autosave", s.handleAutosave, http.MethodPatch)
	authed(note+"/publish", s.handlePublish, http.MethodPost)
	authed(note+"/unpublish", s.handleUnpublish, http.MethodPost)
	authed(note+"/history", s.handleHistory, http.MethodGet)
	authed(note+"/history/stats", s.handleHistoryStats, http.MethodGet)
	authed(note+"/history/"+idVar("historyId")+"/restore", s.handleRestore, http.MethodPost)
	authed(note+"/vote", s.handleCastVote, http.MethodPost)
	authed(note+"/vote", s.handleRemoveVote, http.MethodDelete)
	authed(note+"/vote", s.handleVoteStatus, http.MethodGet)
	authed(note+"/votes/stats", s.handleVoteStats, http.MethodGet)

	authed("/public/notes", s.handlePublicNotes, http.MethodGet)
	authed("/public/notes/"+idVar("id"), s.handlePublicNote, http.MethodGet)
	authed("/search", s.handleSearch, http.MethodGet)

	return s.withMiddleware(router)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, dep := range s.svc.Checks {
		if err := dep.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// fail writes err as an error response. Unexpected errors are logged with the
// request id; their text never reaches the client.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		s.log.Error().
			Err(err).
			Str("request_id", requestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	if domainErr, ok := apperr.As(err); ok {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if store.IsTransient(err) {
		return http.StatusServiceUnavailable, "TRANSIENT", "Temporarily unavailable, try again", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

var errInvalidBody = errors.New("invalid JSON body")

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		// an empty body decodes as the zero value and is left to validation
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return errInvalidBody
	}
	return nil
}

// bind decodes and validates a request body. It writes the error response
// itself and reports whether the handler should continue.
func (s *HTTPServer) bind(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	if err := s.validate.Struct(target); err != nil {
		s.fail(w, r, validationError(err))
		return false
	}
	return true
}

func pathID(r *http.Request, name string) uuid.UUID {
	// the route pattern only admits well-formed ids
	id, _ := uuid.Parse(mux.Vars(r)[name])
	return id
}
