package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"notespace/internal/authpw"
	"notespace/internal/history"
	"notespace/internal/logging"
	"notespace/internal/notes"
	"notespace/internal/session"
	"notespace/internal/store/memstore"
	"notespace/internal/tenant"
	"notespace/internal/votes"
)

const (
	acmeHost   = "acme.test"
	globexHost = "globex.test"
)

type harness struct {
	t       *testing.T
	store   *memstore.Store
	handler http.Handler
}

func newHarness(t *testing.T, checks map[string]Pinger) *harness {
	t.Helper()
	ctx := context.Background()
	log := logging.Nop()
	st := memstore.New()

	tenants := tenant.NewDirectory(st, acmeHost, nil, log)
	require.NoError(t, tenants.Bootstrap(ctx, []tenant.Seed{
		{Hostname: acmeHost, Name: "Acme"},
		{Hostname: globexHost, Name: "Globex"},
	}))
	sessions := session.NewManager(session.NewDBStore(st), time.Hour)
	auth, err := authpw.NewService(st, sessions, bcrypt.MinCost, log)
	require.NoError(t, err)

	if checks == nil {
		checks = map[string]Pinger{"store": st}
	}
	server := NewHTTPServer(Services{
		Tenants:    tenants,
		Auth:       auth,
		Notes:      notes.NewEngine(st, history.NewArchive(nil), log),
		Workspaces: notes.NewWorkspaces(st, log),
		Votes:      votes.NewLedger(st, log),
		Checks:     checks,
	}, Options{CookieName: "sid"}, log)
	return &harness{t: t, store: st, handler: server.Handler()}
}

func (h *harness) do(method, host, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Host = host
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

// signUp registers and logs a user in, returning the session cookie.
func (h *harness) signUp(host, name, email string) *http.Cookie {
	h.t.Helper()
	rec := h.do(http.MethodPost, host, "/api/auth/register", map[string]string{
		"fullName": name, "email": email, "password": "correct horse",
	}, nil)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	return h.login(host, email, "correct horse")
}

func (h *harness) login(host, email, password string) *http.Cookie {
	h.t.Helper()
	rec := h.do(http.MethodPost, host, "/api/auth/login", map[string]string{
		"email": email, "password": password,
	}, nil)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sid" {
			return c
		}
	}
	h.t.Fatal("login did not set a session cookie")
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type errorBody struct {
	Code    string            `json:"code"`
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) errorBody {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decode[errorBody](t, rec)
	require.Equal(t, code, body.Code)
	return body
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthAndReady(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "unknown.test", "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = h.do(http.MethodGet, acmeHost, "/api/ready", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"status":"ready","checks":{"store":{"status":"ok"}}}`, rec.Body.String())

	down := newHarness(t, map[string]Pinger{"redis": failingPinger{}})
	rec = down.do(http.MethodGet, acmeHost, "/api/ready", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "not_ready", body["status"])
}

func TestMiddlewareHeaders(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodOptions, acmeHost, "/api/notes/mine", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	out := httptest.NewRecorder()
	h.handler.ServeHTTP(out, req)
	assert.Equal(t, "req-123", out.Header().Get("X-Request-ID"))

	requireError(t, h.do(http.MethodGet, acmeHost, "/api/nowhere", nil, nil), http.StatusNotFound, "NOT_FOUND")
	requireError(t, h.do(http.MethodGet, acmeHost, "/api/notes/not-a-uuid", nil, nil), http.StatusNotFound, "NOT_FOUND")
	requireError(t, h.do(http.MethodDelete, acmeHost, "/api/auth/login", nil, nil), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
	requireError(t, h.do(http.MethodPatch, acmeHost, "/api/notes/"+uuid.NewString(), nil, nil), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
	requireError(t, h.do(http.MethodPut, acmeHost, "/api/workspaces", nil, nil), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
	requireError(t, h.do(http.MethodDelete, acmeHost, "/api/health", nil, nil), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
	// an allowed method still reaches the session check
	requireError(t, h.do(http.MethodGet, acmeHost, "/api/notes/"+uuid.NewString(), nil, nil), http.StatusUnauthorized, authpw.CodeUnauthorized)
}

func TestAuthFlow(t *testing.T) {
	h := newHarness(t, nil)

	requireError(t, h.do(http.MethodPost, "nobody.test", "/api/auth/register", map[string]string{
		"fullName": "Ann", "email": "ann@example.com", "password": "correct horse",
	}, nil), http.StatusNotFound, tenant.CodeCompanyNotFound)

	rec := h.do(http.MethodPost, acmeHost, "/api/auth/register", map[string]string{
		"fullName": "Ann Lee", "email": "Ann@Example.com", "password": "correct horse",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	registered := decode[struct {
		Message string   `json:"message"`
		User    userView `json:"user"`
	}](t, rec)
	assert.Equal(t, "Registration successful", registered.Message)
	assert.Equal(t, "ann@example.com", registered.User.Email)
	assert.NotContains(t, rec.Body.String(), "password")

	requireError(t, h.do(http.MethodPost, acmeHost, "/api/auth/register", map[string]string{
		"fullName": "Ann Again", "email": "ann@example.com", "password": "correct horse",
	}, nil), http.StatusConflict, authpw.CodeEmailTaken)

	// the same address may register under another tenant
	rec = h.do(http.MethodPost, globexHost, "/api/auth/register", map[string]string{
		"fullName": "Ann Lee", "email": "ann@example.com", "password": "battery staple",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	bad := requireError(t, h.do(http.MethodPost, acmeHost, "/api/auth/register", map[string]string{
		"fullName": "Bo", "email": "not-an-email", "password": "correct horse",
	}, nil), http.StatusBadRequest, "VALIDATION_ERROR")
	assert.Contains(t, bad.Details, "email")

	requireError(t, h.do(http.MethodPost, acmeHost, "/api/auth/login", map[string]string{
		"email": "ann@example.com", "password": "wrong password",
	}, nil), http.StatusUnauthorized, authpw.CodeInvalidCredentials)

	requireError(t, h.do(http.MethodGet, acmeHost, "/api/auth/me", nil, nil), http.StatusUnauthorized, authpw.CodeUnauthorized)

	cookie := h.login(acmeHost, "ann@example.com", "correct horse")
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	rec = h.do(http.MethodGet, acmeHost, "/api/auth/me", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	me := decode[struct {
		User   userView   `json:"user"`
		Tenant tenantView `json:"tenant"`
	}](t, rec)
	assert.Equal(t, registered.User.ID, me.User.ID)
	assert.Equal(t, acmeHost, me.Tenant.Hostname)

	// a session is bound to the tenant it was issued for
	requireError(t, h.do(http.MethodGet, globexHost, "/api/auth/me", nil, cookie), http.StatusUnauthorized, authpw.CodeUnauthorized)

	rec = h.do(http.MethodPost, acmeHost, "/api/auth/logout", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"message":"Logout successful"}`, rec.Body.String())
	requireError(t, h.do(http.MethodGet, acmeHost, "/api/auth/me", nil, cookie), http.StatusUnauthorized, authpw.CodeUnauthorized)
}

type noteResponse struct {
	Note notes.NoteView `json:"note"`
}

func TestNoteLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.signUp(acmeHost, "Alice Smith", "alice@acme.test")
	bob := h.signUp(acmeHost, "Bob Jones", "bob@acme.test")
	carol := h.signUp(globexHost, "Carol King", "carol@globex.test")

	rec := h.do(http.MethodPost, acmeHost, "/api/workspaces", map[string]string{"name": "Research"}, alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	workspace := decode[struct {
		Workspace notes.WorkspaceView `json:"workspace"`
	}](t, rec).Workspace

	notesPath := "/api/workspaces/" + workspace.ID.String() + "/notes"
	invalid := requireError(t, h.do(http.MethodPost, acmeHost, notesPath, map[string]any{
		"title": "", "content": "body", "status": "archived",
	}, alice), http.StatusBadRequest, "VALIDATION_ERROR")
	assert.Equal(t, "is required", invalid.Details["title"])
	assert.Contains(t, invalid.Details, "status")

	rec = h.do(http.MethodPost, acmeHost, notesPath, map[string]any{
		"title": "Findings", "content": "first draft", "tags": []string{" Go ", "go", "research"},
	}, alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[noteResponse](t, rec).Note
	assert.Equal(t, "draft", created.Status)
	assert.Len(t, created.Tags, 2)

	notePath := "/api/notes/" + created.ID.String()
	requireError(t, h.do(http.MethodGet, acmeHost, notePath, nil, bob), http.StatusForbidden, "FORBIDDEN")
	requireError(t, h.do(http.MethodGet, globexHost, notePath, nil, carol), http.StatusNotFound, "NOTE_NOT_FOUND")

	rec = h.do(http.MethodPut, acmeHost, notePath, map[string]any{"title": "Findings v2"}, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Findings v2", decode[noteResponse](t, rec).Note.Title)

	rec = h.do(http.MethodPatch, acmeHost, notePath+"/autosave", map[string]any{"content": "autosaved body"}, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Auto-saved", decode[map[string]any](t, rec)["message"])

	rec = h.do(http.MethodPost, acmeHost, notePath+"/publish", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	requireError(t, h.do(http.MethodPost, acmeHost, notePath+"/publish", nil, alice), http.StatusConflict, notes.CodeAlreadyPublished)

	rec = h.do(http.MethodPut, acmeHost, notePath, map[string]any{"visibility": "public"}, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodGet, acmeHost, notePath, nil, bob)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodGet, acmeHost, notePath+"/history", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	hist := decode[notes.HistoryView](t, rec)
	require.Len(t, hist.History, 3)
	oldest := hist.History[len(hist.History)-1]
	assert.Equal(t, "Findings", oldest.Title)

	rec = h.do(http.MethodGet, acmeHost, notePath+"/history/stats", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, decode[notes.HistoryStatsView](t, rec).TotalHistoryEntries)

	rec = h.do(http.MethodPost, acmeHost, notePath+"/history/"+oldest.ID.String()+"/restore", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	restored := decode[noteResponse](t, rec).Note
	assert.Equal(t, "Findings", restored.Title)
	assert.Equal(t, "draft", restored.Status)

	rec = h.do(http.MethodGet, acmeHost, "/api/notes/mine?status=draft", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	mine := decode[notes.NotePage](t, rec)
	assert.Equal(t, 1, mine.Meta.Total)

	requireError(t, h.do(http.MethodGet, acmeHost, "/api/notes/mine?perPage=abc", nil, alice), http.StatusBadRequest, "VALIDATION_ERROR")
	requireError(t, h.do(http.MethodGet, acmeHost, "/api/notes/mine?perPage=21", nil, alice), http.StatusBadRequest, "VALIDATION_ERROR")

	requireError(t, h.do(http.MethodDelete, acmeHost, notePath, nil, bob), http.StatusForbidden, "FORBIDDEN")
	rec = h.do(http.MethodDelete, acmeHost, notePath, nil, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	requireError(t, h.do(http.MethodGet, acmeHost, notePath, nil, alice), http.StatusNotFound, "NOTE_NOT_FOUND")

	rec = h.do(http.MethodGet, acmeHost, "/api/dashboard", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 0, decode[notes.DashboardView](t, rec).Stats.TotalNotes)
}

func TestVotingOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.signUp(acmeHost, "Alice Smith", "alice@acme.test")
	bob := h.signUp(acmeHost, "Bob Jones", "bob@acme.test")
	carol := h.signUp(globexHost, "Carol King", "carol@globex.test")

	rec := h.do(http.MethodPost, acmeHost, "/api/workspaces", map[string]string{"name": "Shared"}, alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	workspace := decode[struct {
		Workspace notes.WorkspaceView `json:"workspace"`
	}](t, rec).Workspace

	rec = h.do(http.MethodPost, acmeHost, "/api/workspaces/"+workspace.ID.String()+"/notes", map[string]any{
		"title": "Launch plan", "content": "steps", "status": "published", "visibility": "public",
	}, alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	note := decode[noteResponse](t, rec).Note
	votePath := "/api/notes/" + note.ID.String() + "/vote"

	invalid := requireError(t, h.do(http.MethodPost, acmeHost, votePath, map[string]string{"voteType": "sideways"}, bob),
		http.StatusBadRequest, "VALIDATION_ERROR")
	assert.Contains(t, invalid.Details, "voteType")

	rec = h.do(http.MethodPost, acmeHost, votePath, map[string]string{"voteType": "up"}, bob)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"message":"Vote recorded","vote":{"voteType":"up","voteCount":1}}`, rec.Body.String())

	requireError(t, h.do(http.MethodPost, acmeHost, votePath, map[string]string{"voteType": "up"}, bob),
		http.StatusConflict, votes.CodeAlreadyVoted)

	rec = h.do(http.MethodPost, acmeHost, votePath, map[string]string{"voteType": "down"}, bob)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"message":"Vote updated","vote":{"voteType":"down","voteCount":-1}}`, rec.Body.String())

	rec = h.do(http.MethodGet, acmeHost, votePath, nil, bob)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"hasVoted":true,"voteType":"down","voteCount":-1}`, rec.Body.String())

	rec = h.do(http.MethodGet, acmeHost, "/api/notes/"+note.ID.String()+"/votes/stats", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"upvotes":0,"downvotes":1,"total":1,"score":-1}`, rec.Body.String())

	requireError(t, h.do(http.MethodPost, globexHost, votePath, map[string]string{"voteType": "up"}, carol),
		http.StatusNotFound, "NOTE_NOT_FOUND")

	rec = h.do(http.MethodPost, acmeHost, "/api/notes/votes/bulk", map[string]any{
		"noteIds": []string{note.ID.String()},
	}, bob)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bulk := decode[struct {
		Votes map[string]notes.VoteStatus `json:"votes"`
	}](t, rec)
	require.Contains(t, bulk.Votes, note.ID.String())
	assert.True(t, bulk.Votes[note.ID.String()].HasVoted)

	badBulk := requireError(t, h.do(http.MethodPost, acmeHost, "/api/notes/votes/bulk", map[string]any{
		"noteIds": []string{"nope"},
	}, bob), http.StatusBadRequest, "VALIDATION_ERROR")
	assert.Equal(t, "must be a valid id", badBulk.Details["noteIds[0]"])
	requireError(t, h.do(http.MethodPost, acmeHost, "/api/notes/votes/bulk", map[string]any{
		"noteIds": []string{},
	}, bob), http.StatusBadRequest, "VALIDATION_ERROR")

	rec = h.do(http.MethodGet, acmeHost, "/api/public/notes?sort=most_upvoted", nil, bob)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	public := decode[notes.PublicPage](t, rec)
	require.Len(t, public.Notes, 1)
	assert.True(t, public.UserVotes[note.ID.String()].HasVoted)

	rec = h.do(http.MethodGet, acmeHost, "/api/search?q=launch", nil, bob)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	found := decode[struct {
		Notes []notes.NoteView `json:"notes"`
	}](t, rec)
	require.Len(t, found.Notes, 1)
	assert.Equal(t, note.ID, found.Notes[0].ID)
	requireError(t, h.do(http.MethodGet, acmeHost, "/api/search?q=%20", nil, bob), http.StatusBadRequest, "VALIDATION_ERROR")

	rec = h.do(http.MethodDelete, acmeHost, votePath, nil, bob)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"message":"Vote removed","vote":{"voteType":null,"voteCount":0}}`, rec.Body.String())
	requireError(t, h.do(http.MethodDelete, acmeHost, votePath, nil, bob), http.StatusNotFound, votes.CodeVoteNotFound)
}

func TestTransientStoreErrors(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.signUp(acmeHost, "Alice Smith", "alice@acme.test")

	h.store.Faults.Set("ListNotes", context.DeadlineExceeded)
	rec := h.do(http.MethodGet, acmeHost, "/api/notes/mine", nil, alice)
	requireError(t, rec, http.StatusServiceUnavailable, "TRANSIENT")
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	h.store.Faults.Set("ListNotes", errors.New("disk on fire"))
	rec = h.do(http.MethodGet, acmeHost, "/api/notes/mine", nil, alice)
	body := requireError(t, rec, http.StatusInternalServerError, "SERVER_ERROR")
	assert.NotContains(t, body.Error, "disk")
}

func TestMapError(t *testing.T) {
	status, code, _, _ := mapError(context.DeadlineExceeded)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "TRANSIENT", code)

	status, code, _, _ = mapError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "SERVER_ERROR", code)
}

func TestRequestBodies(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader([]byte("{not json")))
	req.Host = acmeHost
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	requireError(t, rec, http.StatusBadRequest, "INVALID_BODY")

	empty := requireError(t, h.do(http.MethodPost, acmeHost, "/api/auth/login", nil, nil), http.StatusBadRequest, "VALIDATION_ERROR")
	assert.Equal(t, "is required", empty.Details["email"])
	assert.Equal(t, "is required", empty.Details["password"])
}
