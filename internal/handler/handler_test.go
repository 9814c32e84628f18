package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/task-manager/internal/auth"
	"github.com/sakif/task-manager/internal/model"
	sqliteRepo "github.com/sakif/task-manager/internal/repository/sqlite"
	"github.com/sakif/task-manager/internal/service"
)

// =========================================================================
// TEST ENVIRONMENT
// =========================================================================
//
// Handlers are tested against real services and an in-memory SQLite
// database. Only CSRF protection is left out; internal/server covers it.

type testEnv struct {
	router   http.Handler
	tasks    *service.TaskService
	accounts *service.AccountService
	tokens   *auth.TokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens, err := auth.NewTokenService("handler-test-secret-0123456789", time.Hour)
	require.NoError(t, err)

	tasks := service.NewTaskService(db, logger)
	accounts := service.NewAccountService(db.Users(), tokens, auth.NewPasswordServiceForTest(4), logger,
		service.AccountOptions{BaseURL: "http://test"})

	pages, err := NewPageHandler(tasks, accounts, false, logger)
	require.NoError(t, err)
	taskAPI := NewTaskAPIHandler(tasks, accounts, logger)
	accountAPI := NewAccountAPIHandler(accounts, false, logger)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/accounts/signup", accountAPI.HandleSignup)
		r.Post("/accounts/login", accountAPI.HandleLogin)
		r.Post("/accounts/logout", accountAPI.HandleLogout)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Use(accountAPI.RequireActive)
			r.Get("/accounts/profile", accountAPI.HandleProfile)
			r.Get("/tasks", taskAPI.HandleList)
			r.Post("/tasks", taskAPI.HandleCreate)
			r.Get("/tasks/{id}", taskAPI.HandleGet)
			r.Put("/tasks/{id}", taskAPI.HandleUpdate)
			r.Delete("/tasks/{id}", taskAPI.HandleDelete)
			r.Get("/tasks/{id}/subtasks", taskAPI.HandleSubtasks)
			r.Post("/tasks/{id}/complete", taskAPI.HandleComplete)
			r.Post("/tasks/{id}/reopen", taskAPI.HandleReopen)
		})
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(tokens))
		r.Get("/accounts/login", pages.HandleLoginForm)
		r.Post("/accounts/login", pages.HandleLogin)
		r.Get("/accounts/signup", pages.HandleSignupForm)
		r.Post("/accounts/signup", pages.HandleSignup)
		r.Post("/accounts/logout", pages.HandleLogout)
		r.Get("/accounts/verify", pages.HandleVerify)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireLogin(tokens, "/accounts/login"))
		r.Get("/tasks", pages.HandleTaskList)
		r.Post("/tasks", pages.HandleTaskCreate)
		r.Get("/tasks/{id}", pages.HandleTaskDetail)
		r.Get("/tasks/{id}/edit", pages.HandleTaskEditForm)
		r.Post("/tasks/{id}/edit", pages.HandleTaskEdit)
		r.Get("/tasks/{id}/delete", pages.HandleTaskDeleteConfirm)
		r.Post("/tasks/{id}/delete", pages.HandleTaskDelete)
		r.Post("/tasks/{id}/complete", pages.HandleTaskComplete)
		r.Post("/tasks/{id}/reopen", pages.HandleTaskReopen)
		r.Post("/tasks/{id}/subtasks", pages.HandleSubtaskCreate)
	})

	return &testEnv{router: r, tasks: tasks, accounts: accounts, tokens: tokens}
}

// user creates an active account and returns it with a session token.
func (e *testEnv) user(t *testing.T, email string, admin bool) (*model.User, string) {
	t.Helper()
	u, err := e.accounts.CreateUser(context.Background(), service.NewUserInput{
		Email:           email,
		Password:        "password123",
		PasswordConfirm: "password123",
		IsAdmin:         admin,
		Activate:        true,
	})
	require.NoError(t, err)
	token, err := e.tokens.Generate(u.ID)
	require.NoError(t, err)
	return u, token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) form(t *testing.T, path, token string, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) page(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (e *testEnv) mustCreate(t *testing.T, ownerID int64, title string, parent *int64) *model.Task {
	t.Helper()
	task, err := e.tasks.Create(context.Background(), ownerID, service.TaskInput{Title: title, ParentID: parent})
	require.NoError(t, err)
	return task
}

// =========================================================================
// FORM COERCION
// =========================================================================

func TestParseTriState(t *testing.T) {
	tests := map[string]model.TriState{
		"true":  model.True,
		"TRUE":  model.True,
		" True": model.True,
		"false": model.False,
		"False": model.False,
		"":      model.Unset,
		"yes":   model.Unset,
		"1":     model.Unset,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseTriState(in), "input %q", in)
	}
}

func TestParseFilter(t *testing.T) {
	f := parseFilter(url.Values{
		"q":            {"  milk "},
		"is_completed": {"false"},
		"is_archived":  {"maybe"},
	})
	assert.Equal(t, "milk", f.Keyword)
	assert.Equal(t, model.False, f.Completed)
	assert.Equal(t, model.Unset, f.Archived)
	assert.Nil(t, f.OwnerID)

	long := parseFilter(url.Values{"q": {strings.Repeat("k", maxKeywordLength+1)}})
	assert.Empty(t, long.Keyword, "over-long keyword is ignored")

	exact := parseFilter(url.Values{"q": {strings.Repeat("k", maxKeywordLength)}})
	assert.Len(t, exact.Keyword, maxKeywordLength)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/accounts/login", nil)
	req.RemoteAddr = "198.51.100.7:52341"
	assert.Equal(t, "198.51.100.7", clientIP(req))

	req.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", clientIP(req))

	// RealIP stores a bare address taken from X-Real-IP.
	req.RemoteAddr = "203.0.113.9"
	assert.Equal(t, "203.0.113.9", clientIP(req))
}

func TestSafeNext(t *testing.T) {
	assert.Equal(t, "/tasks/3", safeNext("/tasks/3", "/tasks"))
	assert.Equal(t, "/tasks", safeNext("", "/tasks"))
	assert.Equal(t, "/tasks", safeNext("//evil.example", "/tasks"))
	assert.Equal(t, "/tasks", safeNext("https://evil.example", "/tasks"))
	assert.Equal(t, "/tasks", safeNext("/\\evil.example", "/tasks"))
}

// =========================================================================
// TASK API
// =========================================================================

func TestTaskAPI_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/tasks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/tasks", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestTaskAPI_CreateAndGet(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.user(t, "a@example.com", false)

	rr := env.do(t, http.MethodPost, "/api/tasks", token, map[string]any{
		"title":       "Write report",
		"description": "quarterly",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	created := decodeBody[map[string]any](t, rr)
	for _, key := range []string{"id", "title", "description", "is_completed", "is_archived",
		"completed_comment", "created_at", "updated_at", "parent_id", "user_id"} {
		assert.Contains(t, created, key)
	}
	assert.Nil(t, created["parent_id"])
	_, err := time.Parse(time.RFC3339, created["created_at"].(string))
	assert.NoError(t, err)

	id := int64(created["id"].(float64))
	assert.Equal(t, "/api/tasks/"+itoa(id), rr.Header().Get("Location"))

	rr = env.do(t, http.MethodGet, "/api/tasks/"+itoa(id), token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decodeBody[model.Task](t, rr)
	assert.Equal(t, "Write report", got.Title)
}

func TestTaskAPI_CreateValidation(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.user(t, "a@example.com", false)

	rr := env.do(t, http.MethodPost, "/api/tasks", token, map[string]any{"title": ""})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decodeBody[ErrorResponse](t, rr)
	assert.Equal(t, "validation_error", body.Error)
	assert.Equal(t, "title", body.Field)

	rr = env.do(t, http.MethodPost, "/api/tasks", token, `{"title": `)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/tasks", token, map[string]any{"title": "x", "is_completed": true})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "completion cannot be set on create")
}

func TestTaskAPI_ListFiltersAndOrder(t *testing.T) {
	env := newTestEnv(t)
	u, token := env.user(t, "a@example.com", false)
	ctx := context.Background()

	milk := env.mustCreate(t, u.ID, "Buy milk", nil)
	env.mustCreate(t, u.ID, "Call mom", nil)
	_, err := env.tasks.Complete(ctx, u.ID, milk.ID, "")
	require.NoError(t, err)

	rr := env.do(t, http.MethodGet, "/api/tasks", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	all := decodeBody[taskListResponse](t, rr)
	require.Len(t, all.Tasks, 2)
	assert.Equal(t, "Call mom", all.Tasks[0].Title, "newest first")

	rr = env.do(t, http.MethodGet, "/api/tasks?is_completed=TRUE", token, nil)
	done := decodeBody[taskListResponse](t, rr)
	require.Len(t, done.Tasks, 1)
	assert.Equal(t, "Buy milk", done.Tasks[0].Title)

	rr = env.do(t, http.MethodGet, "/api/tasks?is_completed=garbage&q=MOM", token, nil)
	mom := decodeBody[taskListResponse](t, rr)
	require.Len(t, mom.Tasks, 1)
	assert.Equal(t, "Call mom", mom.Tasks[0].Title)

	rr = env.do(t, http.MethodGet, "/api/tasks?q=nothing-matches", token, nil)
	assert.JSONEq(t, `{"tasks":[]}`, rr.Body.String())
}

func TestTaskAPI_ListScope(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceToken := env.user(t, "alice@example.com", false)
	bob, _ := env.user(t, "bob@example.com", false)
	_, adminToken := env.user(t, "admin@example.com", true)

	env.mustCreate(t, alice.ID, "alice task", nil)
	env.mustCreate(t, bob.ID, "bob task", nil)

	rr := env.do(t, http.MethodGet, "/api/tasks", aliceToken, nil)
	own := decodeBody[taskListResponse](t, rr)
	require.Len(t, own.Tasks, 1)
	assert.Equal(t, "alice task", own.Tasks[0].Title)

	rr = env.do(t, http.MethodGet, "/api/tasks?user_id="+itoa(alice.ID), aliceToken, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/tasks?user_id="+itoa(bob.ID), aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/tasks?user_id=abc", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/tasks", adminToken, nil)
	everyone := decodeBody[taskListResponse](t, rr)
	assert.Len(t, everyone.Tasks, 2)

	rr = env.do(t, http.MethodGet, "/api/tasks?user_id="+itoa(bob.ID), adminToken, nil)
	bobs := decodeBody[taskListResponse](t, rr)
	require.Len(t, bobs.Tasks, 1)
	assert.Equal(t, "bob task", bobs.Tasks[0].Title)
}

func TestTaskAPI_ForeignTaskIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, aliceToken := env.user(t, "alice@example.com", false)
	bob, _ := env.user(t, "bob@example.com", false)
	task := env.mustCreate(t, bob.ID, "private", nil)
	path := "/api/tasks/" + itoa(task.ID)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, path, aliceToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, path, aliceToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, path+"/complete", aliceToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/tasks/abc", aliceToken, nil).Code)
}

func TestTaskAPI_CompleteGuardAndReopen(t *testing.T) {
	env := newTestEnv(t)
	u, token := env.user(t, "a@example.com", false)

	parent := env.mustCreate(t, u.ID, "parent", nil)
	child := env.mustCreate(t, u.ID, "child", &parent.ID)

	rr := env.do(t, http.MethodPost, "/api/tasks/"+itoa(parent.ID)+"/complete", token, map[string]string{"comment": "done"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decodeBody[ErrorResponse](t, rr)
	assert.Equal(t, "validation_error", body.Error)
	assert.Equal(t, "subtasks", body.Field)
	assert.Contains(t, body.Message, "1 subtask(s)")

	rr = env.do(t, http.MethodGet, "/api/tasks/"+itoa(parent.ID)+"/subtasks", token, nil)
	subs := decodeBody[taskListResponse](t, rr)
	require.Len(t, subs.Tasks, 1)
	assert.Equal(t, child.ID, subs.Tasks[0].ID)

	// No body at all is fine for complete.
	rr = env.do(t, http.MethodPost, "/api/tasks/"+itoa(child.ID)+"/complete", token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/tasks/"+itoa(parent.ID)+"/complete", token, map[string]string{"comment": "done"})
	require.Equal(t, http.StatusOK, rr.Code)
	done := decodeBody[model.Task](t, rr)
	assert.True(t, done.IsCompleted)
	assert.Equal(t, "done", done.CompletedComment)

	rr = env.do(t, http.MethodPost, "/api/tasks/"+itoa(parent.ID)+"/reopen", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decodeBody[model.Task](t, rr).IsCompleted)
}

func TestTaskAPI_UpdateAndDelete(t *testing.T) {
	env := newTestEnv(t)
	u, token := env.user(t, "a@example.com", false)
	parent := env.mustCreate(t, u.ID, "parent", nil)
	child := env.mustCreate(t, u.ID, "child", &parent.ID)

	rr := env.do(t, http.MethodPut, "/api/tasks/"+itoa(parent.ID), token, map[string]any{
		"title":       "renamed",
		"is_archived": true,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decodeBody[model.Task](t, rr)
	assert.Equal(t, "renamed", updated.Title)
	assert.True(t, updated.IsArchived)

	rr = env.do(t, http.MethodDelete, "/api/tasks/"+itoa(parent.ID), token, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/tasks/"+itoa(child.ID), token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code, "subtree is gone")
}

// =========================================================================
// ACCOUNT API
// =========================================================================

func TestAccountAPI_SignupLoginProfile(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/accounts/signup", "", map[string]string{
		"email":            "New@Example.com",
		"password":         "password123",
		"password_confirm": "password123",
		"nickname":         "newbie",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "password")

	rr = env.do(t, http.MethodPost, "/api/accounts/login", "", map[string]string{
		"email": "new@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	login := decodeBody[loginResponse](t, rr)
	require.NotEmpty(t, login.Token)

	var sessionCookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.CookieName {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)
	assert.True(t, sessionCookie.HttpOnly)

	rr = env.do(t, http.MethodGet, "/api/accounts/profile", login.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	profile := decodeBody[model.User](t, rr)
	assert.Equal(t, "new@example.com", profile.Email)
	assert.Equal(t, "newbie", profile.Nickname)
}

func TestAccountAPI_LoginFailure(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "a@example.com", false)

	rr := env.do(t, http.MethodPost, "/api/accounts/login", "", map[string]string{
		"email": "a@example.com", "password": "nope-nope",
	})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	body := decodeBody[ErrorResponse](t, rr)
	assert.Equal(t, "unauthorized", body.Error)
	assert.Equal(t, "invalid email or password", body.Message)
}

func TestAccountAPI_SignupValidation(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/accounts/signup", "", map[string]string{
		"email": "x@example.com", "password": "password123", "password_confirm": "different1",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "password_confirm", decodeBody[ErrorResponse](t, rr).Field)
}

// =========================================================================
// HTML PAGES
// =========================================================================

func TestPages_RedirectAnonymousToLogin(t *testing.T) {
	env := newTestEnv(t)

	rr := env.page(t, "/tasks/5", "")
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/accounts/login?next=%2Ftasks%2F5", rr.Header().Get("Location"))
}

func TestPages_LoginFlow(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "a@example.com", false)

	rr := env.page(t, "/accounts/login?notice=logged_out", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "You have been logged out.")

	rr = env.form(t, "/accounts/login", "", url.Values{
		"email": {"a@example.com"}, "password": {"wrong-password"},
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid email or password")

	rr = env.form(t, "/accounts/login", "", url.Values{
		"email": {"a@example.com"}, "password": {"password123"}, "next": {"/tasks/1"},
	})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/tasks/1", rr.Header().Get("Location"))
	assert.NotEmpty(t, rr.Result().Cookies())
}

func TestPages_SignupValidationRendersInline(t *testing.T) {
	env := newTestEnv(t)

	rr := env.form(t, "/accounts/signup", "", url.Values{
		"email": {"bad"}, "password": {"password123"}, "password_confirm": {"password123"},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "enter a valid email address")

	rr = env.form(t, "/accounts/signup", "", url.Values{
		"email": {"ok@example.com"}, "password": {"password123"}, "password_confirm": {"password123"},
	})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/accounts/login?notice=signed_up", rr.Header().Get("Location"))
}

func TestPages_VerifyLink(t *testing.T) {
	env := newTestEnv(t)
	u, _ := env.user(t, "a@example.com", false)

	rr := env.page(t, "/accounts/verify?token=junk", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	link, err := env.accounts.VerificationLink(u)
	require.NoError(t, err)
	path := strings.TrimPrefix(link, "http://test")

	rr = env.page(t, path, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Your email address is confirmed")
}

func TestPages_TaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	u, token := env.user(t, "a@example.com", false)

	rr := env.form(t, "/tasks", token, url.Values{"title": {"Plan trip"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	parentPath := rr.Header().Get("Location")

	rr = env.form(t, parentPath+"/subtasks", token, url.Values{"title": {"Book hotel"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, parentPath, rr.Header().Get("Location"))

	rr = env.page(t, parentPath, token)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Plan trip")
	assert.Contains(t, body, "Book hotel")
	assert.Contains(t, body, "Complete all subtasks first")

	rr = env.form(t, parentPath+"/complete", token, url.Values{"comment": {"done"}})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "still open")

	// The list shows root tasks only.
	rr = env.page(t, "/tasks", token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Plan trip")
	assert.NotContains(t, rr.Body.String(), "Book hotel")

	rr = env.form(t, parentPath+"/edit", token, url.Values{"title": {""}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "title is required")

	rr = env.form(t, parentPath+"/edit", token, url.Values{"title": {"Plan holiday"}, "is_archived": {"true"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)

	list, err := env.tasks.List(context.Background(), u.ID, model.TaskFilter{Archived: model.True})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Plan holiday", list[0].Title)

	rr = env.form(t, parentPath+"/delete", token, nil)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/tasks?notice=deleted", rr.Header().Get("Location"))

	rr = env.page(t, parentPath, token)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPages_OtherUsersTaskIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, aliceToken := env.user(t, "alice@example.com", false)
	bob, _ := env.user(t, "bob@example.com", false)
	task := env.mustCreate(t, bob.ID, "secret plans", nil)

	rr := env.page(t, "/tasks/"+itoa(task.ID), aliceToken)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.NotContains(t, rr.Body.String(), "secret plans")

	rr = env.form(t, "/tasks/"+itoa(task.ID)+"/subtasks", aliceToken, url.Values{"title": {"hijack"}})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPages_DeactivatedUserIsLoggedOut(t *testing.T) {
	env := newTestEnv(t)
	u, token := env.user(t, "a@example.com", false)
	require.NoError(t, env.accounts.Deactivate(context.Background(), u.ID))

	rr := env.page(t, "/tasks", token)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/accounts/login", rr.Header().Get("Location"))
}

func TestTaskAPI_DeactivatedUserIsRejected(t *testing.T) {
	env := newTestEnv(t)
	u, token := env.user(t, "a@example.com", false)
	env.mustCreate(t, u.ID, "before deactivation", nil)
	require.NoError(t, env.accounts.Deactivate(context.Background(), u.ID))

	rr := env.do(t, http.MethodPost, "/api/tasks", token, map[string]any{"title": "after deactivation"})
	require.Equal(t, http.StatusUnauthorized, rr.Code, rr.Body.String())
	assert.Equal(t, "unauthorized", decodeBody[ErrorResponse](t, rr).Error)

	rr = env.do(t, http.MethodGet, "/api/tasks", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = env.do(t, http.MethodGet, "/api/accounts/profile", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	tasks, err := env.tasks.List(context.Background(), u.ID, model.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1, "nothing was created after deactivation")
}
