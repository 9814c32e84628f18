package handler

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/csrf"

	"github.com/sakif/task-manager/internal/apperror"
	"github.com/sakif/task-manager/internal/auth"
	"github.com/sakif/task-manager/internal/model"
	"github.com/sakif/task-manager/internal/service"
	"github.com/sakif/task-manager/internal/web"
)

// PageHandler serves the server-rendered HTML interface.
//
// TEMPLATE SETS:
// Every page is parsed together with base.html into its own set, so each
// page's {{define "content"}} fills the same slot without clashing with the
// others. Sets are parsed once at startup.
//
// FORM POSTS:
// Successful POSTs redirect with 303 (post/redirect/get). Validation
// failures re-render the same page with a 400 and the messages inline.
type PageHandler struct {
	tasks         *service.TaskService
	accounts      *service.AccountService
	templates     map[string]*template.Template
	secureCookies bool
	logger        *slog.Logger
}

var pageFiles = []string{
	"login.html",
	"signup.html",
	"verify.html",
	"error.html",
	"task_list.html",
	"task_detail.html",
	"task_edit.html",
	"task_delete.html",
}

var templateFuncs = template.FuncMap{
	"fmtTime": func(t time.Time) string {
		return t.Local().Format("2006-01-02 15:04")
	},
}

// notices are the only messages a redirect can ask a page to show. The query
// carries a key, never the text, so links cannot inject content.
var notices = map[string]string{
	"signed_up":   "Your account is ready. Log in to continue.",
	"verify_sent": "Check your inbox: we sent you a link to confirm your email address.",
	"logged_out":  "You have been logged out.",
	"deleted":     "Task deleted.",
}

func NewPageHandler(
	tasks *service.TaskService,
	accounts *service.AccountService,
	secureCookies bool,
	logger *slog.Logger,
) (*PageHandler, error) {
	sets := make(map[string]*template.Template, len(pageFiles))
	for _, page := range pageFiles {
		tmpl, err := template.New(page).Funcs(templateFuncs).ParseFS(web.Templates,
			"templates/base.html",
			"templates/"+page,
		)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", page, err)
		}
		sets[page] = tmpl
	}

	return &PageHandler{
		tasks:         tasks,
		accounts:      accounts,
		templates:     sets,
		secureCookies: secureCookies,
		logger:        logger,
	}, nil
}

type filterView struct {
	Q           string
	IsCompleted string
	IsArchived  string
}

// pageData is what every template receives. Pages use the subset they need.
type pageData struct {
	Title     string
	User      *model.User
	CSRFField template.HTML
	Notice    string
	Error     string
	Fields    map[string]string
	Form      any

	Next     string
	Verified bool
	Filter   filterView
	Tasks    []model.Task
	Task     *model.Task
	Detail   *service.TaskDetail
}

// render executes into a buffer first so a template error still produces a
// clean 500 instead of half a page.
func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, status int, page string, data *pageData) {
	tmpl, ok := h.templates[page]
	if !ok {
		h.logger.Error("unknown template", slog.String("page", page))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data.CSRFField = csrf.TemplateField(r)
	if data.Notice == "" {
		data.Notice = notices[r.URL.Query().Get("notice")]
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		h.logger.Error("failed to render template",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// renderError shows a not-found or generic error page for err.
func (h *PageHandler) renderError(w http.ResponseWriter, r *http.Request, user *model.User, err error) {
	status, _ := statusFor(err)
	title := http.StatusText(status)
	if status == http.StatusInternalServerError {
		h.logger.Error("page request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		title = "Something went wrong"
	}
	h.render(w, r, status, "error.html", &pageData{Title: title, User: user})
}

// applyValidation copies a validation error into data. It returns false for
// any other kind of error, which the caller should hand to renderError.
func applyValidation(data *pageData, err error) bool {
	var appErr *apperror.AppError
	if !errors.Is(err, apperror.ErrValidation) || !errors.As(err, &appErr) {
		return false
	}
	data.Error = appErr.Message
	if appErr.Field != "" {
		data.Fields = map[string]string{appErr.Field: appErr.Message}
	}
	return true
}

// currentUser loads the logged-in user. A missing or deactivated account
// ends the session and sends the browser to the login page.
func (h *PageHandler) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/accounts/login", http.StatusSeeOther)
		return nil, false
	}

	user, err := h.accounts.GetUserByID(r.Context(), uid)
	if err != nil || !user.IsActive {
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			h.renderError(w, r, nil, err)
			return nil, false
		}
		auth.ClearSessionCookie(w, h.secureCookies)
		http.Redirect(w, r, "/accounts/login", http.StatusSeeOther)
		return nil, false
	}
	return user, true
}

func taskURL(id int64) string {
	return "/tasks/" + strconv.FormatInt(id, 10)
}

// =========================================================================
// ACCOUNT PAGES
// =========================================================================

// HandleHome sends visitors to their task list (or to login, via the
// RequireLogin middleware on /tasks).
func (h *PageHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/tasks", http.StatusSeeOther)
}

// HandleLoginForm renders the login page.
//
// HTTP: GET /accounts/login?next=/tasks/3
func (h *PageHandler) HandleLoginForm(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserIDFromContext(r.Context()); ok {
		http.Redirect(w, r, safeNext(r.URL.Query().Get("next"), "/tasks"), http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "login.html", &pageData{
		Title: "Log in",
		Next:  r.URL.Query().Get("next"),
	})
}

// HandleLogin checks the submitted credentials and starts a session.
//
// HTTP: POST /accounts/login
func (h *PageHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	if err := decodeForm(r, &form); err != nil {
		h.renderError(w, r, nil, err)
		return
	}

	res, err := h.accounts.Authenticate(r.Context(), form.Email, form.Password, clientIP(r))
	if err != nil {
		status, _ := statusFor(err)
		if status == http.StatusInternalServerError {
			h.renderError(w, r, nil, err)
			return
		}
		var appErr *apperror.AppError
		msg := "invalid email or password"
		if errors.As(err, &appErr) {
			msg = appErr.Message
		}
		form.Password = ""
		h.render(w, r, status, "login.html", &pageData{
			Title: "Log in",
			Error: msg,
			Form:  form,
			Next:  form.Next,
		})
		return
	}

	auth.SetSessionCookie(w, res.Token, res.TTL, h.secureCookies)
	http.Redirect(w, r, safeNext(form.Next, "/tasks"), http.StatusSeeOther)
}

// HandleSignupForm renders the registration page.
//
// HTTP: GET /accounts/signup
func (h *PageHandler) HandleSignupForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "signup.html", &pageData{Title: "Sign up"})
}

// HandleSignup creates the account and, when verification is on, tells the
// user to check their inbox.
//
// HTTP: POST /accounts/signup
func (h *PageHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var form signupForm
	if err := decodeForm(r, &form); err != nil {
		h.renderError(w, r, nil, err)
		return
	}

	user, err := h.accounts.SignUp(r.Context(), service.NewUserInput{
		Email:           form.Email,
		Password:        form.Password,
		PasswordConfirm: form.PasswordConfirm,
		Nickname:        form.Nickname,
		FirstName:       form.FirstName,
		LastName:        form.LastName,
	})
	if err != nil {
		form.Password, form.PasswordConfirm = "", ""
		data := &pageData{Title: "Sign up", Form: form}
		if !applyValidation(data, err) {
			h.renderError(w, r, nil, err)
			return
		}
		h.render(w, r, http.StatusBadRequest, "signup.html", data)
		return
	}

	notice := "signed_up"
	if !user.IsActive {
		notice = "verify_sent"
	}
	http.Redirect(w, r, "/accounts/login?notice="+notice, http.StatusSeeOther)
}

// HandleLogout ends the browser session.
//
// HTTP: POST /accounts/logout
func (h *PageHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.secureCookies)
	http.Redirect(w, r, "/accounts/login?notice=logged_out", http.StatusSeeOther)
}

// HandleVerify consumes the link from the verification email.
//
// HTTP: GET /accounts/verify?token=...
func (h *PageHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	_, err := h.accounts.VerifyEmail(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		data := &pageData{Title: "Email verification"}
		if !applyValidation(data, err) {
			h.renderError(w, r, nil, err)
			return
		}
		h.render(w, r, http.StatusBadRequest, "verify.html", data)
		return
	}
	h.render(w, r, http.StatusOK, "verify.html", &pageData{
		Title:    "Email verification",
		Verified: true,
	})
}

// =========================================================================
// TASK PAGES (RequireLogin)
// =========================================================================

// listData fills the task list page: root tasks matching the query filter.
func (h *PageHandler) listData(r *http.Request, user *model.User) (*pageData, error) {
	q := r.URL.Query()
	filter := parseFilter(q)
	filter.RootsOnly = true

	tasks, err := h.tasks.List(r.Context(), user.ID, filter)
	if err != nil {
		return nil, err
	}
	return &pageData{
		Title: "Tasks",
		User:  user,
		Tasks: tasks,
		Filter: filterView{
			Q:           filter.Keyword,
			IsCompleted: filter.Completed.String(),
			IsArchived:  filter.Archived.String(),
		},
	}, nil
}

// HandleTaskList shows the root tasks with the search form and a create form.
//
// HTTP: GET /tasks?q=&is_completed=&is_archived=
func (h *PageHandler) HandleTaskList(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	data, err := h.listData(r, user)
	if err != nil {
		h.renderError(w, r, user, err)
		return
	}
	h.render(w, r, http.StatusOK, "task_list.html", data)
}

// HandleTaskCreate adds a root task.
//
// HTTP: POST /tasks
func (h *PageHandler) HandleTaskCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var form taskForm
	if err := decodeForm(r, &form); err != nil {
		h.renderError(w, r, user, err)
		return
	}

	task, err := h.tasks.Create(r.Context(), user.ID, service.TaskInput{
		Title:       form.Title,
		Description: form.Description,
	})
	if err != nil {
		data, listErr := h.listData(r, user)
		if listErr != nil {
			h.renderError(w, r, user, listErr)
			return
		}
		data.Form = form
		if !applyValidation(data, err) {
			h.renderError(w, r, user, err)
			return
		}
		h.render(w, r, http.StatusBadRequest, "task_list.html", data)
		return
	}

	http.Redirect(w, r, taskURL(task.ID), http.StatusSeeOther)
}

// renderDetail shows a task with its subtasks; failure is a validation
// error from a form posted on the detail page, or nil.
func (h *PageHandler) renderDetail(w http.ResponseWriter, r *http.Request, user *model.User, id int64, failure error) {
	detail, err := h.tasks.Detail(r.Context(), user.ID, id)
	if err != nil {
		h.renderError(w, r, user, err)
		return
	}

	data := &pageData{Title: detail.Task.Title, User: user, Detail: detail}
	status := http.StatusOK
	if failure != nil {
		if !applyValidation(data, failure) {
			h.renderError(w, r, user, failure)
			return
		}
		status = http.StatusBadRequest
	}
	h.render(w, r, status, "task_detail.html", data)
}

// HandleTaskDetail shows one task.
//
// HTTP: GET /tasks/{id}
func (h *PageHandler) HandleTaskDetail(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.renderError(w, r, user, err)
		return
	}
	h.renderDetail(w, r, user, id, nil)
}

// HandleTaskEditForm renders the edit form.
//
// HTTP: GET /tasks/{id}/edit
func (h *PageHandler) HandleTaskEditForm(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.renderError(w, r, user, err)
		return
	}

	task, err := h.tasks.Get(r.Context(), user.ID, id)
	if err != nil {
		h.renderError(w, r, user, err)
		return
	}
	h.render(w, r, http.StatusOK, "task_edit.html", &pageData{
		Title: "Edit " + task.Title,
		User:  user,
		Task:  task,
		Form: taskForm{
			Title:            task.Title,
			Description:      task.Description,
			IsArchived:       task.IsArchived,
			CompletedComment: task.CompletedComment,
		},
	})
}

// HandleTaskEdit saves the edit form.
//
// HTTP: POST /tasks/{id}/edit
func (h *PageHandler) HandleTaskEdit(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.renderError(w, r, user, err)
		return
	}

	var form taskForm
	if err := decodeForm(r, &form); err != nil {
		h.renderError(w, r, user, err)
		return
	}

	_, err = h.tasks.Update(r.Context(), user.ID, id, service.TaskInput{
		Title:            form.Title,
		Description:      form.Description,
		IsArchived:       form.IsArchived,
		CompletedComment: form.CompletedComment,
	})
	if err != nil {
		task, getErr := h.tasks.Get(r.Context(), user.ID, id)
		if getErr != nil {
			h.renderError(w, r, user, getErr)
			return
		}
		data := &pageData{Title: "Edit " + task.Title, User: user, Task: task, Form: form}
		if !applyValidation(data, err) {
			h.renderError(w, r, user, err)
			return
		}
		h.render(w, r, http.StatusBadRequest, "task_edit.html", data)
		return
	}

	http.Redirect(w, r, taskURL(id), http.StatusSeeOther)
}

// HandleTaskDeleteConfirm asks before deleting a task and its subtree.
//
// HTTP: GET /tasks/{id}/delete
func (h *PageHandler) HandleTaskDeleteConfirm(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.renderError(w, r, user, err)
		return
	}

	detail, err := h.tasks.Detail(r.Context(), user.ID, id)
	if err != nil {
		h.renderError(w, r, user, err)
		return
	}
	h.render(w, r, http.StatusOK, "task_delete.html", &pageData{
		Title:  "Delete " + detail.Task.Title,
		User:   user,
		Detail: detail,
	})
}

// HandleTaskDelete deletes the task and returns to its parent, or to the
// list for a root task.
//
// HTTP: POST /tasks/{id}/delete
func (h *PageHandler) HandleTaskDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.renderError(w, r, user, err)
		return
	}

	task, err := h.tasks.Get(r.Context(), user.ID, id)
	if err != nil {
		h.renderError(w, r, user, err)
		return
	}
	if err := h.tasks.Delete(r.Context(), user.ID, id); err != nil {
		h.renderError(w, r, user, err)
		return
	}

	target := "/tasks?notice=deleted"
	if task.ParentID != nil {
		target = taskURL(*task.ParentID) + "?notice=deleted"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// HandleTaskComplete marks the task completed, or re-renders the detail page
// with the reason it cannot be.
//
// HTTP: POST /tasks/{id}/complete
func (h *PageHandler) HandleTaskComplete(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.renderError(w, r, user, err)
		return
	}

	var form completeForm
	if err := decodeForm(r, &form); err != nil {
		h.renderError(w, r, user, err)
		return
	}

	if _, err := h.tasks.Complete(r.Context(), user.ID, id, form.Comment); err != nil {
		h.renderDetail(w, r, user, id, err)
		return
	}
	http.Redirect(w, r, taskURL(id), http.StatusSeeOther)
}

// HandleTaskReopen marks the task open again.
//
// HTTP: POST /tasks/{id}/reopen
func (h *PageHandler) HandleTaskReopen(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.renderError(w, r, user, err)
		return
	}

	if _, err := h.tasks.Reopen(r.Context(), user.ID, id); err != nil {
		h.renderError(w, r, user, err)
		return
	}
	http.Redirect(w, r, taskURL(id), http.StatusSeeOther)
}

// HandleSubtaskCreate adds a subtask under {id}.
//
// HTTP: POST /tasks/{id}/subtasks
func (h *PageHandler) HandleSubtaskCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.renderError(w, r, user, err)
		return
	}

	var form taskForm
	if err := decodeForm(r, &form); err != nil {
		h.renderError(w, r, user, err)
		return
	}

	// A parent that is missing or not the caller's surfaces as a parent_id
	// validation error; show it as a plain 404 page instead.
	if _, err := h.tasks.Get(r.Context(), user.ID, id); err != nil {
		h.renderError(w, r, user, err)
		return
	}

	_, err = h.tasks.Create(r.Context(), user.ID, service.TaskInput{
		Title:       form.Title,
		Description: form.Description,
		ParentID:    &id,
	})
	if err != nil {
		h.renderDetail(w, r, user, id, err)
		return
	}
	http.Redirect(w, r, taskURL(id), http.StatusSeeOther)
}
