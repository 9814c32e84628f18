package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/task-manager/internal/apperror"
	"github.com/sakif/task-manager/internal/auth"
	"github.com/sakif/task-manager/internal/model"
	"github.com/sakif/task-manager/internal/service"
)

// TaskAPIHandler serves the JSON task endpoints under /api/tasks.
//
// Every route sits behind auth.RequireAuth, so the caller's id is always in
// the request context. The handler passes that id to TaskService, which
// enforces ownership.
type TaskAPIHandler struct {
	tasks    *service.TaskService
	accounts *service.AccountService
	logger   *slog.Logger
}

func NewTaskAPIHandler(tasks *service.TaskService, accounts *service.AccountService, logger *slog.Logger) *TaskAPIHandler {
	return &TaskAPIHandler{tasks: tasks, accounts: accounts, logger: logger}
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ParentID    *int64 `json:"parent_id"`
	IsArchived  bool   `json:"is_archived"`
}

type updateTaskRequest struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	IsArchived       bool   `json:"is_archived"`
	CompletedComment string `json:"completed_comment"`
}

type completeTaskRequest struct {
	Comment string `json:"comment"`
}

type taskListResponse struct {
	Tasks []model.Task `json:"tasks"`
}

func callerID(r *http.Request) int64 {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

// HandleList returns the caller's tasks.
//
// HTTP: GET /api/tasks?q=&is_completed=&is_archived=&user_id=
//
// user_id is only honoured for admins; a non-admin asking for someone else's
// tasks gets 403. Admins omitting user_id see every task.
func (h *TaskAPIHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	uid := callerID(r)
	filter := parseFilter(r.URL.Query())

	var target *int64
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, h.logger, apperror.ValidationFailed("user_id", "user_id must be a positive integer"))
			return
		}
		target = &id
	}

	var (
		tasks []model.Task
		err   error
	)
	if target != nil && *target == uid {
		tasks, err = h.tasks.List(r.Context(), uid, filter)
	} else {
		caller, lookupErr := h.accounts.GetUserByID(r.Context(), uid)
		switch {
		case lookupErr != nil:
			err = lookupErr
		case caller.IsAdmin:
			filter.OwnerID = target
			tasks, err = h.tasks.ListAll(r.Context(), filter)
		case target != nil:
			err = apperror.Forbidden("only administrators may list other users' tasks")
		default:
			tasks, err = h.tasks.List(r.Context(), uid, filter)
		}
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, taskListResponse{Tasks: tasks})
}

// HandleCreate adds a task (or a subtask when parent_id is set).
//
// HTTP: POST /api/tasks
// REQUEST BODY: {"title": "...", "description": "...", "parent_id": 3}
func (h *TaskAPIHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	task, err := h.tasks.Create(r.Context(), callerID(r), service.TaskInput{
		Title:       req.Title,
		Description: req.Description,
		ParentID:    req.ParentID,
		IsArchived:  req.IsArchived,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.Header().Set("Location", "/api/tasks/"+strconv.FormatInt(task.ID, 10))
	writeJSON(w, http.StatusCreated, task)
}

// HandleGet returns one task.
//
// HTTP: GET /api/tasks/{id}
func (h *TaskAPIHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	task, err := h.tasks.Get(r.Context(), callerID(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// HandleUpdate replaces the editable fields of a task. Completion state is
// not editable here; use /complete and /reopen.
//
// HTTP: PUT /api/tasks/{id}
func (h *TaskAPIHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req updateTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	task, err := h.tasks.Update(r.Context(), callerID(r), id, service.TaskInput{
		Title:            req.Title,
		Description:      req.Description,
		IsArchived:       req.IsArchived,
		CompletedComment: req.CompletedComment,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// HandleDelete removes a task and all its subtasks.
//
// HTTP: DELETE /api/tasks/{id} → 204
func (h *TaskAPIHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.tasks.Delete(r.Context(), callerID(r), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSubtasks lists the direct subtasks of a task, newest first.
//
// HTTP: GET /api/tasks/{id}/subtasks
func (h *TaskAPIHandler) HandleSubtasks(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	tasks, err := h.tasks.Subtasks(r.Context(), callerID(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, taskListResponse{Tasks: tasks})
}

// HandleComplete marks a task completed.
//
// HTTP: POST /api/tasks/{id}/complete
// REQUEST BODY (optional): {"comment": "..."}
//
// Returns 400 validation_error with field "subtasks" while any direct
// subtask is open.
func (h *TaskAPIHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req completeTaskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, h.logger, apperror.ValidationFailed("body", "request body must be a valid JSON object"))
		return
	}

	task, err := h.tasks.Complete(r.Context(), callerID(r), id, req.Comment)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// HandleReopen marks a task open again.
//
// HTTP: POST /api/tasks/{id}/reopen
func (h *TaskAPIHandler) HandleReopen(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	task, err := h.tasks.Reopen(r.Context(), callerID(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
