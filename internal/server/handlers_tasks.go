package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/orchestrator"
)

// HandleSubmitTask handles POST /v1/tasks.
// The task runs in the background; poll GET /v1/tasks/{id} for the result.
// An Idempotency-Key header makes retries return the original task id.
func (h *Handlers) HandleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitTaskRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	req.Repository = strings.TrimSpace(req.Repository)
	if req.Repository == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "repository is required")
		return
	}
	action, err := model.ParseTaskAction(req.Action)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if req.IssueNumber != nil && *req.IssueNumber <= 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "issue_number must be positive")
		return
	}

	idem, proceed := h.beginIdempotentWrite(w, r, "POST:/v1/tasks", req)
	if !proceed {
		return
	}

	taskID, err := h.tasks.Submit(r.Context(), orchestrator.Request{
		Repository:  req.Repository,
		IssueNumber: req.IssueNumber,
		Action:      action,
	})
	if err != nil {
		h.clearIdempotentWrite(idem)
		if errors.Is(err, orchestrator.ErrDraining) {
			writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "server is shutting down")
			return
		}
		h.writeInternalError(w, r, "failed to submit task", err)
		return
	}

	resp := model.SubmitTaskResponse{TaskID: taskID, Status: model.TaskRunning}
	h.completeIdempotentWrite(idem, http.StatusAccepted, resp)
	h.recordMutation(r, "task_submitted", taskID, map[string]any{
		"repository": req.Repository,
		"action":     string(action),
	})
	if t, ok := h.orch.Task(taskID); ok {
		h.fireTaskHooks(t)
	}

	w.Header().Set("Location", "/v1/tasks/"+taskID)
	writeJSON(w, r, http.StatusAccepted, resp)
}

// HandleGetTask handles GET /v1/tasks/{id}.
func (h *Handlers) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, err := h.tasks.Status(r.Context(), id)
	if err != nil {
		h.writeInternalError(w, r, "failed to load task", err)
		return
	}
	if task.Status == model.TaskNotFound {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "task not found: "+id)
		return
	}
	writeJSON(w, r, http.StatusOK, task)
}

// HandleStats handles GET /v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, model.StatsResponse{
		Stats:     h.orch.Stats(),
		Threshold: h.orch.Threshold(),
	})
}
