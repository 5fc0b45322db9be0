package server

import (
	"errors"
	"net/http"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/integrator"
)

// HandleListActions handles GET /v1/actions.
// Returns the pending integration actions, oldest first.
func (h *Handlers) HandleListActions(w http.ResponseWriter, r *http.Request) {
	pending := h.integrator.Pending()
	writeJSON(w, r, http.StatusOK, map[string]any{
		"actions": pending,
		"total":   len(pending),
	})
}

// HandleCompleteAction handles POST /v1/actions/{id}/complete.
func (h *Handlers) HandleCompleteAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	action, err := h.integrator.MarkCompleted(r.Context(), id)
	if errors.Is(err, integrator.ErrActionNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "action not found: "+id)
		return
	}
	if err != nil {
		h.writeInternalError(w, r, "failed to complete action", err)
		return
	}
	h.recordMutation(r, "action_completed", id, nil)
	writeJSON(w, r, http.StatusOK, action)
}

// HandleClearCompletedActions handles DELETE /v1/actions/completed.
func (h *Handlers) HandleClearCompletedActions(w http.ResponseWriter, r *http.Request) {
	removed := h.integrator.ClearCompleted()
	h.recordMutation(r, "actions_cleared", "", map[string]any{"removed": removed})
	writeJSON(w, r, http.StatusOK, map[string]any{
		"removed":   removed,
		"remaining": h.integrator.Len(),
	})
}

// HandleSuggestLabels handles POST /v1/labels/suggest.
func (h *Handlers) HandleSuggestLabels(w http.ResponseWriter, r *http.Request) {
	var req model.SuggestLabelsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	check := model.ValidateIssueRequest{Title: req.Title, Body: req.Body}
	if err := check.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"labels": integrator.SuggestLabels(req.Title, req.Body, req.ExistingLabels),
	})
}
