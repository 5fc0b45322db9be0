package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/bot"
	"github.com/konard/MILANA808-Milana-backend/internal/service/orchestrator"
)

// HandleBotCommand handles POST /v1/bot/commands.
// Unknown commands are answered with 200 and known=false.
func (h *Handlers) HandleBotCommand(w http.ResponseWriter, r *http.Request) {
	var req model.BotCommandRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	command := strings.TrimPrefix(strings.TrimSpace(req.Command), "/aksi ")
	if command == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "command is required")
		return
	}
	writeJSON(w, r, http.StatusOK, h.bot.HandleCommand(r.Context(), command, req.IssueNumber))
}

// HandleBotSolve handles POST /v1/bot/solve.
func (h *Handlers) HandleBotSolve(w http.ResponseWriter, r *http.Request) {
	var req model.BotSolveRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	idem, proceed := h.beginIdempotentWrite(w, r, "POST:/v1/bot/solve", req)
	if !proceed {
		return
	}

	res, err := h.bot.Solve(r.Context(), strings.TrimSpace(req.IssueURL))
	switch {
	case errors.Is(err, bot.ErrInvalidURL):
		h.clearIdempotentWrite(idem)
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	case errors.Is(err, orchestrator.ErrDraining):
		h.clearIdempotentWrite(idem)
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "server is shutting down")
		return
	case err != nil:
		h.clearIdempotentWrite(idem)
		h.writeInternalError(w, r, "failed to start solve", err)
		return
	}

	h.completeIdempotentWrite(idem, http.StatusAccepted, res)
	if t, ok := h.orch.Task(res.TaskID); ok {
		h.fireTaskHooks(t)
	}
	writeJSON(w, r, http.StatusAccepted, res)
}

// HandleBotTriage handles POST /v1/bot/triage.
func (h *Handlers) HandleBotTriage(w http.ResponseWriter, r *http.Request) {
	var req model.BotTriageRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Repository) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "repository is required")
		return
	}
	if req.IssueNumber <= 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "issue_number must be positive")
		return
	}
	check := model.ValidateIssueRequest{Title: req.Title, Body: req.Body}
	if err := check.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	writeJSON(w, r, http.StatusOK, h.bot.Triage(r.Context(), req.Repository, req.IssueNumber, req.Title, req.Body))
}
