package server

import (
	"net/http"
	"strings"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
)

// HandleValidateIssue handles POST /v1/validate/issue.
func (h *Handlers) HandleValidateIssue(w http.ResponseWriter, r *http.Request) {
	var req model.ValidateIssueRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	result := h.validator.ValidateIssue(r.Context(), req.Title, req.Body, req.Labels, req.ExistingIssues)
	writeJSON(w, r, http.StatusOK, result)
}

// HandleValidatePR handles POST /v1/validate/pr.
func (h *Handlers) HandleValidatePR(w http.ResponseWriter, r *http.Request) {
	var req model.ValidatePRRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	result := h.validator.ValidatePR(r.Context(), req.Title, req.Body, req.FilesChanged, req.TargetBranch)
	writeJSON(w, r, http.StatusOK, result)
}

// HandleCausality handles POST /v1/causality.
func (h *Handlers) HandleCausality(w http.ResponseWriter, r *http.Request) {
	var req model.CausalityRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, h.causality.Analyze(r.Context(), req.IssueContext, req.ResearchData))
}

// HandleEvaluateDecision handles POST /v1/decisions.
func (h *Handlers) HandleEvaluateDecision(w http.ResponseWriter, r *http.Request) {
	var req model.EvaluateDecisionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	req.ProposedAction = strings.TrimSpace(req.ProposedAction)
	if req.ProposedAction == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "proposed_action is required")
		return
	}
	if len(req.ProposedAction) > model.MaxTitleLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "proposed_action is too long")
		return
	}

	decision := h.orch.Autonomy().Evaluate(r.Context(), req.Context, req.ProposedAction, req.Alternatives)
	if h.store != nil {
		if err := h.store.SaveDecision(r.Context(), decision); err != nil {
			h.logger.Warn("persist decision failed", "decision_id", decision.ID, "error", err)
		}
	}
	h.fireDecisionHooks(decision)

	threshold := h.orch.Threshold()
	writeJSON(w, r, http.StatusCreated, model.EvaluateDecisionResponse{
		Decision:  decision,
		Threshold: threshold,
		ShouldAct: decision.Confidence >= threshold,
	})
}

// HandleDecisionOutcome handles POST /v1/decisions/{id}/outcome.
// Unknown ids are accepted; the outcome still counts toward the success rate.
func (h *Handlers) HandleDecisionOutcome(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req model.OutcomeRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	engine := h.orch.Autonomy()
	_, known := engine.Lookup(id)
	engine.Reflect(r.Context(), id, req.Success)
	h.recordMutation(r, "decision_outcome", id, map[string]any{"success": req.Success, "known": known})

	writeJSON(w, r, http.StatusOK, map[string]any{
		"decision_id":  id,
		"success":      req.Success,
		"known":        known,
		"success_rate": engine.SuccessRate(),
		"metrics":      engine.Metrics(),
	})
}

// HandleDecisionsRecent handles GET /v1/decisions/recent.
// source=store reads persisted decisions instead of the in-memory history.
func (h *Handlers) HandleDecisionsRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 20)

	var decisions []model.Decision
	if r.URL.Query().Get("source") == "store" && h.store != nil {
		stored, err := h.store.RecentDecisions(r.Context(), limit)
		if err != nil {
			h.writeInternalError(w, r, "failed to load decisions", err)
			return
		}
		decisions = stored
	} else {
		decisions = h.orch.Autonomy().History(limit)
	}
	if decisions == nil {
		decisions = []model.Decision{}
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"decisions": decisions,
		"total":     len(decisions),
	})
}
