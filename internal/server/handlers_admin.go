package server

import (
	"net/http"
)

// HandleReset handles POST /v1/admin/reset.
// Clears process-scoped state: autonomy history and metrics, orchestrator
// tasks and counters, the action queue, the in-memory event log and
// idempotency keys. Persisted records are kept.
func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	before := map[string]any{
		"active_tasks": h.orch.Stats().ActiveTasks,
		"actions":      h.integrator.Len(),
		"decisions":    h.orch.Autonomy().Metrics().DecisionsMade,
		"events":       h.events.Len(),
	}

	h.orch.Reset()
	h.integrator.Reset()
	h.events.Reset()
	h.idempotency.reset()

	// Recorded after the reset so the log keeps who cleared it.
	h.recordMutation(r, "admin_reset", "", before)
	h.logger.Info("process state reset", "cleared", before)

	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  "reset",
		"cleared": before,
	})
}
