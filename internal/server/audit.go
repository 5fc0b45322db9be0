package server

import (
	"maps"
	"net/http"

	"github.com/konard/MILANA808-Milana-backend/internal/ctxutil"
	"github.com/konard/MILANA808-Milana-backend/internal/model"
)

// auditPayload copies payload and attaches the caller identity under
// "actor". The caller's map is never mutated.
func auditPayload(r *http.Request, payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload)+1)
	maps.Copy(out, payload)
	return ctxutil.AuditFromContext(r.Context(), "http").Payload(out)
}

// recordMutation appends an http_<operation> event for a state-changing
// request. Event log writes never fail the request.
func (h *Handlers) recordMutation(r *http.Request, operation, resourceID string, metadata map[string]any) {
	payload := map[string]any{
		"method":   r.Method,
		"endpoint": r.URL.Path,
	}
	if resourceID != "" {
		payload["resource_id"] = resourceID
	}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}
	h.events.Record(r.Context(), model.LevelInfo, "http_"+operation, auditPayload(r, payload))
}
