package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/proof"
)

// HandleMetrics handles GET /aksi/metrics.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	stats := h.orch.Stats()
	writeJSON(w, r, http.StatusOK, model.MetricsResponse{
		RequestsServed:  h.requestsServed.Load(),
		IssuesSolved:    stats.IssuesCreated,
		UptimeSeconds:   int64(time.Since(h.startedAt).Seconds()),
		AutonomyMetrics: stats.AutonomyMetrics,
		EventsRecorded:  h.events.Total(),
		PendingActions:  len(h.integrator.Pending()),
		Timestamp:       time.Now().UTC(),
	})
}

// HandleProof handles GET /aksi/proof.
func (h *Handlers) HandleProof(w http.ResponseWriter, r *http.Request) {
	summary, err := h.proofs.Summary(r.Context(), proof.DefaultHistory)
	if err != nil {
		h.writeInternalError(w, r, "failed to load proofs", err)
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}

// HandleStableProof handles POST /aksi/proof/stable.
func (h *Handlers) HandleStableProof(w http.ResponseWriter, r *http.Request) {
	var req model.StableProofRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Signature) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "signature is required")
		return
	}
	if len(req.Signature) > model.MaxTitleLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "signature is too long")
		return
	}

	p, err := h.proofs.Record(r.Context(), req.Signature, req.Timestamp, req.Metrics)
	if err != nil {
		h.writeInternalError(w, r, "failed to record proof", err)
		return
	}
	total, err := h.proofs.Count(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to count proofs", err)
		return
	}
	h.recordMutation(r, "proof_recorded", p.ID, nil)

	writeJSON(w, r, http.StatusCreated, model.StableProofResponse{
		Status:      "proof_recorded",
		Entry:       p,
		TotalProofs: total,
	})
}

// defaultLogLimit is the number of entries GET /aksi/logs returns by default.
const defaultLogLimit = 100

// HandleLogs handles GET /aksi/logs.
func (h *Handlers) HandleLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultLogLimit)

	var level model.LogLevel
	if v := r.URL.Query().Get("level"); v != "" {
		parsed, err := model.ParseLogLevel(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
		level = parsed
	}

	logs, filtered := h.events.Filter(level, limit)
	if logs == nil {
		logs = []model.LogEntry{}
	}
	writeJSON(w, r, http.StatusOK, model.LogsResponse{
		Logs:     logs,
		Total:    h.events.Len(),
		Filtered: filtered,
		Limit:    limit,
		Level:    level,
	})
}

// HandleAppendLog handles POST /aksi/logs/append.
func (h *Handlers) HandleAppendLog(w http.ResponseWriter, r *http.Request) {
	var req model.AppendLogRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	level, _ := model.ParseLogLevel(req.Level)

	entry := h.events.Append(r.Context(), level, req.Message, auditPayload(r, req.Context))
	writeJSON(w, r, http.StatusCreated, model.AppendLogResponse{
		Status:    "log_appended",
		Entry:     entry,
		TotalLogs: h.events.Len(),
	})
}

// HandleExportLogs handles GET /aksi/logs/export?format=json|txt.
// An optional since=YYYY-MM-DD keeps entries from that day on (json only).
func (h *Handlers) HandleExportLogs(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	switch format {
	case "json":
		logs := h.events.Recent(0)
		if since := r.URL.Query().Get("since"); since != "" {
			kept := logs[:0:0]
			for _, e := range logs {
				if e.Timestamp.Format(time.DateOnly) >= since {
					kept = append(kept, e)
				}
			}
			logs = kept
		}
		if logs == nil {
			logs = []model.LogEntry{}
		}
		writeJSON(w, r, http.StatusOK, model.LogsExportResponse{
			Logs:       logs,
			Total:      len(logs),
			ExportedAt: time.Now().UTC(),
		})
	case "txt":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="aksi_logs.txt"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(h.events.ExportText()))
	default:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unsupported format: "+format+" (expected json or txt)")
	}
}

// sseKeepalive is the comment-frame interval on idle event streams.
const sseKeepalive = 15 * time.Second

// HandleEvents handles GET /aksi/events (SSE).
// ?level= restricts the stream to entries at or above that level.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "event stream not available")
		return
	}

	var minLevel model.LogLevel
	if raw := r.URL.Query().Get("level"); raw != "" {
		lvl, err := model.ParseLogLevel(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
		minLevel = lvl
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	ch := h.broker.Subscribe(minLevel)
	defer h.broker.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Long-lived stream: lift the server's WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
