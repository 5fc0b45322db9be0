package ctxutil

import "context"

// AuditMeta identifies who triggered a state change. It is attached to the
// event log payload of mutating HTTP and MCP calls.
type AuditMeta struct {
	RequestID string
	Subject   string
	Role      string
	Source    string
}

// AuditFromContext builds AuditMeta for source ("http" or "mcp").
func AuditFromContext(ctx context.Context, source string) AuditMeta {
	m := AuditMeta{RequestID: RequestIDFromContext(ctx), Source: source}
	if c := ClaimsFromContext(ctx); c != nil {
		m.Subject = c.Subject
		m.Role = string(c.Role)
	}
	return m
}

// Payload merges the audit fields into payload under the "actor" key.
// A nil payload is allocated.
func (m AuditMeta) Payload(payload map[string]any) map[string]any {
	if payload == nil {
		payload = map[string]any{}
	}
	actor := map[string]any{"source": m.Source}
	if m.RequestID != "" {
		actor["request_id"] = m.RequestID
	}
	if m.Subject != "" {
		actor["subject"] = m.Subject
		actor["role"] = m.Role
	}
	payload["actor"] = actor
	return payload
}
