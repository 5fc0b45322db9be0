package ctxutil_test

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/konard/MILANA808-Milana-backend/internal/auth"
	"github.com/konard/MILANA808-Milana-backend/internal/ctxutil"
	"github.com/konard/MILANA808-Milana-backend/internal/model"
)

func TestClaimsRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ctxutil.ClaimsFromContext(ctx))
	assert.Empty(t, ctxutil.SubjectFromContext(ctx))

	claims := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "admin"}, Role: model.RoleAdmin}
	ctx = ctxutil.WithClaims(ctx, claims)
	assert.Same(t, claims, ctxutil.ClaimsFromContext(ctx))
	assert.Equal(t, "admin", ctxutil.SubjectFromContext(ctx))
}

func TestAuditPayload(t *testing.T) {
	anon := ctxutil.AuditFromContext(ctxutil.WithRequestID(context.Background(), "req-1"), "http")
	p := anon.Payload(nil)
	assert.Equal(t, map[string]any{"source": "http", "request_id": "req-1"}, p["actor"])

	ctx := ctxutil.WithClaims(context.Background(),
		&auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "ci"}, Role: model.RoleReader})
	p = ctxutil.AuditFromContext(ctx, "mcp").Payload(map[string]any{"level": "INFO"})
	assert.Equal(t, "INFO", p["level"])
	assert.Equal(t, map[string]any{"source": "mcp", "subject": "ci", "role": "reader"}, p["actor"])
}
