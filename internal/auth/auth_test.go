package auth_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konard/MILANA808-Milana-backend/internal/auth"
	"github.com/konard/MILANA808-Milana-backend/internal/model"
)

func TestHashAndVerifyAPIKey(t *testing.T) {
	hash, err := auth.HashAPIKey("test-key-123")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	valid, err := auth.VerifyAPIKey("test-key-123", hash)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = auth.VerifyAPIKey("wrong-key", hash)
	require.NoError(t, err)
	assert.False(t, valid)

	_, err = auth.VerifyAPIKey("test-key-123", "no-separator")
	assert.Error(t, err)
}

func TestAdminKey(t *testing.T) {
	key, err := auth.NewAdminKey("s3cret")
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.True(t, key.Verify("s3cret"))
	assert.False(t, key.Verify("guess"))
	assert.False(t, key.Verify(""))

	disabled, err := auth.NewAdminKey("")
	require.NoError(t, err)
	assert.Nil(t, disabled)
	assert.False(t, disabled.Verify("anything"))
}

func TestJWTIssueAndValidate(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", 1*time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := mgr.IssueToken("admin", model.RoleAdmin)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, model.RoleAdmin, claims.Role)
	assert.Equal(t, auth.Issuer, claims.Issuer)

	_, _, err = mgr.IssueToken("  ", model.RoleReader)
	assert.Error(t, err)
}

func TestValidateToken_OtherManager(t *testing.T) {
	a, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	b, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	token, _, err := a.IssueToken("admin", model.RoleAdmin)
	require.NoError(t, err)
	_, err = b.ValidateToken(token)
	assert.Error(t, err)
}

// newTestJWTManagerWithKey creates a JWTManager backed by a real Ed25519 key pair
// written to temp PEM files, and returns the raw private key for forging tokens.
func newTestJWTManagerWithKey(t *testing.T) (*auth.JWTManager, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	dir := t.TempDir()

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	privPath := filepath.Join(dir, "priv.pem")
	require.NoError(t, os.WriteFile(privPath, privPEM, 0600))

	pubBytes, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	pubPath := filepath.Join(dir, "pub.pem")
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0600))

	mgr, err := auth.NewJWTManager(privPath, pubPath, time.Hour)
	require.NoError(t, err)
	return mgr, priv
}

// forgeToken signs a JWT with the given private key and claims.
func forgeToken(t *testing.T, privKey ed25519.PrivateKey, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(privKey)
	require.NoError(t, err)
	return signed
}

func forgedClaims(subject, issuer string, role model.Role) *auth.Claims {
	now := time.Now().UTC()
	return &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{auth.Issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		Role: role,
	}
}

func TestValidateToken_Rejections(t *testing.T) {
	mgr, privKey := newTestJWTManagerWithKey(t)

	tests := []struct {
		name    string
		claims  *auth.Claims
		wantErr string
	}{
		{"wrong issuer", forgedClaims("admin", "not-aksi", model.RoleAdmin), "invalid issuer"},
		{"empty issuer", forgedClaims("admin", "", model.RoleAdmin), "invalid issuer"},
		{"empty subject", forgedClaims("", auth.Issuer, model.RoleAdmin), "invalid subject"},
		{"unknown role", forgedClaims("admin", auth.Issuer, model.Role("root")), "invalid role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.ValidateToken(forgeToken(t, privKey, tt.claims))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("wrong audience", func(t *testing.T) {
		c := forgedClaims("admin", auth.Issuer, model.RoleAdmin)
		c.Audience = jwt.ClaimStrings{"someone-else"}
		_, err := mgr.ValidateToken(forgeToken(t, privKey, c))
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		c := forgedClaims("admin", auth.Issuer, model.RoleAdmin)
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		_, err := mgr.ValidateToken(forgeToken(t, privKey, c))
		assert.Error(t, err)
	})

	t.Run("forged with valid claims passes", func(t *testing.T) {
		claims, err := mgr.ValidateToken(forgeToken(t, privKey, forgedClaims("ci", auth.Issuer, model.RoleReader)))
		require.NoError(t, err)
		assert.Equal(t, model.RoleReader, claims.Role)
	})
}

func TestWriteKeyPair(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	priv := filepath.Join(dir, "jwt_private.pem")
	pub := filepath.Join(dir, "jwt_public.pem")

	require.NoError(t, auth.WriteKeyPair(priv, pub))

	info, err := os.Stat(priv)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	mgr, err := auth.NewJWTManager(priv, pub, time.Hour)
	require.NoError(t, err)
	token, _, err := mgr.IssueToken("admin", model.RoleAdmin)
	require.NoError(t, err)
	_, err = mgr.ValidateToken(token)
	require.NoError(t, err)

	assert.ErrorIs(t, auth.WriteKeyPair(priv, pub), auth.ErrKeyExists)
}

func TestNewJWTManager_MismatchedKeys(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, auth.WriteKeyPair(filepath.Join(dir, "a.pem"), filepath.Join(dir, "a.pub")))
	require.NoError(t, auth.WriteKeyPair(filepath.Join(dir, "b.pem"), filepath.Join(dir, "b.pub")))

	_, err := auth.NewJWTManager(filepath.Join(dir, "a.pem"), filepath.Join(dir, "b.pub"), time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}
