package jwttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
)

const testSigningKey = "test-signing-key-with-enough-entropy"

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService(testSigningKey, "custos", "custos-api")
	tenantID := id.NewTenantID()
	userID := id.NewUserID()
	sessionID := id.NewSessionID()

	token, err := svc.GenerateAccessToken(tenantID, userID, "admin", sessionID, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, tenantID.String(), claims.TenantID)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, sessionID.String(), claims.SessionID)
	assert.Equal(t, "custos", claims.Issuer)
}

func TestValidateToken_Expired(t *testing.T) {
	svc := NewJWTService(testSigningKey, "custos", "custos-api")
	token, err := svc.GenerateAccessToken(id.NewTenantID(), id.NewUserID(), "admin", id.NewSessionID(), -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateToken_WrongKey(t *testing.T) {
	svc := NewJWTService(testSigningKey, "custos", "custos-api")
	other := NewJWTService("a-different-signing-key-entirely!", "custos", "custos-api")

	token, err := other.GenerateAccessToken(id.NewTenantID(), id.NewUserID(), "admin", id.NewSessionID(), time.Hour)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateToken_RejectsUnsignedAlgorithm(t *testing.T) {
	svc := NewJWTService(testSigningKey, "custos", "custos-api")

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		TenantID: id.NewTenantID().String(),
		Role:     "super_admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateToken_Garbage(t *testing.T) {
	svc := NewJWTService(testSigningKey, "custos", "custos-api")
	_, err := svc.ValidateToken("not.a.token")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
