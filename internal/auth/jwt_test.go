package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func TestGenerateAndValidateJWT(t *testing.T) {
	token, err := GenerateJWT("64f0c1e2a1b2c3d4e5f60789", "alice", "alice@example.com", "user", testSecret, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateJWT(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "64f0c1e2a1b2c3d4e5f60789", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "user", claims.Role)
	assert.False(t, claims.IsAdmin())
}

func TestValidateJWT_AdminRole(t *testing.T) {
	token, err := GenerateJWT("64f0c1e2a1b2c3d4e5f60789", "root", "root@example.com", "admin", testSecret, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateJWT(token, testSecret)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin())
}

func TestValidateJWT_WrongSecret(t *testing.T) {
	token, err := GenerateJWT("64f0c1e2a1b2c3d4e5f60789", "alice", "alice@example.com", "user", testSecret, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateJWT(token, "some-other-secret")
	assert.Error(t, err)
	assert.Nil(t, claims)
	assert.False(t, errors.Is(err, ErrTokenExpired))
}

func TestValidateJWT_Expired(t *testing.T) {
	token, err := GenerateJWT("64f0c1e2a1b2c3d4e5f60789", "alice", "alice@example.com", "user", testSecret, -time.Minute)
	require.NoError(t, err)

	claims, err := ValidateJWT(token, testSecret)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateJWT_Garbage(t *testing.T) {
	claims, err := ValidateJWT("not.a.token", testSecret)
	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)

	assert.True(t, CheckPasswordHash("hunter22", hash))
	assert.False(t, CheckPasswordHash("hunter23", hash))
}
