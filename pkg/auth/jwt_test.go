package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/queue-api/internal/model"
)

func testAccount() *model.Account {
	return &model.Account{
		Base:  model.Base{ID: uuid.New()},
		Name:  "Dr. Rao",
		Email: "rao@example.com",
		Role:  model.RoleDoctor,
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := NewJWTService(JWTConfig{Secret: "access-secret", RefreshSecret: "refresh-secret"})
	account := testAccount()

	token, err := svc.GenerateAccessToken(account)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.AccountID)
	assert.Equal(t, account.Email, claims.Email)
	assert.Equal(t, account.Name, claims.Name)
	assert.Equal(t, model.RoleDoctor, claims.Role)
}

func TestTokenSecretsAreNotInterchangeable(t *testing.T) {
	svc := NewJWTService(JWTConfig{Secret: "access-secret", RefreshSecret: "refresh-secret"})
	account := testAccount()

	access, err := svc.GenerateAccessToken(account)
	require.NoError(t, err)
	refresh, err := svc.GenerateRefreshToken(account)
	require.NoError(t, err)

	_, err = svc.ValidateToken(refresh)
	assert.Error(t, err)
	_, err = svc.ValidateRefreshToken(access)
	assert.Error(t, err)

	claims, err := svc.ValidateRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.AccountID)
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	svc := NewJWTService(JWTConfig{Secret: "access-secret", RefreshSecret: "refresh-secret"})

	token, err := svc.GenerateAccessToken(testAccount())
	require.NoError(t, err)

	_, err = svc.ValidateToken(token + "x")
	assert.Error(t, err)

	other := NewJWTService(JWTConfig{Secret: "different", RefreshSecret: "different"})
	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}
