package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_IssueAndValidateRoundTrip(t *testing.T) {
	v := NewValidator("test-secret")

	token, err := v.Issue("user-1", time.Hour)
	require.NoError(t, err)

	claims, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestValidator_RejectsExpiredToken(t *testing.T) {
	v := NewValidator("test-secret")

	token, err := v.Issue("user-1", -time.Minute)
	require.NoError(t, err)

	_, err = v.Validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidator_RejectsWrongSecret(t *testing.T) {
	issuer := NewValidator("secret-a")
	verifier := NewValidator("secret-b")

	token, err := issuer.Issue("user-1", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidator_RejectsGarbage(t *testing.T) {
	v := NewValidator("test-secret")
	_, err := v.Validate("not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
}
