package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager(t *testing.T) {
	tm := NewTokenManager()

	jt, err := tm.GenerateToken(time.Hour)
	require.NoError(t, err)
	assert.Len(t, jt.Token, 64)
	assert.NoError(t, tm.ValidateToken(jt.Token))

	assert.Error(t, tm.ValidateToken("not-a-token"))

	tm.RevokeToken(jt.Token)
	assert.Error(t, tm.ValidateToken(jt.Token))
}

func TestTokenExpiry(t *testing.T) {
	tm := NewTokenManager()

	jt, err := tm.GenerateToken(10 * time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	assert.EqualError(t, tm.ValidateToken(jt.Token), "token expired")

	tm.CleanupExpiredTokens()
	assert.EqualError(t, tm.ValidateToken(jt.Token), "invalid token")
}
