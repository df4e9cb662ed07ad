package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-gateway/gateway/internal/domain/auth"
)

func TestVerifier_AcceptsMatchingToken(t *testing.T) {
	hash, err := auth.HashToken("super-secret")
	require.NoError(t, err)

	v := auth.NewVerifier(hash)
	assert.True(t, v.Verify("super-secret"))
}

func TestVerifier_RejectsWrongToken(t *testing.T) {
	hash, err := auth.HashToken("super-secret")
	require.NoError(t, err)

	v := auth.NewVerifier(hash)
	assert.False(t, v.Verify("wrong"))
}

func TestVerifier_RejectsEmptyToken(t *testing.T) {
	hash, err := auth.HashToken("super-secret")
	require.NoError(t, err)

	v := auth.NewVerifier(hash)
	assert.False(t, v.Verify(""))
}

func TestGenerateToken_ProducesDistinctValues(t *testing.T) {
	a, err := auth.GenerateToken()
	require.NoError(t, err)
	b, err := auth.GenerateToken()
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
