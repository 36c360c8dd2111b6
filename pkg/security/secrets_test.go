package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		wantErr bool
	}{
		{name: "self-service login length", length: 16},
		{name: "api token length", length: 64},
		{name: "single char", length: 1},
		{name: "zero length", length: 0, wantErr: true},
		{name: "negative length", length: -5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateToken(tt.length)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, token, tt.length)
			for _, c := range token {
				assert.True(t,
					(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'),
					"token must be alphanumeric, got %q", c)
			}
		})
	}
}

func TestGenerateTokenUnique(t *testing.T) {
	a, err := GenerateToken(64)
	require.NoError(t, err)
	b, err := GenerateToken(64)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifySecret(t *testing.T) {
	secret, err := GenerateToken(64)
	require.NoError(t, err)
	digest := DigestSecret(secret)

	assert.True(t, VerifySecret(secret, digest))
	assert.False(t, VerifySecret(secret+"x", digest))
	assert.False(t, VerifySecret("", digest))
}

func TestSha256Hex(t *testing.T) {
	// Known vector: sha256("hello")
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		Sha256Hex([]byte("hello")))
}
