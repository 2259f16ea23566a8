package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasherRoundTrip(t *testing.T) {
	hasher := &BcryptHasher{Cost: bcrypt.MinCost}

	hash, err := hasher.Hash("secret1")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", hash)

	assert.True(t, hasher.Compare(hash, "secret1"))
	assert.False(t, hasher.Compare(hash, "secret2"))
	assert.False(t, hasher.Compare("", "secret1"))
}

func TestBcryptHasherSaltsEachHash(t *testing.T) {
	hasher := &BcryptHasher{Cost: bcrypt.MinCost}

	first, err := hasher.Hash("secret1")
	require.NoError(t, err)
	second, err := hasher.Hash("secret1")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestNewBcryptHasherDefaultsCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).Cost)
	assert.Equal(t, 12, NewBcryptHasher(12).Cost)
}
