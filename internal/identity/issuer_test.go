package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	iss, err := NewIssuer()
	require.NoError(t, err)

	seen := make(map[string]bool)
	for range 50 {
		u := iss.NewUser()
		assert.True(t, strings.HasPrefix(u.ID, "user_"))
		assert.NotEmpty(t, u.Username)
		assert.False(t, seen[u.ID], "duplicate id %s", u.ID)
		seen[u.ID] = true
	}
}

func TestNewIssuerWithNames(t *testing.T) {
	_, err := NewIssuerWithNames(nil)
	assert.Error(t, err)

	iss, err := NewIssuerWithNames([]string{"Solo"})
	require.NoError(t, err)
	assert.Equal(t, "Solo", iss.NewUser().Username)
}
