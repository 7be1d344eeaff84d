package user

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	u := &User{PasswordHash: hash}
	assert.True(t, u.CheckPassword("s3cret"))
	assert.False(t, u.CheckPassword("wrong"))
	assert.False(t, (&User{}).CheckPassword(""))
}

func TestDisplayName(t *testing.T) {
	var nobody *User
	assert.Equal(t, "system", nobody.DisplayName())
	assert.Equal(t, "a@example.com", (&User{Email: "a@example.com"}).DisplayName())
	assert.Equal(t, "Ada", (&User{Name: "Ada", Email: "a@example.com"}).DisplayName())
}
