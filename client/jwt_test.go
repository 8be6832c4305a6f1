package client

import (
	"strings"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
)

const testSecretKey = "Qo3vEr0NdR6kSgWj2FzM4x8yBpHu1cAa"

func TestClaimsBearer(t *testing.T) {
	c := claims{AccessKey: "access", QueryHash: "deadbeef", QueryHashAlg: "SHA512"}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(testSecretKey))
	assert.NoError(t, err)

	token, err := c.bearer(testSecretKey)
	assert.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, "Bearer "))
	assert.Equal(t, "Bearer "+signed, token)
}
