package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTProviderReturnsSubject(t *testing.T) {
	p, err := NewJWTProvider("s3cret", "linkbio")
	require.NoError(t, err)
	token := sign(t, "s3cret", jwt.RegisteredClaims{
		Subject:   "user-7",
		Issuer:    "linkbio",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	userID, err := p.CurrentUserID(context.Background(), "Bearer "+token)

	require.NoError(t, err)
	assert.Equal(t, "user-7", userID)
}

func TestJWTProviderRejectsBadTokens(t *testing.T) {
	p, err := NewJWTProvider("s3cret", "")
	require.NoError(t, err)
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	cases := map[string]string{
		"empty":        "",
		"wrong secret": sign(t, "other", jwt.RegisteredClaims{Subject: "u", ExpiresAt: future}),
		"expired":      sign(t, "s3cret", jwt.RegisteredClaims{Subject: "u", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}),
		"no expiry":    sign(t, "s3cret", jwt.RegisteredClaims{Subject: "u"}),
		"no subject":   sign(t, "s3cret", jwt.RegisteredClaims{ExpiresAt: future}),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.CurrentUserID(context.Background(), token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewJWTProviderRequiresSecret(t *testing.T) {
	_, err := NewJWTProvider("", "")
	require.Error(t, err)
}

func TestStripBearer(t *testing.T) {
	assert.Equal(t, "abc", StripBearer("Bearer abc"))
	assert.Equal(t, "abc", StripBearer("bearer  abc "))
	assert.Equal(t, "abc", StripBearer("abc"))
}
