// Package auth resolves the user that owns a session token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Provider resolves the current user id from a session token.
type Provider interface {
	CurrentUserID(ctx context.Context, token string) (string, error)
}

// JWTProvider validates HMAC-signed tokens locally and reads the user id from
// the subject claim.
type JWTProvider struct {
	secret []byte
	issuer string
}

// NewJWTProvider constructs a JWTProvider. An empty issuer is not checked.
func NewJWTProvider(secret, issuer string) (*JWTProvider, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &JWTProvider{secret: []byte(secret), issuer: issuer}, nil
}

// CurrentUserID implements Provider.
func (p *JWTProvider) CurrentUserID(ctx context.Context, token string) (string, error) {
	token = StripBearer(token)
	if token == "" {
		return "", ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return sub, nil
}

// StripBearer accepts either a raw token or an Authorization header value.
func StripBearer(header string) string {
	header = strings.TrimSpace(header)
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return header
}
