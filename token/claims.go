package token

import (
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/helpdesk-session/internal/errors"
	"github.com/jrsteele09/helpdesk-session/internal/utils"
)

// Claims are the access token claims the client reads for expiry and
// identity hints. They are parsed without verifying the signature: the token
// is opaque to the client and validated by the server on every call.
type Claims struct {
	Subject     string
	ID          string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Roles       []string
	Permissions []string
}

// ParseClaims reads the claims of a JWT access token. Tokens that are not
// JWTs return ErrInvalidToken, which callers treat as "no claims".
func ParseClaims(rawToken string) (*Claims, error) {
	if strings.Count(rawToken, ".") != 2 {
		return nil, apperrors.ErrInvalidToken
	}

	unverified, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("[token.ParseClaims] %w: %v", apperrors.ErrInvalidToken, err)
	}

	claims, ok := unverified.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, fmt.Errorf("[token.ParseClaims] %w: error extracting claims", apperrors.ErrInvalidToken)
	}

	sub, _ := claims["sub"].(string)
	jti, _ := claims["jti"].(string)

	c := &Claims{
		Subject:     sub,
		ID:          jti,
		Roles:       utils.ToStringSlice(claims["roles"]),
		Permissions: utils.ToStringSlice(claims["permissions"]),
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	return c, nil
}
