package authtest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/helpdesk-session/users"
)

// storedRefreshToken is a refresh token issued to a user. Tokens rotate:
// using one deletes it.
type storedRefreshToken struct {
	Token    string
	Username string
	Iat      time.Time
}

// createAccessToken signs an HS256 access token carrying the user's roles
// and explicit permissions.
func (s *Server) createAccessToken(user *users.Identity, expiresAt time.Time) (string, error) {
	claims := jwtlib.MapClaims{
		"iss":         "helpdesk-authtest",
		"sub":         user.ID,
		"username":    user.Username,
		"roles":       user.Roles,
		"permissions": user.Permissions,
		"iat":         s.now().Unix(),
		"exp":         expiresAt.Unix(),
		"jti":         uuid.New().String(),
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("[Server.createAccessToken] sign: %w", err)
	}
	return signed, nil
}

// validateAccessToken returns the subject of a valid, unexpired token.
func (s *Server) validateAccessToken(raw string) (string, error) {
	parsed, err := jwtlib.Parse(raw, func(t *jwtlib.Token) (any, error) {
		return s.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithTimeFunc(s.now),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	return parsed.Claims.GetSubject()
}

func (s *Server) createRefreshToken(username string) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	tokenStr := hex.EncodeToString(tokenBytes)
	s.refreshTokens[tokenStr] = storedRefreshToken{Token: tokenStr, Username: username, Iat: s.now()}
	return tokenStr, nil
}
