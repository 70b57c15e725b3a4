package token

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Set is the token pair held by a Store. ExpiresAt is the access token's
// expiry; the zero time means the expiry is unknown.
type Set struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}

// ExpiryKnown reports whether ExpiresAt came from the server or the token's claims.
func (s *Set) ExpiryKnown() bool {
	return !s.ExpiresAt.IsZero()
}

// ExpiredAt reports whether the access token is expired at now. A token of
// unknown expiry is never locally expired; the server decides with a 401.
func (s *Set) ExpiredAt(now time.Time) bool {
	if s == nil || s.AccessToken == "" {
		return true
	}
	return s.ExpiryKnown() && !now.Before(s.ExpiresAt)
}

func (s *Set) Expired() bool {
	return s.ExpiredAt(NowTimeFunc())
}

// Remaining returns the time left before expiry at now (negative once expired).
func (s *Set) Remaining(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

func (s *Set) HasRefreshToken() bool {
	return s != nil && strings.TrimSpace(s.RefreshToken) != ""
}

// OAuth2 converts the set to an oauth2.Token so the standard helpers
// (SetAuthHeader, Valid) can be used on it.
func (s *Set) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken,
		Expiry:       s.ExpiresAt,
	}
}

func (s *Set) Clone() *Set {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// ResolveExpiry picks the access token's expiry from, in order: the server's
// explicit expires_at, the server's expires_in counted from received, and the
// token's own exp claim. The zero time is returned when none is available.
func ResolveExpiry(accessToken string, expiresAt *time.Time, expiresIn int64, received time.Time) time.Time {
	if expiresAt != nil && !expiresAt.IsZero() {
		return expiresAt.UTC()
	}
	if expiresIn > 0 {
		return received.Add(time.Duration(expiresIn) * time.Second).UTC()
	}
	if claims, err := ParseClaims(accessToken); err == nil && !claims.ExpiresAt.IsZero() {
		return claims.ExpiresAt.UTC()
	}
	return time.Time{}
}
