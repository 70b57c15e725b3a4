package authapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/helpdesk-session/token"
	"github.com/jrsteele09/helpdesk-session/users"
)

// Credentials is the body of POST /auth/login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse is returned by both /auth/login and /auth/refresh.
type TokenResponse struct {
	// AccessToken is sent as "Authorization: Bearer <access_token>".
	AccessToken string `json:"access_token"`

	// RefreshToken may rotate on every refresh. An empty value on refresh
	// keeps the previous one.
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt is the access token's absolute expiry.
	ExpiresAt *Timestamp `json:"expires_at,omitempty"`

	// ExpiresIn is the access token's lifetime in seconds, used when
	// ExpiresAt is absent.
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// User is absent on refresh responses from some backends.
	User *users.Identity `json:"user,omitempty"`
}

// TokenSet builds the stored token set, resolving the expiry relative to
// received.
func (r *TokenResponse) TokenSet(received time.Time) *token.Set {
	var expiresAt *time.Time
	if r.ExpiresAt != nil {
		t := r.ExpiresAt.Time
		expiresAt = &t
	}
	return &token.Set{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    token.ResolveExpiry(r.AccessToken, expiresAt, r.ExpiresIn, received),
	}
}

// ErrorResponse is the error body the backend sends with a non-2xx status.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Timestamp accepts RFC3339 strings and unix time in seconds or, for values
// past millisecondsThreshold, milliseconds.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
		data = []byte(s)
	}

	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("[Timestamp.UnmarshalJSON] unsupported expires_at %q", string(data))
	}
	if n >= millisecondsThreshold {
		t.Time = time.UnixMilli(int64(n)).UTC()
		return nil
	}
	t.Time = time.Unix(int64(n), 0).UTC()
	return nil
}

// Unix seconds stay below this until the year 33658; unix milliseconds have
// been above it since 2001.
const millisecondsThreshold = 1e12
