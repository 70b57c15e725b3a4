package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common error types for the session core
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrLoggedOut          = errors.New("session logged out")

	// Token errors
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrNoRefreshToken  = errors.New("no refresh token")
	ErrRefreshFailed   = errors.New("refresh failed")
	ErrMissingResponse = errors.New("incomplete token response")

	// Authorization errors
	ErrForbidden = errors.New("forbidden")

	// Storage errors
	ErrStoreCorrupt = errors.New("stored session is corrupt")
)

// Kind classifies an error into the session core's taxonomy.
type Kind string

const (
	KindNone             Kind = ""
	KindUnauthenticated  Kind = "unauthenticated"
	KindRefreshFailed    Kind = "refresh_failed"
	KindForbidden        Kind = "forbidden"
	KindTransientNetwork Kind = "transient_network"
	KindUnknown          Kind = "unknown"
)

// KindOf reports which class of the taxonomy err belongs to.
// Refresh failures are checked before unauthenticated because a failed
// refresh always ends the session as well.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	switch {
	case errors.Is(err, ErrRefreshFailed):
		return KindRefreshFailed
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrLoggedOut), errors.Is(err, ErrNoRefreshToken):
		return KindUnauthenticated
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransientNetwork
	}
	return KindUnknown
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
