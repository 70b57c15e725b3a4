package config

import "time"

type SessionConfig interface {
	GetWarningThreshold() time.Duration
	GetExpiryCheckInterval() time.Duration
	GetRefreshTimeout() time.Duration
	GetLoginRoute() string
	GetDefaultRoute() string
}

type Session struct {
	file *File
}

var _ SessionConfig = Session{}

// GetWarningThreshold is how long before expiry the session warning is raised.
func (s Session) GetWarningThreshold() time.Duration {
	return firstPositive(s.values().WarningThreshold, GetEnvDuration("SESSION_WARNING_THRESHOLD", 5*time.Minute))
}

func (s Session) GetExpiryCheckInterval() time.Duration {
	return firstPositive(s.values().CheckInterval, GetEnvDuration("SESSION_CHECK_INTERVAL", 15*time.Second))
}

// GetRefreshTimeout bounds a single call to the refresh endpoint.
func (s Session) GetRefreshTimeout() time.Duration {
	return firstPositive(s.values().RefreshTimeout, GetEnvDuration("SESSION_REFRESH_TIMEOUT", 10*time.Second))
}

func (s Session) GetLoginRoute() string {
	return firstNonEmpty(s.values().LoginRoute, GetEnv("SESSION_LOGIN_ROUTE", "/login"))
}

// GetDefaultRoute is the safe route a forbidden navigation is redirected to.
func (s Session) GetDefaultRoute() string {
	return firstNonEmpty(s.values().DefaultRoute, GetEnv("SESSION_DEFAULT_ROUTE", "/dashboard"))
}

func (s Session) values() SessionFile {
	if s.file == nil {
		return SessionFile{}
	}
	return s.file.Session
}
