package config

import (
	"os"
	"strings"
	"time"
)

const (
	appNameVar    = "APP_NAME"
	envVar        = "ENV"
	folderEnvVar  = "FOLDER"
	baseURLVar    = "BASE_URL"
	languageVar   = "LANGUAGE"
	logLevelVar   = "LOG_LEVEL"
	defaultAppName = "Helpdesk Session"
)

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetBaseURL() string
	GetDataFolder() string
	GetLanguage() string
	GetLogLevel() string
}

type EnvVars struct {
	file *File
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return firstNonEmpty(e.fileValue().AppName, GetEnv(appNameVar, defaultAppName))
}

func (e EnvVars) GetEnv() string {
	return firstNonEmpty(e.fileValue().Env, GetEnv(envVar, "DEV"))
}

// GetBaseURL returns the helpdesk API root (e.g., "https://helpdesk.example.com/api").
// The auth endpoints live at <base>/auth/login and <base>/auth/refresh.
func (e EnvVars) GetBaseURL() string {
	url := firstNonEmpty(e.fileValue().BaseURL, GetEnv(baseURLVar, "http://localhost:8080"))
	return strings.TrimRight(url, "/")
}

func (e EnvVars) GetDataFolder() string {
	return firstNonEmpty(e.fileValue().DataFolder, GetEnv(folderEnvVar, "./data"))
}

// GetLanguage returns the UI locale sent in the language header. Empty means no header.
func (e EnvVars) GetLanguage() string {
	return firstNonEmpty(e.fileValue().Language, GetEnv(languageVar, ""))
}

func (e EnvVars) GetLogLevel() string {
	return firstNonEmpty(e.fileValue().LogLevel, GetEnv(logLevelVar, "info"))
}

func (e EnvVars) fileValue() *File {
	if e.file == nil {
		return &File{}
	}
	return e.file
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvDuration parses a Go duration from envVar, falling back to
// defaultValue when it is unset or malformed.
func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
