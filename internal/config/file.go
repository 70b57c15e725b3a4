package config

import "time"

// File is the YAML layout of the optional configuration file.
//
//	base_url: https://helpdesk.example.com/api
//	language: de
//	session:
//	  warning_threshold: 5m
//	storage:
//	  backend: redis
//	  redis_url: redis://localhost:6379/0
type File struct {
	AppName    string `yaml:"app_name"`
	Env        string `yaml:"env"`
	BaseURL    string `yaml:"base_url"`
	DataFolder string `yaml:"data_folder"`
	Language   string `yaml:"language"`
	LogLevel   string `yaml:"log_level"`

	Session SessionFile `yaml:"session"`
	Storage StorageFile `yaml:"storage"`
}

type SessionFile struct {
	WarningThreshold time.Duration `yaml:"warning_threshold"`
	CheckInterval    time.Duration `yaml:"check_interval"`
	RefreshTimeout   time.Duration `yaml:"refresh_timeout"`
	LoginRoute       string        `yaml:"login_route"`
	DefaultRoute     string        `yaml:"default_route"`
}

type StorageFile struct {
	Backend        string `yaml:"backend"`
	RedisURL       string `yaml:"redis_url"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`
}
