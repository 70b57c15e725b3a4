package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config interface {
	EnvConfig
	SessionConfig
	StorageConfig
}

type mainConfig struct {
	EnvVars
	Session
	Storage
}

// New returns a Config backed by environment variables only.
func New() Config {
	return newConfig(&File{})
}

// Load reads an optional YAML file whose values take precedence over
// environment variables. An empty path behaves like New.
func Load(path string) (Config, error) {
	if path == "" {
		return New(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("[config.Load] read %s: %w", path, err)
	}
	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("[config.Load] parse %s: %w", path, err)
	}
	return newConfig(f), nil
}

// FromFile returns a Config for already parsed file values.
func FromFile(f File) Config {
	return newConfig(&f)
}

func newConfig(f *File) Config {
	return mainConfig{
		EnvVars: EnvVars{file: f},
		Session: Session{file: f},
		Storage: Storage{file: f},
	}
}
