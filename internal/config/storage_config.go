package config

import "strings"

// StorageBackend selects the TokenStore implementation.
type StorageBackend string

const (
	StorageFileBackend   StorageBackend = "file"
	StorageMemoryBackend StorageBackend = "memory"
	StorageRedisBackend  StorageBackend = "redis"
)

type StorageConfig interface {
	GetStorageBackend() StorageBackend
	GetRedisURL() string
	GetRedisKeyPrefix() string
}

type Storage struct {
	file *File
}

var _ StorageConfig = Storage{}

func (s Storage) GetStorageBackend() StorageBackend {
	backend := strings.ToLower(firstNonEmpty(s.values().Backend, GetEnv("STORAGE_BACKEND", string(StorageFileBackend))))
	switch StorageBackend(backend) {
	case StorageMemoryBackend, StorageRedisBackend:
		return StorageBackend(backend)
	}
	return StorageFileBackend
}

func (s Storage) GetRedisURL() string {
	return firstNonEmpty(s.values().RedisURL, GetEnv("REDIS_URL", "redis://localhost:6379/0"))
}

func (s Storage) GetRedisKeyPrefix() string {
	return firstNonEmpty(s.values().RedisKeyPrefix, GetEnv("REDIS_KEY_PREFIX", "helpdesk:session:"))
}

func (s Storage) values() StorageFile {
	if s.file == nil {
		return StorageFile{}
	}
	return s.file.Storage
}
