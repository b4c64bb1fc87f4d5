package store

import (
	"fmt"
	"path/filepath"

	"github.com/pario-ai/tutorgate/pkg/config"
	"github.com/pario-ai/tutorgate/pkg/store/file"
	"github.com/pario-ai/tutorgate/pkg/store/memory"
	"github.com/pario-ai/tutorgate/pkg/store/redis"
	"github.com/pario-ai/tutorgate/pkg/store/sqlite"
)

// File names used by the file backend, one document per namespace.
var fileNames = map[string]string{
	"cache":     "cache_responses.json",
	"tokens":    "token_usage.json",
	"costs":     "daily_costs.json",
	"questions": "question_quota.json",
}

// Namespaces whose file holds one record at the top level, keyed by the record's key.
var documents = map[string]string{
	"tokens": "usage",
}

// Open returns the configured backend for a namespace ("cache", "tokens", "costs",
// "questions").
func Open(cfg config.StorageConfig, namespace string) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		name, ok := fileNames[namespace]
		if !ok {
			name = namespace + ".json"
		}
		path := filepath.Join(cfg.Dir, name)
		if key, ok := documents[namespace]; ok {
			return file.OpenDocument(path, key)
		}
		return file.Open(path)
	case "sqlite":
		return sqlite.New(cfg.DBPath, namespace)
	case "memory":
		return memory.New(), nil
	case "redis":
		prefix := cfg.Redis.Prefix
		if prefix == "" {
			prefix = "tutorgate"
		}
		return redis.New(redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   prefix + ":" + namespace + ":",
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
