// Package settings provides read-through access to runtime settings stored
// in the database. Values are cached for a fixed TTL; writes go to the
// database first and then overwrite the cached value.
package settings

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/twinsight/internal/cache"
)

// Well-known setting keys
const (
	KeyRAGURL         = "OPENWEBUI_URL"
	KeyRAGAPIKey      = "OPENWEBUI_API_KEY"
	KeyLLMModel       = "LLM_MODEL"
	KeyAPIBaseURL     = "API_BASE_URL"
	KeyAnalysisEngine = "ANALYSIS_ENGINE"
	KeyWorkflowURL    = "N8N_WEBHOOK_URL"
	KeyInfluxURL      = "INFLUXDB_URL"
	KeyInfluxPort     = "INFLUXDB_PORT"
	KeyInfluxOrg      = "INFLUXDB_ORG"
	KeyInfluxBucket   = "INFLUXDB_BUCKET"
	KeyInfluxToken    = "INFLUXDB_TOKEN"
	KeyInfluxEnabled  = "INFLUXDB_ENABLED"
)

// Backend persists settings
type Backend interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
}

// Store reads settings through a TTL cache
type Store struct {
	backend Backend
	cache   cache.Cache
	logger  *zap.Logger
}

// New creates a settings store
func New(backend Backend, c cache.Cache, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend: backend,
		cache:   c,
		logger:  logger,
	}
}

// Get returns the stored value for key, or def when the key is unset,
// empty, or the backend cannot be read.
func (s *Store) Get(ctx context.Context, key, def string) string {
	if v, ok := s.Lookup(ctx, key); ok {
		return v
	}
	return def
}

// Lookup returns the stored value and whether a non-empty value exists
func (s *Store) Lookup(ctx context.Context, key string) (string, bool) {
	ck := cache.Key("settings", key)
	if v, ok := s.cache.Get(ck); ok {
		return v, v != ""
	}

	if s.backend == nil {
		return "", false
	}

	v, found, err := s.backend.GetSetting(ctx, key)
	if err != nil {
		s.logger.Warn("read setting failed, using default",
			zap.String("key", key),
			zap.Error(err),
		)
		return "", false
	}
	if !found {
		return "", false
	}

	s.cache.Set(ck, v)
	return v, v != ""
}

// GetBool parses a boolean setting
func (s *Store) GetBool(ctx context.Context, key string, def bool) bool {
	v, ok := s.Lookup(ctx, key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// Set writes a setting and overwrites the cached value
func (s *Store) Set(ctx context.Context, key, value string) error {
	if s.backend != nil {
		if err := s.backend.PutSetting(ctx, key, value); err != nil {
			return err
		}
	}
	s.cache.Set(cache.Key("settings", key), value)
	return nil
}

// Invalidate drops the cached value for key
func (s *Store) Invalidate(key string) {
	s.cache.Delete(cache.Key("settings", key))
}
