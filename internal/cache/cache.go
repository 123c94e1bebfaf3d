package cache

import (
	"strings"
	"time"
)

// Cache is a TTL cache of string values. Writes overwrite; the last writer wins.
type Cache interface {
	Get(key string) (string, bool)
	Set(key string, value string)
	SetWithTTL(key string, value string, ttl time.Duration)
	Delete(key string)
	Clear()
}

// Key builds a namespaced cache key
func Key(namespace string, parts ...string) string {
	return "twinsight:v1:" + namespace + ":" + strings.Join(parts, ":")
}
