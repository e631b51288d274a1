package clients

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/patrickmn/go-cache"
)

// DefaultCacheTTL is used when a connector does not configure cache_ttl.
const DefaultCacheTTL = 300 * time.Second

// CacheStats reports entry counts.
type CacheStats struct {
	Entries int `json:"entries"`
	Expired int `json:"expired"`
	Valid   int `json:"valid"`
}

// ResponseCache memoizes fetch results for a limited time. It is not a
// correctness mechanism: a miss is always resolved by fetching again.
// Expired entries stay in place until read, invalidated or cleared.
type ResponseCache struct {
	c   *cache.Cache
	ttl time.Duration

	// keys mirrors the cache's key set, expired entries included, since
	// go-cache only lists unexpired items.
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewResponseCache creates a cache with the given default TTL.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	// No janitor: expiry is checked on access.
	return &ResponseCache{c: cache.New(ttl, 0), ttl: ttl, keys: make(map[string]struct{})}
}

// TTL returns the default time to live.
func (rc *ResponseCache) TTL() time.Duration {
	return rc.ttl
}

// Get returns the cached value. An expired entry is evicted and reported as
// a miss.
func (rc *ResponseCache) Get(key string) (interface{}, bool) {
	v, ok := rc.c.Get(key)
	if !ok {
		rc.delete(key)
		return nil, false
	}
	return v, true
}

// Set stores value under the default TTL.
func (rc *ResponseCache) Set(key string, value interface{}) {
	rc.SetWithTTL(key, value, cache.DefaultExpiration)
}

// SetWithTTL stores value with an explicit TTL.
func (rc *ResponseCache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.c.Set(key, value, ttl)
	rc.keys[key] = struct{}{}
}

func (rc *ResponseCache) delete(key string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	_, ok := rc.keys[key]
	delete(rc.keys, key)
	rc.c.Delete(key)
	return ok
}

// Invalidate removes key and reports whether it was present.
func (rc *ResponseCache) Invalidate(key string) bool {
	return rc.delete(key)
}

// InvalidatePrefix removes every entry whose key starts with prefix,
// expired or not, and returns how many were removed.
func (rc *ResponseCache) InvalidatePrefix(prefix string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	n := 0
	for k := range rc.keys {
		if strings.HasPrefix(k, prefix) {
			rc.c.Delete(k)
			delete(rc.keys, k)
			n++
		}
	}
	return n
}

// Clear removes every entry and returns how many there were.
func (rc *ResponseCache) Clear() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	n := rc.c.ItemCount()
	rc.c.Flush()
	rc.keys = make(map[string]struct{})
	return n
}

// Stats counts entries, including expired ones not yet evicted.
func (rc *ResponseCache) Stats() CacheStats {
	total := rc.c.ItemCount()
	valid := len(rc.c.Items())
	return CacheStats{Entries: total, Expired: total - valid, Valid: valid}
}

// MakeKey derives a stable key from arbitrary arguments.
func MakeKey(args ...interface{}) string {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte(fmt.Sprint(args...))
	}
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}
