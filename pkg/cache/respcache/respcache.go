// Package respcache caches fully-formed answers keyed by a fingerprint of the
// query, the active filters and the session context. A hit short-circuits
// retrieval, ranking and the completion call entirely.
package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/andrew/rag-engine/pkg/cache"
	"github.com/andrew/rag-engine/pkg/models"
)

// DefaultTTL bounds the lifetime of a cached answer
const DefaultTTL = 24 * time.Hour

// Filters captures the retrieval scope that participates in the cache key
type Filters struct {
	Domain      string   `json:"domain,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

// Config holds the construction parameters for a Cache
type Config struct {
	MaxEntries int
	MaxBytes   int64
	TTL        time.Duration
	Strategy   cache.Strategy // LRU or TTL; TTL by default
}

// Cache stores answers with bounded lifetime
type Cache struct {
	store *cache.Store
	ttl   time.Duration
}

// New creates a response cache. Zero-value config fields get defaults.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Strategy == "" {
		cfg.Strategy = cache.TTL
	}
	return &Cache{
		store: cache.New(cache.Config{
			MaxEntries: cfg.MaxEntries,
			MaxBytes:   cfg.MaxBytes,
			Strategy:   cfg.Strategy,
			DefaultTTL: cfg.TTL,
		}),
		ttl: cfg.TTL,
	}
}

// Lookup returns the cached answer for the exact (query, filters, session)
// combination, if any.
func (c *Cache) Lookup(query string, filters Filters, sessionFingerprint string) (models.AnswerResult, bool) {
	v, ok := c.store.Get(Fingerprint(query, filters, sessionFingerprint))
	if !ok {
		return models.AnswerResult{}, false
	}
	result := v.(models.AnswerResult)
	result.CacheHit = true
	return result, true
}

// Store caches an answer under the fingerprint of its inputs. Oversized
// answers are silently not cached.
func (c *Cache) Store(query string, filters Filters, sessionFingerprint string, result models.AnswerResult) {
	result.CacheHit = false
	size := int64(len(result.Answer))
	for _, p := range result.Sources {
		size += int64(len(p.Text))
	}
	_ = c.store.Put(Fingerprint(query, filters, sessionFingerprint), result, size)
}

// InvalidateAll drops every cached answer. Called whenever the underlying
// document set changes: a stale answer referencing removed documents is
// strictly worse than a miss.
func (c *Cache) InvalidateAll() int {
	return c.store.InvalidateAll()
}

// Stats returns the underlying store counters
func (c *Cache) Stats() cache.Stats {
	return c.store.Stats()
}

// Close releases the underlying store
func (c *Cache) Close() {
	c.store.Close()
}

// Fingerprint derives the cache key from the normalized query text, the
// canonical filter serialization and the session fingerprint (empty for
// stateless queries).
func Fingerprint(query string, filters Filters, sessionFingerprint string) string {
	h := sha256.New()
	h.Write([]byte(normalizeQuery(query)))
	h.Write([]byte{0})
	h.Write([]byte(filters.canonical()))
	h.Write([]byte{0})
	h.Write([]byte(sessionFingerprint))
	return hex.EncodeToString(h.Sum(nil))
}

func (f Filters) canonical() string {
	ids := append([]string(nil), f.DocumentIDs...)
	sort.Strings(ids)
	return "domain=" + f.Domain + ";docs=" + strings.Join(ids, ",")
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
