// Package embedcache caches vector embeddings by content hash so repeated or
// near-duplicate text never pays for a second embedding call.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"

	"github.com/andrew/rag-engine/pkg/cache"
)

// ComputeFunc produces the embedding for a text when the cache cannot
type ComputeFunc func(ctx context.Context, text string) ([]float32, error)

// DefaultSimilarityThreshold is the word-overlap ratio above which a cached
// vector is reused for different text. Tunable: the safe floor has not been
// validated empirically, and 1.0 disables approximate reuse entirely.
const DefaultSimilarityThreshold = 0.8

const (
	defaultScanDepth        = 64
	sourceTextMaxBytes      = 256
	recordOverheadBytes     = 64
	bytesPerVectorComponent = 4
)

// Config holds the construction parameters for a Cache
type Config struct {
	MaxEntries          int
	MaxBytes            int64
	ScanDepth           int     // most-recently-inserted records scanned for similarity
	SimilarityThreshold float64 // τ
}

// Stats reports exact hits, similarity hits and misses separately; both hit
// kinds count toward the hit rate.
type Stats struct {
	ExactHits      uint64  `json:"exact_hits"`
	SimilarityHits uint64  `json:"similarity_hits"`
	Misses         uint64  `json:"misses"`
	HitRate        float64 `json:"hit_rate"`
	Entries        int     `json:"entries"`
	Bytes          int64   `json:"bytes"`
}

type record struct {
	contentHash string
	vector      []float32
	dimension   int
	sourceText  string
	tokens      map[string]struct{}
}

// Cache is an embedding cache backed by a FIFO store. Embeddings are not
// re-weighted by recency of use, only by insertion order.
type Cache struct {
	store *cache.Store
	cfg   Config

	mu     sync.Mutex
	recent []*record // insertion order, newest last

	exactHits uint64
	simHits   uint64
	misses    uint64
}

// New creates an embedding cache. Zero-value config fields get defaults.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 4096
	}
	if cfg.ScanDepth <= 0 {
		cfg.ScanDepth = defaultScanDepth
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	return &Cache{
		store: cache.New(cache.Config{
			MaxEntries: cfg.MaxEntries,
			MaxBytes:   cfg.MaxBytes,
			Strategy:   cache.FIFO,
		}),
		cfg: cfg,
	}
}

// GetOrCompute returns the embedding for text, from the cache when possible.
// Lookup order: exact content-hash match, then a word-overlap scan over the
// most recent records, then computeFn. The computed vector is stored under
// the content hash before returning.
func (c *Cache) GetOrCompute(ctx context.Context, text string, computeFn ComputeFunc) ([]float32, error) {
	hash := HashText(text)

	if v, ok := c.store.Get(hash); ok {
		c.mu.Lock()
		c.exactHits++
		c.mu.Unlock()
		return v.(*record).vector, nil
	}

	if r := c.findSimilar(text); r != nil {
		c.mu.Lock()
		c.simHits++
		c.mu.Unlock()
		return r.vector, nil
	}

	vector, err := computeFn(ctx, text)
	if err != nil {
		return nil, err
	}

	r := &record{
		contentHash: hash,
		vector:      vector,
		dimension:   len(vector),
		sourceText:  truncate(text, sourceTextMaxBytes),
		tokens:      tokenSet(text),
	}
	size := int64(len(vector)*bytesPerVectorComponent + recordOverheadBytes)
	if err := c.store.Put(hash, r, size); err != nil {
		// Oversized vectors are simply not cached; the caller still gets one.
		return vector, nil
	}

	c.mu.Lock()
	c.misses++
	c.recent = append(c.recent, r)
	if len(c.recent) > c.cfg.ScanDepth {
		c.recent = c.recent[len(c.recent)-c.cfg.ScanDepth:]
	}
	c.mu.Unlock()
	return vector, nil
}

// findSimilar scans the most recent records, newest first, for a token-set
// overlap at or above the threshold.
func (c *Cache) findSimilar(text string) *record {
	query := tokenSet(text)
	if len(query) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.recent) - 1; i >= 0; i-- {
		r := c.recent[i]
		if overlapCoefficient(query, r.tokens) >= c.cfg.SimilarityThreshold {
			return r
		}
	}
	return nil
}

// Stats returns a counter snapshot including the combined hit rate
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	exact, sim, misses := c.exactHits, c.simHits, c.misses
	c.mu.Unlock()
	st := c.store.Stats()
	out := Stats{
		ExactHits:      exact,
		SimilarityHits: sim,
		Misses:         misses,
		Entries:        st.Entries,
		Bytes:          st.Bytes,
	}
	if total := exact + sim + misses; total > 0 {
		out.HitRate = float64(exact+sim) / float64(total)
	}
	return out
}

// Close releases the underlying store
func (c *Cache) Close() {
	c.store.Close()
}

// HashText returns the sha256 content hash used as the cache key
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

var wordRe = regexp.MustCompile(`\p{L}+|\p{N}+`)

func tokenSet(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// overlapCoefficient is |A∩B| / min(|A|, |B|)
func overlapCoefficient(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(small))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
