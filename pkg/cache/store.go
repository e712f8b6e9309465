package cache

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Strategy selects the eviction policy for a Store
type Strategy string

const (
	// LRU evicts the entry with the oldest last access time
	LRU Strategy = "lru"
	// LFU evicts the entry with the lowest access count
	LFU Strategy = "lfu"
	// FIFO evicts the entry with the oldest creation time
	FIFO Strategy = "fifo"
	// TTL evicts like FIFO but additionally reclaims expired entries in the background
	TTL Strategy = "ttl"
)

// ErrTooLarge is returned by Put when a single entry exceeds the store's byte
// capacity. The item is not cached and the store is left unchanged.
var ErrTooLarge = errors.New("cache: entry larger than store capacity")

// Config holds the construction parameters for a Store. Immutable once the
// store is created.
type Config struct {
	MaxEntries    int
	MaxBytes      int64
	Strategy      Strategy
	DefaultTTL    time.Duration
	SweepInterval time.Duration
}

// Stats reports cache performance counters
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
	Entries   int    `json:"entries"`
	Bytes     int64  `json:"bytes"`
}

type entry struct {
	key            string
	value          any
	createdAt      time.Time
	lastAccessedAt time.Time
	accessCount    uint64
	sizeBytes      int64
	expiresAt      time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is a generic in-memory key/value cache with pluggable eviction and
// byte-size accounting. All mutations are serialized on a single lock;
// lookups never observe a partially inserted or partially evicted entry.
type Store struct {
	mu      sync.RWMutex
	cfg     Config
	entries map[string]*entry
	bytes   int64

	hits      uint64
	misses    uint64
	evictions uint64
	expired   uint64

	now      func() time.Time
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Store from the given config. A background sweep goroutine is
// started when the store carries TTLs; call Close to stop it.
func New(cfg Config) *Store {
	if cfg.Strategy == "" {
		cfg.Strategy = LRU
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	s := &Store{
		cfg:     cfg,
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  slog.Default().With("component", "cache", "strategy", string(cfg.Strategy)),
		stopCh:  make(chan struct{}),
	}
	if cfg.Strategy == TTL || cfg.DefaultTTL > 0 {
		go s.sweepLoop()
	}
	return s
}

// Get returns the value stored under key. Expired entries are removed on
// access and reported as misses, even if the background sweep has not
// reclaimed them yet.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil, false
	}
	now := s.now()
	if e.expired(now) {
		s.removeLocked(e)
		s.expired++
		s.misses++
		return nil, false
	}
	e.lastAccessedAt = now
	e.accessCount++
	s.hits++
	return e.value, true
}

// Put inserts value under key using the store's default TTL
func (s *Store) Put(key string, value any, sizeBytes int64) error {
	return s.PutTTL(key, value, sizeBytes, s.cfg.DefaultTTL)
}

// PutTTL inserts value under key with an explicit TTL; ttl <= 0 means no
// expiry. Victims are evicted by the active strategy until the entry fits.
func (s *Store) PutTTL(key string, value any, sizeBytes int64, ttl time.Duration) error {
	if s.cfg.MaxBytes > 0 && sizeBytes > s.cfg.MaxBytes {
		return ErrTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok {
		s.removeLocked(old)
	}

	for (s.cfg.MaxEntries > 0 && len(s.entries) >= s.cfg.MaxEntries) ||
		(s.cfg.MaxBytes > 0 && s.bytes+sizeBytes > s.cfg.MaxBytes) {
		victim := s.victimLocked()
		if victim == nil {
			break
		}
		s.removeLocked(victim)
		s.evictions++
	}

	now := s.now()
	e := &entry{
		key:            key,
		value:          value,
		createdAt:      now,
		lastAccessedAt: now,
		sizeBytes:      sizeBytes,
	}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.entries[key] = e
	s.bytes += sizeBytes
	return nil
}

// Invalidate removes key from the store, reporting whether it was present
func (s *Store) Invalidate(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.removeLocked(e)
	return true
}

// InvalidateAll drops every entry and returns how many were removed
func (s *Store) InvalidateAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = make(map[string]*entry)
	s.bytes = 0
	return n
}

// Stats returns a snapshot of the store's counters
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
		Expired:   s.expired,
		Entries:   len(s.entries),
		Bytes:     s.bytes,
	}
}

// Close stops the background sweep goroutine
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Store) removeLocked(e *entry) {
	delete(s.entries, e.key)
	s.bytes -= e.sizeBytes
}

// victimLocked selects the next entry to evict under the active strategy.
// Linear scan: stores are bounded by MaxEntries, which keeps this cheap
// relative to the external calls the cache is shielding.
func (s *Store) victimLocked() *entry {
	var victim *entry
	for _, e := range s.entries {
		if victim == nil {
			victim = e
			continue
		}
		if s.beats(e, victim) {
			victim = e
		}
	}
	return victim
}

// beats reports whether a should be evicted before b
func (s *Store) beats(a, b *entry) bool {
	switch s.cfg.Strategy {
	case LFU:
		if a.accessCount != b.accessCount {
			return a.accessCount < b.accessCount
		}
		return a.createdAt.Before(b.createdAt)
	case FIFO, TTL:
		return a.createdAt.Before(b.createdAt)
	default: // LRU
		return a.lastAccessedAt.Before(b.lastAccessedAt)
	}
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep reclaims expired entries. Candidates are collected under the read
// lock, then removed one at a time so a sweep pass never holds the write
// lock for longer than a single removal.
func (s *Store) sweep() {
	now := s.now()

	s.mu.RLock()
	var stale []string
	for k, e := range s.entries {
		if e.expired(now) {
			stale = append(stale, k)
		}
	}
	s.mu.RUnlock()

	for _, k := range stale {
		s.mu.Lock()
		if e, ok := s.entries[k]; ok && e.expired(s.now()) {
			s.removeLocked(e)
			s.expired++
		}
		s.mu.Unlock()
	}
	if len(stale) > 0 {
		s.logger.Debug("ttl sweep reclaimed entries", "count", len(stale))
	}
}
