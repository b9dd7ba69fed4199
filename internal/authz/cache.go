package authz

import (
	"log/slog"
	"sync"
	"time"

	"github.com/latchflow/latchflow/internal/metrics"
)

// Cache maps rules hashes to compiled permission sets. It has no TTL: the
// population is bounded by the distinct preset+direct combinations in
// active use, and invalidation happens when a preset or user grant changes.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*CompiledPermissions

	logger   *slog.Logger
	recorder *metrics.Recorder
}

// NewCache builds an empty compiled-rule cache. Logger and recorder may be
// nil.
func NewCache(logger *slog.Logger, recorder *metrics.Recorder) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries:  make(map[string]*CompiledPermissions),
		logger:   logger,
		recorder: recorder,
	}
}

// GetOrCompile returns the compiled form of rules. When desiredHash is
// supplied (the hash stored alongside the user) it is checked first; on a
// miss the rules are compiled and stored under both the desired hash and
// the compiler-computed hash, guarding against a stale caller hash.
// Concurrent compilations of the same hash may duplicate work but converge
// to equal values.
func (c *Cache) GetOrCompile(rules []Rule, desiredHash string) *CompiledPermissions {
	if desiredHash != "" {
		c.mu.RLock()
		cached, ok := c.entries[desiredHash]
		c.mu.RUnlock()
		if ok {
			c.event(metrics.CacheEventHit)
			return cached
		}
	}
	c.event(metrics.CacheEventMiss)

	start := time.Now()
	compiled := Compile(rules, desiredHash, c.logger)
	if c.recorder != nil {
		c.recorder.ObserveRuleCompile(metrics.CompileOutcomeOK, len(compiled.Rules), time.Since(start))
	}

	c.mu.Lock()
	if existing, ok := c.entries[compiled.RulesHash]; ok {
		compiled = existing
	} else {
		c.entries[compiled.RulesHash] = compiled
	}
	if desiredHash != "" {
		c.entries[desiredHash] = compiled
	}
	c.mu.Unlock()
	return compiled
}

// Invalidate removes every entry stored under rulesHash or whose compiled
// hash equals it.
func (c *Cache) Invalidate(rulesHash string) {
	if rulesHash == "" {
		return
	}
	c.mu.Lock()
	for key, compiled := range c.entries {
		if key == rulesHash || compiled.RulesHash == rulesHash {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
	c.event(metrics.CacheEventInvalidate)
}

// Len reports the number of cached entries, for health introspection.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) event(event metrics.CacheEvent) {
	if c.recorder != nil {
		c.recorder.CountRuleCacheEvent(event)
	}
}
