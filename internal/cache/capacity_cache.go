// Package cache provides a short-lived, non-authoritative cache of access codes
// and usage snapshots. Admission decisions never rely on cached values alone;
// the usage ledger remains the source of truth.
package cache

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

type entry[T any] struct {
	value       T
	expiresAt   time.Time
	lastUpdated time.Time
}

func (e *entry[T]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// CapacityCache holds access codes (with a code-string index) and usage
// snapshots, each with its own TTL and a bounded size.
type CapacityCache struct {
	codes     map[string]*entry[models.AccessCode]
	snapshots map[string]*entry[models.UsageSnapshot]
	index     map[string]string // normalized code -> id

	codeTTL          time.Duration
	snapshotTTL      time.Duration
	maxEntries       int
	evictionFraction float64
	sweepInterval    time.Duration

	hits      int64
	misses    int64
	evictions int64

	now       func() time.Time
	logger    *logrus.Logger
	mu        sync.Mutex
	stop      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// Option configures a CapacityCache.
type Option func(*CapacityCache)

// WithClock overrides the time source used for TTLs.
func WithClock(now func() time.Time) Option {
	return func(c *CapacityCache) {
		c.now = now
	}
}

// New creates an empty cache. Call Start to enable the periodic sweep.
func New(cfg *config.CacheConfig, logger *logrus.Logger, opts ...Option) *CapacityCache {
	c := &CapacityCache{
		codes:            make(map[string]*entry[models.AccessCode]),
		snapshots:        make(map[string]*entry[models.UsageSnapshot]),
		index:            make(map[string]string),
		codeTTL:          cfg.CodeTTL,
		snapshotTTL:      cfg.SnapshotTTL,
		maxEntries:       cfg.MaxEntries,
		evictionFraction: cfg.EvictionFraction,
		sweepInterval:    cfg.SweepInterval,
		now:              time.Now,
		logger:           logger,
		stop:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start runs the periodic sweep until Close is called.
func (c *CapacityCache) Start() {
	c.startOnce.Do(func() {
		go c.sweepLoop()
	})
}

func (c *CapacityCache) sweepLoop() {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := c.Sweep(); removed > 0 {
				c.logger.WithField("removed_entries", removed).Debug("Capacity cache swept")
			}
		case <-c.stop:
			return
		}
	}
}

// Close stops the sweep goroutine.
func (c *CapacityCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	return nil
}

// GetCode returns a cached code by id. Expired entries are dropped on read.
func (c *CapacityCache) GetCode(codeID string) (*models.AccessCode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.getCodeLocked(codeID)
}

func (c *CapacityCache) getCodeLocked(codeID string) (*models.AccessCode, bool) {
	e, ok := c.codes[codeID]
	if !ok {
		c.misses++
		return nil, false
	}
	if e.expired(c.now()) {
		c.removeCodeLocked(codeID)
		c.misses++
		return nil, false
	}

	c.hits++
	code := e.value
	return &code, true
}

// GetCodeByValue resolves a code string through the index.
func (c *CapacityCache) GetCodeByValue(value string) (*models.AccessCode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.index[models.NormalizeCode(value)]
	if !ok {
		c.misses++
		return nil, false
	}
	return c.getCodeLocked(id)
}

// SetCode caches a copy of code and indexes its value.
func (c *CapacityCache) SetCode(code *models.AccessCode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.codes[code.ID]; !exists && len(c.codes) >= c.maxEntries {
		c.evictCodesLocked()
	}

	c.codes[code.ID] = &entry[models.AccessCode]{
		value:       *code,
		expiresAt:   now.Add(c.codeTTL),
		lastUpdated: now,
	}
	c.index[models.NormalizeCode(code.Code)] = code.ID
}

// GetSnapshot returns a cached usage snapshot. Expired entries are dropped on read.
func (c *CapacityCache) GetSnapshot(codeID string) (*models.UsageSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.snapshots[codeID]
	if !ok {
		c.misses++
		return nil, false
	}
	if e.expired(c.now()) {
		delete(c.snapshots, codeID)
		c.misses++
		return nil, false
	}

	c.hits++
	snapshot := e.value
	return &snapshot, true
}

// SetSnapshot caches a copy of snapshot.
func (c *CapacityCache) SetSnapshot(snapshot *models.UsageSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.snapshots[snapshot.CodeID]; !exists && len(c.snapshots) >= c.maxEntries {
		c.evictSnapshotsLocked()
	}

	c.snapshots[snapshot.CodeID] = &entry[models.UsageSnapshot]{
		value:       *snapshot,
		expiresAt:   now.Add(c.snapshotTTL),
		lastUpdated: now,
	}
}

// Invalidate drops the code, its snapshot and its index entries.
func (c *CapacityCache) Invalidate(codeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeCodeLocked(codeID)
	delete(c.snapshots, codeID)
}

// InvalidateAll empties every store.
func (c *CapacityCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.codes = make(map[string]*entry[models.AccessCode])
	c.snapshots = make(map[string]*entry[models.UsageSnapshot])
	c.index = make(map[string]string)
}

// Sweep removes expired entries and returns how many were dropped.
func (c *CapacityCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, e := range c.codes {
		if e.expired(now) {
			c.removeCodeLocked(id)
			removed++
		}
	}
	for id, e := range c.snapshots {
		if e.expired(now) {
			delete(c.snapshots, id)
			removed++
		}
	}
	return removed
}

// Stats reports entry counts and hit/miss/eviction totals.
func (c *CapacityCache) Stats() models.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return models.CacheStats{
		CodeEntries:     len(c.codes),
		SnapshotEntries: len(c.snapshots),
		IndexEntries:    len(c.index),
		Hits:            c.hits,
		Misses:          c.misses,
		Evictions:       c.evictions,
	}
}

func (c *CapacityCache) removeCodeLocked(codeID string) {
	e, ok := c.codes[codeID]
	if !ok {
		return
	}
	delete(c.codes, codeID)

	value := models.NormalizeCode(e.value.Code)
	if c.index[value] == codeID {
		delete(c.index, value)
	}
}

// evictCount is the number of entries dropped on overflow, at least one.
func (c *CapacityCache) evictCount(size int) int {
	n := int(math.Ceil(float64(size) * c.evictionFraction))
	if n < 1 {
		n = 1
	}
	return n
}

func (c *CapacityCache) evictCodesLocked() {
	ids := oldestFirst(c.codes)
	n := min(c.evictCount(len(ids)), len(ids))
	for _, id := range ids[:n] {
		c.removeCodeLocked(id)
	}
	c.evictions += int64(n)
	c.logger.WithField("evicted", n).Debug("Evicted oldest code cache entries")
}

func (c *CapacityCache) evictSnapshotsLocked() {
	ids := oldestFirst(c.snapshots)
	n := min(c.evictCount(len(ids)), len(ids))
	for _, id := range ids[:n] {
		delete(c.snapshots, id)
	}
	c.evictions += int64(n)
	c.logger.WithField("evicted", n).Debug("Evicted oldest snapshot cache entries")
}

func oldestFirst[T any](entries map[string]*entry[T]) []string {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return entries[ids[i]].lastUpdated.Before(entries[ids[j]].lastUpdated)
	})
	return ids
}
