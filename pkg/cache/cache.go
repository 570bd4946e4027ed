// Package cache is the two-tier result cache: a bounded in-process LRU in
// front of a sharded on-disk store. Entries expire lazily on access at
// creation time plus the configured TTL.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pario-ai/qcache/pkg/cache/memory"
	"github.com/pario-ai/qcache/pkg/cache/sqlite"
	"github.com/pario-ai/qcache/pkg/config"
	"github.com/pario-ai/qcache/pkg/fingerprint"
	"github.com/pario-ai/qcache/pkg/metrics"
	"github.com/pario-ai/qcache/pkg/models"
)

// ErrPersistence is returned by Set when the result could not be written to
// the persistent tier. The memory tier still holds the result.
var ErrPersistence = errors.New("persist cache entry")

const topQueries = 5

// Cache is the cache facade.
type Cache struct {
	cfg     config.CacheConfig
	mem     *memory.Store
	disk    *sqlite.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	group   singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New opens both tiers under cfg.Dir. When cfg.CompactInterval is positive a
// background loop periodically removes expired entries.
func New(cfg config.CacheConfig, opts ...Option) (*Cache, error) {
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("%w: cache ttl must be positive", config.ErrInvalid)
	}
	mem, err := memory.New(cfg.MemoryLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	disk, err := sqlite.New(cfg.Dir)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		cfg:    cfg,
		mem:    mem,
		disk:   disk,
		logger: zap.NewNop(),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.New(nil)
	}

	if cfg.CompactInterval > 0 {
		c.wg.Add(1)
		go c.compactLoop(cfg.CompactInterval)
	}
	return c, nil
}

// Get returns the cached result for the question. Memory is consulted first,
// then disk; a disk hit is promoted into memory. Failures of the persistent
// tier degrade to a miss and are logged.
func (c *Cache) Get(ctx context.Context, question, configID, scope string) (models.Result, bool) {
	res, ok := c.get(ctx, fingerprint.Key(question, configID, scope))
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return res, ok
}

func (c *Cache) get(ctx context.Context, key string) (models.Result, bool) {
	now := c.now()

	entry, status := c.mem.Lookup(key, now)
	c.metrics.CacheLookupsTotal.WithLabelValues(metrics.TierMemory, status.String()).Inc()
	if status == memory.Hit {
		c.touch(ctx, key, now)
		c.logger.Debug("cache hit", zap.String("key", key), zap.String("tier", metrics.TierMemory))
		return entry.Value, true
	}

	res, row, err := c.disk.Load(ctx, key)
	switch {
	case errors.Is(err, sqlite.ErrNotFound):
		c.metrics.CacheLookupsTotal.WithLabelValues(metrics.TierDisk, metrics.OutcomeMiss).Inc()
		c.logger.Debug("cache miss", zap.String("key", key))
		return models.Result{}, false
	case errors.Is(err, sqlite.ErrCorrupt):
		c.metrics.CacheLookupsTotal.WithLabelValues(metrics.TierDisk, metrics.OutcomeCorrupt).Inc()
		c.logger.Warn("corrupt cache payload removed", zap.String("key", key), zap.Error(err))
		return models.Result{}, false
	case err != nil:
		c.metrics.CacheLookupsTotal.WithLabelValues(metrics.TierDisk, metrics.OutcomeError).Inc()
		c.logger.Warn("persistent tier unavailable, serving memory only", zap.String("key", key), zap.Error(err))
		return models.Result{}, false
	}

	expiresAt := row.CreatedAt.Add(c.cfg.TTL)
	if !now.Before(expiresAt) {
		c.metrics.CacheLookupsTotal.WithLabelValues(metrics.TierDisk, metrics.OutcomeExpired).Inc()
		if err := c.disk.Delete(ctx, key); err != nil {
			c.logger.Warn("delete expired cache entry", zap.String("key", key), zap.Error(err))
		}
		c.updateGauges(ctx)
		return models.Result{}, false
	}

	c.metrics.CacheLookupsTotal.WithLabelValues(metrics.TierDisk, metrics.OutcomeHit).Inc()
	// The promoted copy keeps the original creation time so expiry stays
	// absolute across tiers.
	if c.mem.Put(key, res, row.CreatedAt, expiresAt, now) {
		c.metrics.CacheEvictionsTotal.Inc()
	}
	c.touch(ctx, key, now)
	c.updateGauges(ctx)
	c.logger.Debug("cache hit", zap.String("key", key), zap.String("tier", metrics.TierDisk))
	return res, true
}

func (c *Cache) touch(ctx context.Context, key string, now time.Time) {
	if err := c.disk.Touch(ctx, key, now); err != nil {
		c.logger.Warn("update cache index", zap.String("key", key), zap.Error(err))
	}
}

// Set stores result in both tiers. A persistent-tier failure is returned
// wrapped in ErrPersistence; the memory tier is written regardless.
func (c *Cache) Set(ctx context.Context, question, configID, scope string, result models.Result) error {
	key := fingerprint.Key(question, configID, scope)
	now := c.now()

	if c.mem.Put(key, result, now, now.Add(c.cfg.TTL), now) {
		c.metrics.CacheEvictionsTotal.Inc()
	}

	row := models.IndexRow{
		Key:          key,
		Question:     question,
		ConfigID:     configID,
		Scope:        scope,
		CreatedAt:    now,
		LastAccessed: now,
	}
	if err := c.disk.Save(ctx, row, result); err != nil {
		c.metrics.CachePersistErrorsTotal.Inc()
		c.logger.Warn("persist cache entry", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	c.updateGauges(ctx)
	return nil
}

// GetOrCompute returns the cached result or runs fn once per key across
// concurrent callers and caches its result. The boolean reports a cache hit.
// fn runs detached from the cancellation of whichever caller started it, so
// one caller giving up does not fail the others. A result that could not be
// persisted is still returned. Every caller receives its own copy.
func (c *Cache) GetOrCompute(ctx context.Context, question, configID, scope string,
	fn func(context.Context) (models.Result, error)) (models.Result, bool, error) {
	key := fingerprint.Key(question, configID, scope)
	if res, ok := c.get(ctx, key); ok {
		c.hits.Add(1)
		return res, true, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		// a previous flight may have filled the key since the miss above
		if res, ok := c.get(fctx, key); ok {
			return flight{res: res, hit: true}, nil
		}
		res, err := fn(fctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(fctx, question, configID, scope, res); err != nil && !errors.Is(err, ErrPersistence) {
			return nil, err
		}
		return flight{res: res}, nil
	})
	if err != nil {
		c.misses.Add(1)
		return models.Result{}, false, err
	}

	f := v.(flight)
	if f.hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return f.res.Clone(), f.hit, nil
}

type flight struct {
	res models.Result
	hit bool
}

// Clear removes entries from both tiers. With olderThan <= 0 everything is
// removed; otherwise only entries last accessed before now-olderThan. It
// returns the number of persistent entries removed.
func (c *Cache) Clear(ctx context.Context, olderThan time.Duration) (int, error) {
	defer c.updateGauges(ctx)

	if olderThan <= 0 {
		n, err := c.disk.Count(ctx)
		if err != nil {
			return 0, err
		}
		c.mem.Purge()
		if err := c.disk.Purge(ctx); err != nil {
			return 0, fmt.Errorf("purge cache: %w", err)
		}
		c.logger.Info("cache cleared", zap.Int64("entries", n))
		return int(n), nil
	}

	cutoff := c.now().Add(-olderThan)
	memRemoved := c.mem.RemoveAccessedBefore(cutoff)
	n, err := c.disk.DeleteAccessedBefore(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("clear cache: %w", err)
	}
	c.logger.Info("cache cleared",
		zap.Duration("older_than", olderThan),
		zap.Int("memory", memRemoved),
		zap.Int("disk", n),
	)
	return n, nil
}

// Stats reports the state of both tiers.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	total, err := c.disk.Count(ctx)
	if err != nil {
		return models.CacheStats{}, err
	}
	files, err := c.disk.FileCount()
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("count payload files: %w", err)
	}
	top, err := c.disk.TopByHits(ctx, topQueries)
	if err != nil {
		return models.CacheStats{}, err
	}
	age, err := c.disk.AverageAge(ctx, c.now())
	if err != nil {
		return models.CacheStats{}, err
	}

	return models.CacheStats{
		MemorySize:   c.mem.Len(),
		DiskSize:     files,
		TotalEntries: total,
		TopQueries:   top,
		AverageAge:   age,
		Directory:    c.disk.Dir(),
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
	}, nil
}

// Compact removes expired entries from both tiers and repairs any orphaned
// payload files or index rows. It returns the number of removals.
func (c *Cache) Compact(ctx context.Context) (int, error) {
	now := c.now()
	removed := c.mem.RemoveExpired(now)

	n, err := c.disk.DeleteCreatedBefore(ctx, now.Add(-c.cfg.TTL))
	removed += n
	if err != nil {
		return removed, fmt.Errorf("compact cache: %w", err)
	}
	repaired, err := c.disk.Reconcile(ctx)
	removed += repaired
	if err != nil {
		return removed, fmt.Errorf("reconcile cache: %w", err)
	}

	c.metrics.CacheCompactedTotal.Add(float64(removed))
	c.updateGauges(ctx)
	return removed, nil
}

// Close stops the compaction loop and closes the persistent tier.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		err = c.disk.Close()
	})
	return err
}

func (c *Cache) compactLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			n, err := c.Compact(context.Background())
			if err != nil {
				c.logger.Warn("cache compaction failed", zap.Error(err))
				continue
			}
			if n > 0 {
				c.logger.Info("cache compacted", zap.Int("removed", n))
			}
		}
	}
}

func (c *Cache) updateGauges(ctx context.Context) {
	c.metrics.CacheEntries.WithLabelValues(metrics.TierMemory).Set(float64(c.mem.Len()))
	if n, err := c.disk.Count(ctx); err == nil {
		c.metrics.CacheEntries.WithLabelValues(metrics.TierDisk).Set(float64(n))
	}
}
