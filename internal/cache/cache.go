// Package cache provides the manager-side guild data cache: a TTL cache and
// negative cache fronting the durable store, with in-memory predicate
// matching for scans.
package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ninthbyte/threadwatch/internal/database/models"
	"github.com/ninthbyte/threadwatch/internal/database/types"
	"github.com/ninthbyte/threadwatch/internal/setup/config"
	"go.uber.org/zap"
)

var (
	// ErrNotFound means the record is absent durably, or negative-cached.
	ErrNotFound = errors.New("guild record not found")
	// ErrUnavailable means the durable store is unreachable; callers must
	// treat the result like an absent record.
	ErrUnavailable = errors.New("durable store unavailable")
)

// Store is the durable boundary the cache fronts. *models.GuildModel plus
// the database client's ping satisfy it.
type Store interface {
	Get(ctx context.Context, guildID string) (*types.Guild, error)
	Create(ctx context.Context, guild *types.Guild) error
	Update(ctx context.Context, guild *types.Guild) (*types.Guild, error)
	Delete(ctx context.Context, guildID string) error
	List(ctx context.Context, excludeIDs []string) ([]*types.Guild, error)
	Ping(ctx context.Context) error
}

// entry wraps a cached guild record with its last access time.
type entry struct {
	data         *types.Guild
	lastAccessed time.Time
}

// Cache is the in-memory guild cache. All mutation is serialized through the
// mutex; readers receive clones so cached state is never aliased.
type Cache struct {
	store  Store
	logger *zap.Logger

	enabled       bool
	sweepInterval time.Duration
	staleAfter    time.Duration
	probeInterval time.Duration

	available atomic.Bool

	mu       sync.Mutex
	entries  map[string]*entry
	negative map[string]struct{}
}

// New creates a guild cache in front of the given store. The store is
// assumed reachable until the first failed probe.
func New(store Store, cfg *config.Cache, logger *zap.Logger) *Cache {
	c := &Cache{
		store:         store,
		logger:        logger.Named("cache"),
		enabled:       cfg.Enabled,
		sweepInterval: time.Duration(cfg.SweepInterval) * time.Second,
		staleAfter:    time.Duration(cfg.SweepInterval*cfg.StaleFactor) * time.Second,
		probeInterval: time.Duration(cfg.ProbeInterval) * time.Second,
		entries:       make(map[string]*entry),
		negative:      make(map[string]struct{}),
	}
	c.available.Store(true)

	return c
}

// Start launches the sweep and availability probe loops. They stop when the
// context is cancelled.
func (c *Cache) Start(ctx context.Context) {
	if c.enabled {
		go c.sweepLoop(ctx)
	}

	go c.probeLoop(ctx)
}

// Create inserts a guild record durably and populates the cache entry. Any
// negative-cache entry for the ID is cleared.
func (c *Cache) Create(ctx context.Context, guild *types.Guild) (*types.Guild, error) {
	if !c.available.Load() {
		return nil, ErrUnavailable
	}

	if err := c.store.Create(ctx, guild); err != nil {
		c.logger.Debug("Guild create failed", zap.String("guildID", guild.GuildID), zap.Error(err))
		return nil, ErrUnavailable
	}

	c.mu.Lock()
	delete(c.negative, guild.GuildID)

	if c.enabled {
		c.entries[guild.GuildID] = &entry{data: guild.Clone(), lastAccessed: time.Now()}
	}
	c.mu.Unlock()

	return guild.Clone(), nil
}

// Get returns the guild record for the ID. A negative-cached ID
// short-circuits to ErrNotFound unless createOnFail is set; a durable miss
// either creates a blank record (createOnFail) or marks the negative cache.
func (c *Cache) Get(ctx context.Context, guildID string, createOnFail bool) (*types.Guild, error) {
	if !c.available.Load() {
		return nil, ErrUnavailable
	}

	c.mu.Lock()

	if _, hit := c.negative[guildID]; hit && !createOnFail {
		c.mu.Unlock()
		return nil, ErrNotFound
	}

	if e, ok := c.entries[guildID]; ok && c.enabled {
		e.lastAccessed = time.Now()
		data := e.data.Clone()
		c.mu.Unlock()

		return data, nil
	}
	c.mu.Unlock()

	guild, err := c.store.Get(ctx, guildID)
	if err != nil {
		if !errors.Is(err, models.ErrGuildNotFound) {
			return nil, ErrUnavailable
		}

		if createOnFail {
			return c.Create(ctx, &types.Guild{GuildID: guildID})
		}

		c.mu.Lock()
		c.negative[guildID] = struct{}{}
		c.mu.Unlock()

		return nil, ErrNotFound
	}

	c.mu.Lock()
	if c.enabled {
		c.entries[guildID] = &entry{data: guild.Clone(), lastAccessed: time.Now()}
	}
	c.mu.Unlock()

	return guild, nil
}

// Delete evicts and durably removes the record. With recreate set, a blank
// record is inserted in its place and returned.
func (c *Cache) Delete(ctx context.Context, guildID string, recreate bool) (*types.Guild, error) {
	if !c.available.Load() {
		return nil, ErrUnavailable
	}

	c.mu.Lock()
	delete(c.entries, guildID)
	c.mu.Unlock()

	if err := c.store.Delete(ctx, guildID); err != nil {
		c.logger.Debug("Guild delete failed", zap.String("guildID", guildID), zap.Error(err))
		return nil, ErrUnavailable
	}

	if recreate {
		return c.Create(ctx, &types.Guild{GuildID: guildID})
	}

	return nil, nil
}

// Update replaces the guild's follow list durably and refreshes the cache
// entry. A negative-cached ID is a not-found no-op.
func (c *Cache) Update(ctx context.Context, guild *types.Guild) (*types.Guild, error) {
	if !c.available.Load() {
		return nil, ErrUnavailable
	}

	c.mu.Lock()

	if _, hit := c.negative[guild.GuildID]; hit {
		c.mu.Unlock()
		return nil, ErrNotFound
	}
	c.mu.Unlock()

	updated, err := c.store.Update(ctx, guild)
	if err != nil {
		if errors.Is(err, models.ErrGuildNotFound) {
			return nil, ErrNotFound
		}

		return nil, ErrUnavailable
	}

	c.mu.Lock()
	if c.enabled {
		c.entries[guild.GuildID] = &entry{data: updated.Clone(), lastAccessed: time.Now()}
	}
	c.mu.Unlock()

	return updated.Clone(), nil
}

// GetAll scans guild records. forceDurable (or caching disabled) bypasses
// the cache entirely. Otherwise the predicate runs over cached entries;
// with allowPartial the store is additionally queried for IDs the cache did
// not satisfy and the results merged.
func (c *Cache) GetAll(
	ctx context.Context, pred *Predicate, allowPartial, forceDurable bool,
) ([]*types.Guild, error) {
	if !c.available.Load() {
		return nil, ErrUnavailable
	}

	if forceDurable || !c.enabled {
		guilds, err := c.store.List(ctx, nil)
		if err != nil {
			return nil, ErrUnavailable
		}

		return filterGuilds(guilds, pred), nil
	}

	cached, cachedIDs := c.matchCached(pred)
	if !allowPartial {
		return cached, nil
	}

	guilds, err := c.store.List(ctx, cachedIDs)
	if err != nil {
		if len(cached) == 0 {
			return nil, ErrUnavailable
		}

		// Partial results from cache alone; the store half is best-effort.
		return cached, nil
	}

	return append(cached, filterGuilds(guilds, pred)...), nil
}

// matchCached evaluates the predicate over the cache, returning matching
// clones and their IDs so the durable half of a partial scan can exclude
// the records the cache already satisfied.
func (c *Cache) matchCached(pred *Predicate) ([]*types.Guild, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	matched := make([]*types.Guild, 0, len(c.entries))
	ids := make([]string, 0, len(c.entries))

	for id, e := range c.entries {
		if pred.Match(e.data) {
			e.lastAccessed = time.Now()
			matched = append(matched, e.data.Clone())
			ids = append(ids, id)
		}
	}

	return matched, ids
}

// filterGuilds applies the predicate to a durable scan result.
func filterGuilds(guilds []*types.Guild, pred *Predicate) []*types.Guild {
	if pred == nil {
		return guilds
	}

	filtered := guilds[:0]

	for _, g := range guilds {
		if pred.Match(g) {
			filtered = append(filtered, g)
		}
	}

	return filtered
}

// sweepLoop evicts entries idle beyond the staleness window. The negative
// cache is never swept.
func (c *Cache) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted := c.sweep(time.Now())
			if deleted > 0 {
				c.logger.Debug("Swept cache", zap.Int("deleted", deleted))
			}
		}
	}
}

// sweep removes entries whose last access is older than the staleness
// window, returning how many were evicted.
func (c *Cache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	deleted := 0

	for id, e := range c.entries {
		if now.Sub(e.lastAccessed) > c.staleAfter {
			delete(c.entries, id)
			deleted++
		}
	}

	return deleted
}

// probeLoop keeps the availability flag in sync with store reachability.
func (c *Cache) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.store.Ping(ctx)

			was := c.available.Swap(err == nil)
			if was && err != nil {
				c.logger.Warn("Durable store unreachable, failing fast", zap.Error(err))
			} else if !was && err == nil {
				c.logger.Info("Durable store reachable again")
			}
		}
	}
}

// Size returns the number of cached entries. Used by diagnostics.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
