package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"
)

// SettingsCache fronts the per-guild settings and the blacklist, which every
// sensor reads on every event. Writes go through the cache and invalidate it.
type SettingsCache struct {
	store    *Store
	cache    *ristretto.Cache
	group    singleflight.Group
	ttl      time.Duration
	defaults GuildSettings

	mu       sync.Mutex
	versions map[string]uint64
}

func NewSettingsCache(store *Store, ttl time.Duration, defaults GuildSettings) (*SettingsCache, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        100000,
		MaxCost:            10000,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create settings cache: %w", err)
	}
	return &SettingsCache{store: store, cache: cache, ttl: ttl, defaults: defaults, versions: make(map[string]uint64)}, nil
}

func (c *SettingsCache) Close() {
	c.cache.Close()
}

// load fills key from fetch on a miss. A fetch that overlaps an invalidation
// of the same key still returns its value but does not cache it.
func (c *SettingsCache) load(key string, fetch func() (any, error)) (any, error) {
	value, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		version := c.versions[key]
		c.mu.Unlock()

		value, err := fetch()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.versions[key] == version {
			c.cache.SetWithTTL(key, value, 1, c.ttl)
		}
		c.mu.Unlock()
		c.cache.Wait()
		return value, nil
	})
	return value, err
}

func (c *SettingsCache) invalidate(key string) {
	c.mu.Lock()
	c.versions[key]++
	c.cache.Del(key)
	c.mu.Unlock()
	c.group.Forget(key)
}

func (c *SettingsCache) Settings(ctx context.Context, guildID string) (GuildSettings, error) {
	key := "settings:" + guildID
	if value, ok := c.cache.Get(key); ok {
		if settings, ok := value.(GuildSettings); ok {
			return settings, nil
		}
	}
	value, err := c.load(key, func() (any, error) {
		return c.store.GetGuildSettings(ctx, guildID, c.defaults)
	})
	if err != nil {
		return GuildSettings{}, err
	}
	return value.(GuildSettings), nil
}

func (c *SettingsCache) AntinukeEnabled(ctx context.Context, guildID string) (bool, error) {
	settings, err := c.Settings(ctx, guildID)
	if err != nil {
		return false, err
	}
	return settings.AntinukeEnabled, nil
}

func (c *SettingsCache) LogChannel(ctx context.Context, guildID string) (string, error) {
	settings, err := c.Settings(ctx, guildID)
	if err != nil {
		return "", err
	}
	return settings.LogChannelID, nil
}

func (c *SettingsCache) UpdateSettings(ctx context.Context, settings GuildSettings) error {
	if err := c.store.UpsertGuildSettings(ctx, settings); err != nil {
		return err
	}
	c.invalidate("settings:" + settings.GuildID)
	return nil
}

func (c *SettingsCache) Blacklisted(ctx context.Context, guildID string) (bool, error) {
	key := "blacklist:" + guildID
	if value, ok := c.cache.Get(key); ok {
		if listed, ok := value.(bool); ok {
			return listed, nil
		}
	}
	value, err := c.load(key, func() (any, error) {
		return c.store.IsBlacklisted(ctx, guildID)
	})
	if err != nil {
		return false, err
	}
	return value.(bool), nil
}

func (c *SettingsCache) AddBlacklist(ctx context.Context, entry BlacklistEntry) error {
	if err := c.store.AddBlacklist(ctx, entry); err != nil {
		return err
	}
	c.invalidate("blacklist:" + entry.GuildID)
	return nil
}

func (c *SettingsCache) RemoveBlacklist(ctx context.Context, guildID string) error {
	if err := c.store.RemoveBlacklist(ctx, guildID); err != nil {
		return err
	}
	c.invalidate("blacklist:" + guildID)
	return nil
}
