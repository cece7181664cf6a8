package redisdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"pipeforge/internal/domain/pipeline/model"
	"pipeforge/internal/domain/pipeline/port"
	applog "pipeforge/internal/platform/log"
)

// kv ConfigCache 用到的 Redis 命令子集，*redis.Client 直接满足
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// ConfigCache 配置存储的 Redis 读穿缓存。读未命中时回源并回填，写入和删除时失效
type ConfigCache struct {
	store  port.ConfigStore
	redis  kv
	ttl    time.Duration
	prefix string
}

var _ port.ConfigStore = (*ConfigCache)(nil)

// NewConfigCache 创建配置缓存
func NewConfigCache(store port.ConfigStore, rdb kv, ttlSeconds int) *ConfigCache {
	ttl := 5 * time.Minute
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &ConfigCache{
		store:  store,
		redis:  rdb,
		ttl:    ttl,
		prefix: "pipeforge:config:",
	}
}

// SaveConfig 写入底层存储后使缓存失效
func (c *ConfigCache) SaveConfig(ctx context.Context, name string, cfg *model.Config) error {
	if err := c.store.SaveConfig(ctx, name, cfg); err != nil {
		return err
	}
	c.invalidate(ctx, name)
	return nil
}

// LoadConfig 先查缓存，未命中回源；不存在的配置不缓存
func (c *ConfigCache) LoadConfig(ctx context.Context, name string) (*port.ConfigRecord, error) {
	key := c.cacheKey(name)
	if data, err := c.redis.Get(ctx, key).Bytes(); err == nil {
		var rec port.ConfigRecord
		if err := json.Unmarshal(data, &rec); err == nil && rec.Config != nil {
			rec.Config.Normalize()
			applog.Debug("[ConfigCache] Hit", "key", key)
			return &rec, nil
		}
		applog.Warn("[ConfigCache] Failed to unmarshal cached record", "key", key)
	} else if err != redis.Nil {
		applog.Warn("[ConfigCache] Get failed, falling back to store", "key", key, "error", err)
	}

	rec, err := c.store.LoadConfig(ctx, name)
	if err != nil || rec == nil {
		return rec, err
	}
	if data, err := json.Marshal(rec); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			applog.Warn("[ConfigCache] Failed to set cache", "key", key, "error", err)
		}
	}
	return rec, nil
}

// ListConfigs 不缓存
func (c *ConfigCache) ListConfigs(ctx context.Context) ([]port.ConfigSummary, error) {
	return c.store.ListConfigs(ctx)
}

func (c *ConfigCache) DeleteConfig(ctx context.Context, name string) error {
	if err := c.store.DeleteConfig(ctx, name); err != nil {
		return err
	}
	c.invalidate(ctx, name)
	return nil
}

func (c *ConfigCache) invalidate(ctx context.Context, name string) {
	key := c.cacheKey(name)
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		applog.Warn("[ConfigCache] Failed to invalidate", "key", key, "error", err)
	}
}

func (c *ConfigCache) cacheKey(name string) string {
	return c.prefix + name
}
