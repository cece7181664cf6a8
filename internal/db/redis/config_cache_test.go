package redisdb

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeforge/internal/domain/pipeline/event"
	"pipeforge/internal/domain/pipeline/model"
	"pipeforge/internal/domain/pipeline/port"
)

type fakeKV struct {
	mu     sync.Mutex
	data   map[string]string
	ttl    map[string]time.Duration
	getErr error
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string), ttl: make(map[string]time.Duration)}
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeKV) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

type countingStore struct {
	mu      sync.Mutex
	configs map[string]*model.Config
	loads   int
}

func (s *countingStore) SaveConfig(_ context.Context, name string, cfg *model.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[name] = cfg
	return nil
}

func (s *countingStore) LoadConfig(_ context.Context, name string) (*port.ConfigRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	cfg, ok := s.configs[name]
	if !ok {
		return nil, nil
	}
	return &port.ConfigRecord{Name: name, Config: cfg, Version: 3}, nil
}

func (s *countingStore) ListConfigs(context.Context) ([]port.ConfigSummary, error) {
	return []port.ConfigSummary{}, nil
}

func (s *countingStore) DeleteConfig(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, name)
	return nil
}

func sampleConfig(name string) *model.Config {
	cfg := model.NewConfig(name)
	cfg.Sources = []model.PluginSpec{{Name: "s1", Type: "rss", Params: map[string]interface{}{"url": "u"}}}
	return cfg
}

// TestConfigCacheReadThrough 未命中回源并回填，第二次读取命中缓存
func TestConfigCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{configs: map[string]*model.Config{"demo": sampleConfig("demo")}}
	rdb := newFakeKV()
	cache := NewConfigCache(store, rdb, 60)

	rec, err := cache.LoadConfig(ctx, "demo")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, store.loads)
	assert.Contains(t, rdb.data, "pipeforge:config:demo")
	assert.Equal(t, time.Minute, rdb.ttl["pipeforge:config:demo"])

	rec, err = cache.LoadConfig(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, 1, store.loads)
	assert.Equal(t, 3, rec.Version)
	assert.Equal(t, "s1", rec.Config.Sources[0].Name)
	assert.NotNil(t, rec.Config.Enrichers)
}

func TestConfigCacheMissingNotCached(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{configs: map[string]*model.Config{}}
	rdb := newFakeKV()
	cache := NewConfigCache(store, rdb, 0)

	rec, err := cache.LoadConfig(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, rdb.data)
}

func TestConfigCacheInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{configs: map[string]*model.Config{"demo": sampleConfig("demo")}}
	rdb := newFakeKV()
	cache := NewConfigCache(store, rdb, 0)

	_, err := cache.LoadConfig(ctx, "demo")
	require.NoError(t, err)
	require.Contains(t, rdb.data, "pipeforge:config:demo")

	updated := sampleConfig("demo")
	updated.Sources[0].Name = "s1-renamed"
	require.NoError(t, cache.SaveConfig(ctx, "demo", updated))
	assert.NotContains(t, rdb.data, "pipeforge:config:demo")

	rec, err := cache.LoadConfig(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "s1-renamed", rec.Config.Sources[0].Name)
	assert.Equal(t, 2, store.loads)

	require.NoError(t, cache.DeleteConfig(ctx, "demo"))
	assert.NotContains(t, rdb.data, "pipeforge:config:demo")
}

func TestConfigCacheFallsBackOnRedisError(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{configs: map[string]*model.Config{"demo": sampleConfig("demo")}}
	rdb := newFakeKV()
	rdb.getErr = errors.New("i/o timeout")
	cache := NewConfigCache(store, rdb, 0)

	rec, err := cache.LoadConfig(ctx, "demo")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, store.loads)
}

type fakePublisher struct {
	ch chan [2]string
}

func (p *fakePublisher) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	data, _ := message.([]byte)
	p.ch <- [2]string{channel, string(data)}
	return redis.NewIntResult(1, nil)
}

// TestEventRelayPublishes 总线事件被转发到 <prefix>:<config> 频道
func TestEventRelayPublishes(t *testing.T) {
	pub := &fakePublisher{ch: make(chan [2]string, 4)}
	relay := NewEventRelay(pub, "pipeforge:events", 0)
	defer relay.Close()

	bus := event.NewBus("test")
	detach := relay.Attach("demo", bus)
	bus.Publish(event.NewNodeSelected("source-0"))

	select {
	case msg := <-pub.ch:
		assert.Equal(t, "pipeforge:events:demo", msg[0])
		var decoded RelayMessage
		require.NoError(t, json.Unmarshal([]byte(msg[1]), &decoded))
		assert.Equal(t, "demo", decoded.Config)
		assert.Equal(t, event.TypeNodeSelected, decoded.Type)
		assert.Equal(t, "source-0", decoded.Payload)
	case <-time.After(time.Second):
		t.Fatal("event was not relayed")
	}

	detach()
	assert.Equal(t, 0, bus.Len())
}
