package workspace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"pipeforge/internal/domain/pipeline/engine"
	"pipeforge/internal/domain/pipeline/event"
	"pipeforge/internal/domain/pipeline/model"
	"pipeforge/internal/domain/pipeline/port"
	"pipeforge/internal/domain/pipeline/scheduler"
	applog "pipeforge/internal/platform/log"
)

// ErrInvalidName 配置名为空或含非法字符
var ErrInvalidName = errors.New("invalid config name")

// Relay 把引擎事件转发到外部（Redis 等）
type Relay interface {
	Attach(name string, bus *event.Bus) func()
}

// Options 工作区选项
type Options struct {
	Engine       *engine.Config
	Relay        Relay                      // 可选
	NewScheduler func() scheduler.Scheduler // 为空时使用运行时定时器
}

type entry struct {
	engine *engine.Engine
	detach func()
}

// Manager 按配置名管理同步引擎，每个配置一个独立实例
type Manager struct {
	mu      sync.Mutex
	store   port.ConfigStore
	opts    Options
	engines map[string]*entry
}

// NewManager 创建工作区
func NewManager(store port.ConfigStore, opts Options) *Manager {
	if opts.Engine == nil {
		opts.Engine = engine.DefaultConfig()
	}
	if opts.NewScheduler == nil {
		opts.NewScheduler = func() scheduler.Scheduler { return scheduler.NewTimer() }
	}
	return &Manager{
		store:   store,
		opts:    opts,
		engines: make(map[string]*entry),
	}
}

// Open 返回名称对应的引擎；首次打开时从存储加载，不存在则以空配置开始
func (m *Manager) Open(ctx context.Context, name string) (*engine.Engine, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.engines[name]; ok {
		return e.engine, nil
	}

	rec, err := m.store.LoadConfig(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	cfg := model.NewConfig(name)
	if rec != nil && rec.Config != nil {
		cfg = rec.Config
		cfg.Name = name
	}

	eng := engine.New(
		engine.WithConfig(m.opts.Engine),
		engine.WithScheduler(m.opts.NewScheduler()),
		engine.WithPersister(m.store),
		engine.WithBus(event.NewBus("config:"+name)),
	)
	detach := func() {}
	if m.opts.Relay != nil {
		detach = m.opts.Relay.Attach(name, eng.Bus())
	}
	eng.LoadConfig(cfg)
	m.engines[name] = &entry{engine: eng, detach: detach}

	applog.Info("[Workspace] Config opened", "name", name, "stored", rec != nil)
	return eng, nil
}

// Opened 已打开的配置名，按字母序
func (m *Manager) Opened() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.engines))
	for name := range m.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List 存储中的配置
func (m *Manager) List(ctx context.Context) ([]port.ConfigSummary, error) {
	return m.store.ListConfigs(ctx)
}

// Delete 关闭引擎并删除存储中的配置
func (m *Manager) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	m.mu.Lock()
	if e, ok := m.engines[name]; ok {
		e.detach()
		delete(m.engines, name)
	}
	m.mu.Unlock()

	if err := m.store.DeleteConfig(ctx, name); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	applog.Info("[Workspace] Config deleted", "name", name)
	return nil
}

// Close 断开所有事件转发
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, e := range m.engines {
		e.detach()
		delete(m.engines, name)
	}
}

// ValidateName 配置名：非空，不含空白和 / : 字符
func ValidateName(name string) error {
	if name == "" || len(name) > 255 {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, "/: \t\r\n") {
		return ErrInvalidName
	}
	return nil
}
