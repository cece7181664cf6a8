package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pipeforge/internal/domain/pipeline/event"
	"pipeforge/internal/domain/pipeline/graph"
	"pipeforge/internal/domain/pipeline/model"
	"pipeforge/internal/domain/pipeline/port"
	"pipeforge/internal/domain/pipeline/scheduler"
	applog "pipeforge/internal/platform/log"
)

// Config 引擎配置
type Config struct {
	ForceSyncDelay time.Duration // ForceSync 后批量通知的延迟
	PersistTimeout time.Duration // 单次异步保存的超时
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		ForceSyncDelay: 50 * time.Millisecond,
		PersistTimeout: 10 * time.Second,
	}
}

// Option 引擎选项
type Option func(*Engine)

// WithConfig 覆盖引擎配置
func WithConfig(cfg *Config) Option {
	return func(e *Engine) {
		if cfg != nil {
			e.cfg = cfg
		}
	}
}

// WithScheduler 指定延迟执行器（测试中使用 scheduler.Queue）
func WithScheduler(s scheduler.Scheduler) Option {
	return func(e *Engine) {
		if s != nil {
			e.sched = s
		}
	}
}

// WithPersister 指定持久化实现
func WithPersister(p port.Persister) Option {
	return func(e *Engine) {
		e.persister = p
	}
}

// WithBus 使用外部事件总线
func WithBus(b *event.Bus) Option {
	return func(e *Engine) {
		if b != nil {
			e.bus = b
		}
	}
}

// Engine 配置与图的双向同步引擎。
// 三份状态（config、nodes、connections）总是一起变更；
// 所有公开方法可并发调用，事件在释放锁之后同步投递
type Engine struct {
	mu        sync.Mutex
	cfg       *Config
	sched     scheduler.Scheduler
	persister port.Persister
	bus       *event.Bus
	log       *slog.Logger

	config   *model.Config
	nodes    []model.GraphNode
	conns    []model.Connection
	selected string

	emitPending bool
	deferred    []func()

	// 保存串行执行，排队中只保留最新快照
	saveMu  sync.Mutex
	pending *pendingSave
	saving  bool
}

type pendingSave struct {
	name string
	cfg  *model.Config
}

// New 创建引擎，初始为空配置
func New(opts ...Option) *Engine {
	e := &Engine{
		cfg:    DefaultConfig(),
		sched:  scheduler.NewTimer(),
		log:    applog.Component("sync-engine"),
		config: model.NewConfig(""),
		nodes:  []model.GraphNode{},
		conns:  []model.Connection{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = event.NewBus("sync-engine")
	}
	return e
}

// Bus 返回引擎的事件总线
func (e *Engine) Bus() *event.Bus {
	return e.bus
}

// Subscribe 订阅事件，返回取消订阅函数
func (e *Engine) Subscribe(typ event.Type, handler event.Handler) func() {
	return e.bus.Subscribe(typ, handler)
}

// GetConfig 返回规范配置；读取前先做一次图 -> 配置投影
func (e *Engine) GetConfig() *model.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.projectLocked()
	return model.CloneConfig(e.config)
}

// GetNodes 返回节点副本
func (e *Engine) GetNodes() []model.GraphNode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return model.CloneNodes(e.nodes)
}

// GetConnections 返回连线副本
func (e *Engine) GetConnections() []model.Connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return model.CloneConnections(e.conns)
}

// GetSelectedNode 当前选中节点 ID，未选中为空串
func (e *Engine) GetSelectedNode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// FindNodeByID 递归查找节点
func (e *Engine) FindNodeByID(id string) (*model.GraphNode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := graph.FindNodeRecursive(e.nodes, id)
	if n == nil {
		return nil, false
	}
	clone := n.Clone()
	return &clone, true
}

// LoadConfig 整体替换配置并从头重建图，清除选中
func (e *Engine) LoadConfig(cfg *model.Config) bool {
	return e.run("LoadConfig", func() ([]event.Event, bool) {
		if cfg == nil {
			e.log.Warn("[Engine] LoadConfig called with nil config")
			return nil, false
		}
		next := model.CloneConfig(cfg)
		next.MirrorProviders()
		nodes, conns := graph.Rebuild(next)

		hadSelection := e.selected != ""
		e.config, e.nodes, e.conns, e.selected = next, nodes, conns, ""

		e.log.Info("[Engine] Config loaded",
			"name", next.Name,
			"nodes", len(nodes),
			"connections", len(conns),
		)
		events := e.snapshotEventsLocked()
		if hadSelection {
			events = append(events, event.NewNodeSelected(""))
		}
		return events, true
	})
}

// UpdateConfig 整体替换配置并重建图；保留仍存在节点的布局和选中状态
func (e *Engine) UpdateConfig(cfg *model.Config) bool {
	return e.run("UpdateConfig", func() ([]event.Event, bool) {
		if cfg == nil {
			e.log.Warn("[Engine] UpdateConfig called with nil config")
			return nil, false
		}
		next := model.CloneConfig(cfg)
		next.MirrorProviders()
		nodes, conns := graph.Rebuild(next)
		carryLayout(e.nodes, nodes)

		e.config, e.nodes, e.conns = next, nodes, conns
		events := e.snapshotEventsLocked()
		if e.selected != "" && graph.FindNodeRecursive(nodes, e.selected) == nil {
			e.selected = ""
			events = append(events, event.NewNodeSelected(""))
		}
		return events, true
	})
}

// SetNodes 以图为源的整体节点替换：重连端口、投影回配置、保存
func (e *Engine) SetNodes(nodes []model.GraphNode) bool {
	return e.run("SetNodes", func() ([]event.Event, bool) {
		if nodes == nil {
			e.log.Warn("[Engine] SetNodes called with nil nodes")
			return nil, false
		}
		next, _ := model.CloneGraph(nodes, nil)
		conns := graph.DedupeInbound(graph.PruneUnresolved(next, e.conns))
		e.deferPluginUpdates(e.reconcilePorts(next, conns))

		e.nodes, e.conns = next, conns
		if e.selected != "" && graph.FindNodeRecursive(next, e.selected) == nil {
			e.selected = ""
		}
		e.projectLocked()
		e.persistLocked()
		return e.snapshotEventsLocked(), true
	})
}

// SetConnections 以图为源的整体连线替换
func (e *Engine) SetConnections(conns []model.Connection) bool {
	return e.run("SetConnections", func() ([]event.Event, bool) {
		if conns == nil {
			e.log.Warn("[Engine] SetConnections called with nil connections")
			return nil, false
		}
		nodes, next := model.CloneGraph(e.nodes, conns)
		next = graph.DedupeInbound(graph.PruneUnresolved(nodes, next))
		e.deferPluginUpdates(e.reconcilePorts(nodes, next))

		e.nodes, e.conns = nodes, next
		e.projectLocked()
		e.persistLocked()
		return e.snapshotEventsLocked(), true
	})
}

// SetSelectedNode 设置选中节点，空串表示取消；无法解析的 ID 返回 false
func (e *Engine) SetSelectedNode(id string) bool {
	return e.run("SetSelectedNode", func() ([]event.Event, bool) {
		if id != "" && graph.FindNodeRecursive(e.nodes, id) == nil {
			e.log.Warn("[Engine] Cannot select unknown node", "node_id", id)
			return nil, false
		}
		e.selected = id
		return []event.Event{event.NewNodeSelected(id)}, true
	})
}

// ForceSync 全量重新同步：端口、参数、连线、配置，保存后延迟批量通知
func (e *Engine) ForceSync() {
	e.run("ForceSync", func() ([]event.Event, bool) {
		e.forceSyncLocked()
		return nil, true
	})
}

// run 在锁内执行操作，恢复 panic 并在解锁后投递事件
func (e *Engine) run(op string, fn func() ([]event.Event, bool)) bool {
	var (
		events   []event.Event
		deferred []func()
	)
	ok := func() (ok bool) {
		e.mu.Lock()
		defer e.mu.Unlock()
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("[Engine] Operation failed", "op", op, "panic", r)
				events = nil
				ok = false
			}
			deferred, e.deferred = e.deferred, nil
			if !ok {
				deferred = nil
			}
		}()
		events, ok = fn()
		return ok
	}()
	e.bus.PublishAll(events)
	if len(deferred) > 0 {
		e.sched.Defer(func() {
			for _, fn := range deferred {
				fn()
			}
		})
	}
	return ok
}

func (e *Engine) snapshotEventsLocked() []event.Event {
	return []event.Event{
		event.NewConfigUpdated(model.CloneConfig(e.config)),
		event.NewNodesUpdated(model.CloneNodes(e.nodes)),
		event.NewConnectionsUpdated(model.CloneConnections(e.conns)),
	}
}

// persistLocked 异步保存，失败只记录日志；未命名的配置不保存。
// 同一引擎同时最多一个保存在执行，后到的快照覆盖尚未开始的快照
func (e *Engine) persistLocked() {
	if e.persister == nil || e.config == nil || e.config.Name == "" {
		return
	}
	next := &pendingSave{name: e.config.Name, cfg: model.CloneConfig(e.config)}

	e.saveMu.Lock()
	if e.pending != nil {
		e.log.Debug("[Engine] Superseded queued save", "name", e.pending.name)
	}
	e.pending = next
	start := !e.saving
	e.saving = true
	e.saveMu.Unlock()

	if start {
		go e.saveLoop()
	}
}

func (e *Engine) saveLoop() {
	for {
		e.saveMu.Lock()
		job := e.pending
		e.pending = nil
		if job == nil {
			e.saving = false
			e.saveMu.Unlock()
			return
		}
		e.saveMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PersistTimeout)
		err := e.persister.SaveConfig(ctx, job.name, job.cfg)
		cancel()
		if err != nil {
			e.log.Error("[Engine] Save config failed", "name", job.name, "error", err)
			continue
		}
		e.log.Debug("[Engine] Config saved", "name", job.name)
	}
}

// carryLayout 把旧图中 ID 与名称都相同的节点坐标、展开状态带到新图
func carryLayout(prev, next []model.GraphNode) {
	type layout struct {
		name     string
		position model.Position
		expanded bool
	}
	old := make(map[string]layout)
	graph.Walk(prev, func(n *model.GraphNode) {
		old[n.ID] = layout{name: n.Name, position: n.Position, expanded: n.Expanded}
	})
	graph.Walk(next, func(n *model.GraphNode) {
		if l, ok := old[n.ID]; ok && l.name == n.Name {
			n.Position = l.position
			n.Expanded = l.expanded
		}
	})
}
