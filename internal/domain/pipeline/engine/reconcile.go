package engine

import (
	"pipeforge/internal/domain/pipeline/event"
	"pipeforge/internal/domain/pipeline/graph"
	"pipeforge/internal/domain/pipeline/model"
)

type wiredRef struct {
	nodeID string
	param  string
}

// reconcilePorts 让端口 connectedTo 与连线一致，并把来源名写入 provider/storage 参数。
// 之前已接线、现在失去入线的节点会返回 plugin-updated 载荷；其参数保留不删
func (e *Engine) reconcilePorts(nodes []model.GraphNode, conns []model.Connection) []event.PluginUpdate {
	// 1. 快照：有引用参数且端口已接线的节点
	var before []wiredRef
	graph.Walk(nodes, func(n *model.GraphNode) {
		for _, param := range model.ReferenceParams {
			if model.StringParam(n.Params, param) == "" {
				continue
			}
			if p := n.Input(param); p != nil && p.ConnectedTo != "" {
				before = append(before, wiredRef{nodeID: n.ID, param: param})
			}
		}
	})

	// 2. 重写端口
	graph.WirePorts(nodes, conns)

	// 3. 检测失去连线的引用
	inbound := graph.InboundIndex(conns)
	var updates []event.PluginUpdate
	seen := make(map[string]bool)
	for _, ref := range before {
		if _, ok := inbound[ref.nodeID][ref.param]; ok || seen[ref.nodeID] {
			continue
		}
		n := graph.FindNodeRecursive(nodes, ref.nodeID)
		if n == nil {
			continue
		}
		seen[ref.nodeID] = true
		e.log.Debug("[Engine] Reference lost its connection",
			"node_id", ref.nodeID,
			"param", ref.param,
			"value", model.StringParam(n.Params, ref.param),
		)
		updates = append(updates, pluginUpdateOf(n))
	}
	return updates
}

// deferPluginUpdates 登记 plugin-updated，操作的同步事件发出后再交给调度器下一拍投递
func (e *Engine) deferPluginUpdates(updates []event.PluginUpdate) {
	for _, u := range updates {
		e.deferred = append(e.deferred, func() {
			e.bus.Publish(event.NewPluginUpdated(u))
		})
	}
}

// forceSyncLocked 全量同步：连线 -> 参数 -> 端口 -> 清理失效连线 -> 再次连线 -> 投影 -> 保存
func (e *Engine) forceSyncLocked() {
	updates := e.reconcilePorts(e.nodes, e.conns)
	e.nodes = graph.SyncNodePortsWithParams(e.nodes)
	e.conns = graph.DedupeInbound(graph.CleanupStaleConnections(e.nodes, e.conns))
	updates = append(updates, e.reconcilePorts(e.nodes, e.conns)...)
	e.deferPluginUpdates(dedupeUpdates(updates))

	e.projectLocked()
	e.persistLocked()
	e.scheduleEmitLocked()
}

// scheduleEmitLocked 延迟批量投递 config/nodes/connections。
// 已有待发批次时不再重复安排，到期时发送当时的最新状态
func (e *Engine) scheduleEmitLocked() {
	if e.emitPending {
		return
	}
	e.emitPending = true
	e.sched.After(e.cfg.ForceSyncDelay, func() {
		e.mu.Lock()
		e.emitPending = false
		events := e.snapshotEventsLocked()
		e.mu.Unlock()
		e.bus.PublishAll(events)
	})
}

func pluginUpdateOf(n *model.GraphNode) event.PluginUpdate {
	return event.PluginUpdate{
		ID:     n.ID,
		Type:   n.Type,
		Name:   n.Name,
		Params: model.CloneParams(n.Params),
	}
}

func dedupeUpdates(updates []event.PluginUpdate) []event.PluginUpdate {
	seen := make(map[string]bool, len(updates))
	out := updates[:0]
	for _, u := range updates {
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		out = append(out, u)
	}
	return out
}
