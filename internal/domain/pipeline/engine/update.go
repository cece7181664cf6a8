package engine

import (
	"pipeforge/internal/domain/pipeline/event"
	"pipeforge/internal/domain/pipeline/graph"
	"pipeforge/internal/domain/pipeline/model"
)

// PluginUpdateRequest 单个插件的整体替换。Params 不是对象时按空对象处理；
// IsChild/ParentID 用于定位复合插件中的嵌套子项
type PluginUpdateRequest struct {
	ID       string      `json:"id"`
	Name     string      `json:"name,omitempty"`
	Params   interface{} `json:"params"`
	IsChild  bool        `json:"isChild,omitempty"`
	ParentID string      `json:"parentId,omitempty"`
}

// UpdatePlugin 同时在图和配置上应用一次插件编辑。
// 所有修改在副本上完成，全部成功才替换引擎状态
func (e *Engine) UpdatePlugin(req PluginUpdateRequest) bool {
	return e.run("UpdatePlugin", func() ([]event.Event, bool) {
		if req.ID == "" {
			e.log.Warn("[Engine] UpdatePlugin called without id")
			return nil, false
		}
		params, ok := req.Params.(map[string]interface{})
		if !ok {
			if req.Params != nil {
				e.log.Warn("[Engine] Plugin params is not an object, using empty params", "node_id", req.ID)
			}
			params = map[string]interface{}{}
		}
		params = model.CloneParams(params)

		cfg := model.CloneConfig(e.config)
		nodes, conns := model.CloneGraph(e.nodes, e.conns)
		node := graph.FindNodeRecursive(nodes, req.ID)
		if node == nil {
			e.log.Warn("[Engine] Plugin not found", "node_id", req.ID)
			return nil, false
		}
		if node.IsGroup() {
			e.log.Warn("[Engine] Group nodes cannot be updated as plugins", "node_id", req.ID)
			return nil, false
		}

		// 1. 节点：名称与参数整体替换，children 单独处理
		var newChildren []model.PluginSpec
		if raw, ok := params[model.ParamChildren]; ok {
			holder := model.PluginSpec{Params: map[string]interface{}{model.ParamChildren: raw}}
			newChildren = holder.Children()
			delete(params, model.ParamChildren)
		}
		if req.Name != "" {
			node.Name = req.Name
		}
		node.Params = params

		if newChildren != nil {
			conns = replaceChildNodes(node, newChildren, nodes, conns)
		}

		// 2. 引用：provider/storage 逐个重接
		for _, param := range model.ReferenceParams {
			conns = e.rewireReference(nodes, conns, node, param)
		}
		graph.WirePorts(nodes, conns)

		// 3. 配置：写回对应数组槽位
		if !e.writePluginConfig(cfg, nodes, conns, node, req, newChildren) {
			return nil, false
		}
		// 改名会影响其他节点写入配置的引用名，整体再投影一次
		cfg = projectConfig(cfg, nodes, conns)

		update := pluginUpdateOf(node)
		e.config, e.nodes, e.conns = cfg, nodes, conns
		events := e.snapshotEventsLocked()
		if e.selected != "" && graph.FindNodeRecursive(nodes, e.selected) == nil {
			e.selected = ""
			events = append(events, event.NewNodeSelected(""))
		}
		e.deferPluginUpdates([]event.PluginUpdate{update})

		e.log.Debug("[Engine] Plugin updated", "node_id", update.ID, "name", update.Name)
		return events, true
	})
}

// rewireReference 让 node 的某个引用输入与参数值一致。
// 值为空则断开；与当前来源同名则不动；否则改接到同名节点，找不到时保留参数、不建连线
func (e *Engine) rewireReference(nodes []model.GraphNode, conns []model.Connection, node *model.GraphNode, param string) []model.Connection {
	target, _ := model.ReferenceTarget(param)
	value := model.StringParam(node.Params, param)

	var current *model.Connection
	for i := range conns {
		c := &conns[i]
		if c.To.NodeID == node.ID && c.To.Input == param {
			current = c
		}
	}

	if value == "" {
		delete(node.Params, param)
		kept := node.Inputs[:0]
		for _, p := range node.Inputs {
			if p.Name != param {
				kept = append(kept, p)
			}
		}
		node.Inputs = kept
		return dropInbound(conns, node.ID, param)
	}

	if current != nil {
		if src := graph.FindNodeRecursive(nodes, current.From.NodeID); src != nil && src.Type == target && src.Name == value {
			return conns
		}
		conns = dropInbound(conns, node.ID, param)
	}

	in := node.EnsureInput(param)
	in.ConnectedTo = ""
	sourceID, ok := graph.IndexNodes(nodes).Lookup(target, value)
	if !ok {
		e.log.Warn("[Engine] Referenced plugin not found, keeping param without connection",
			"node_id", node.ID,
			"param", param,
			"name", value,
		)
		return conns
	}
	src := graph.FindNodeRecursive(nodes, sourceID)
	if src.Output(target.OutputPortName()) == nil {
		src.Outputs = append(src.Outputs, model.Port{Name: target.OutputPortName(), Type: target.OutputPortName()})
	}
	return append(conns, model.NewConnection(sourceID, target.OutputPortName(), node.ID, param))
}

// writePluginConfig 定位配置槽位并写入名称与参数；嵌套子项按父节点活 children 中的位置定位
func (e *Engine) writePluginConfig(cfg *model.Config, nodes []model.GraphNode, conns []model.Connection, node *model.GraphNode, req PluginUpdateRequest, newChildren []model.PluginSpec) bool {
	parentID := ""
	switch {
	case req.IsChild && req.ParentID != "":
		parentID = req.ParentID
	case node.IsChild && node.ParentID != "":
		parentID = node.ParentID
	}

	var parent *model.GraphNode
	if parentID != "" {
		if parent = graph.FindNodeRecursive(nodes, parentID); parent == nil {
			e.log.Warn("[Engine] Parent plugin not found", "node_id", node.ID, "parent_id", parentID)
			return false
		}
	}

	p := newProjector(cfg, nodes, conns)
	params := model.CloneParams(node.Params)
	p.references(params, node.ID)

	// 分组容器下的直接子项就是顶层数组条目
	if parent != nil && !parent.IsGroup() {
		role, pidx, ok := model.ParseNodeID(parent.ID)
		if !ok {
			e.log.Warn("[Engine] Cannot locate parent in config", "parent_id", parentID)
			return false
		}
		childIdx := -1
		for i := range parent.Children {
			if parent.Children[i].ID == node.ID {
				childIdx = i
				break
			}
		}
		if childIdx < 0 {
			e.log.Warn("[Engine] Child not found under parent", "node_id", node.ID, "parent_id", parentID)
			return false
		}

		specs := growList(cfg, role, pidx)
		children := append([]model.PluginSpec(nil), specs[pidx].Children()...)
		for len(children) <= childIdx {
			children = append(children, model.PluginSpec{Params: map[string]interface{}{}})
		}
		children[childIdx].Name = node.Name
		if node.PluginType != "" {
			children[childIdx].Type = node.PluginType
		}
		children[childIdx].Params = params
		specs[pidx].SetChildren(children)
		cfg.SetList(role, specs)
		return true
	}

	role, idx, ok := model.ParseNodeID(node.ID)
	if !ok {
		e.log.Warn("[Engine] Cannot locate plugin in config", "node_id", node.ID)
		return false
	}
	specs := growList(cfg, role, idx)
	spec := &specs[idx]
	prev, had := spec.Children(), spec.HasChildren()
	spec.Name = node.Name
	if node.PluginType != "" {
		spec.Type = node.PluginType
	}
	spec.Params = params
	switch {
	case newChildren != nil:
		spec.SetChildren(newChildren)
	case had:
		spec.SetChildren(prev)
	}
	cfg.SetList(role, specs)
	return true
}

// replaceChildNodes 用新的嵌套描述重建 node 的子节点，旧子节点上的连线一并丢弃
func replaceChildNodes(node *model.GraphNode, specs []model.PluginSpec, nodes []model.GraphNode, conns []model.Connection) []model.Connection {
	stale := make(map[string]bool)
	graph.Walk(node.Children, func(n *model.GraphNode) {
		stale[n.ID] = true
	})
	conns = dropTouching(conns, stale)
	return append(conns, graph.ExpandChildren(node, specs, graph.IndexNodes(nodes))...)
}

func dropInbound(conns []model.Connection, nodeID, input string) []model.Connection {
	out := conns[:0]
	for _, c := range conns {
		if c.To.NodeID == nodeID && c.To.Input == input {
			continue
		}
		out = append(out, c)
	}
	return out
}

func dropTouching(conns []model.Connection, ids map[string]bool) []model.Connection {
	out := make([]model.Connection, 0, len(conns))
	for _, c := range conns {
		if ids[c.From.NodeID] || ids[c.To.NodeID] {
			continue
		}
		out = append(out, c)
	}
	return out
}
