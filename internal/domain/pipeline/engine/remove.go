package engine

import (
	"pipeforge/internal/domain/pipeline/event"
	"pipeforge/internal/domain/pipeline/graph"
	"pipeforge/internal/domain/pipeline/model"
)

// RemoveNode 删除节点并级联清理配置中的引用，随后做一次全量同步。
// 节点不存在或类型无法识别时返回 false，状态不变
func (e *Engine) RemoveNode(id string) bool {
	return e.run("RemoveNode", func() ([]event.Event, bool) {
		if id == "" {
			e.log.Warn("[Engine] RemoveNode called without id")
			return nil, false
		}
		target := graph.FindNodeRecursive(e.nodes, id)
		if target == nil {
			e.log.Warn("[Engine] Node to remove not found", "node_id", id)
			return nil, false
		}

		removed := make(map[string]bool)
		graph.Walk([]model.GraphNode{*target}, func(n *model.GraphNode) {
			removed[n.ID] = true
		})

		cfg := projectConfig(e.config, e.nodes, e.conns)
		var ok bool
		if parent, idx := graph.FindParent(e.nodes, id); parent != nil {
			ok = e.removeChild(cfg, parent, idx)
		} else {
			ok = e.removeTopLevel(cfg, target)
		}
		if !ok {
			return nil, false
		}

		dropped := 0
		for _, c := range e.conns {
			for rid := range removed {
				if c.Touches(rid) {
					dropped++
					break
				}
			}
		}

		// 连线都是引用连线，随配置重建；被删节点上的连线自然消失
		nodes, conns := graph.Rebuild(cfg)
		carryLayout(e.nodes, nodes)
		carryStickyParams(e.nodes, e.conns, nodes, removed)
		e.config, e.nodes, e.conns = cfg, nodes, conns

		var events []event.Event
		if e.selected != "" && (removed[e.selected] || graph.FindNodeRecursive(nodes, e.selected) == nil) {
			e.selected = ""
			events = append(events, event.NewNodeSelected(""))
		}

		e.log.Info("[Engine] Node removed", "node_id", id, "config", cfg.Name, "connections_dropped", dropped)
		e.forceSyncLocked()
		return events, true
	})
}

// removeChild 按子项在父节点活 children 中的位置删除
func (e *Engine) removeChild(cfg *model.Config, parent *model.GraphNode, idx int) bool {
	if parent.IsGroup() {
		role, ok := model.ParseGroupID(parent.ID)
		if !ok {
			return false
		}
		specs := cfg.List(role)
		if idx >= len(specs) {
			e.log.Warn("[Engine] Group child outside config array", "group_id", parent.ID, "index", idx)
			return false
		}
		cfg.SetList(role, append(specs[:idx:idx], specs[idx+1:]...))
		return true
	}

	role, pidx, ok := model.ParseNodeID(parent.ID)
	if !ok {
		e.log.Warn("[Engine] Cannot locate parent in config", "parent_id", parent.ID)
		return false
	}
	specs := cfg.List(role)
	if pidx >= len(specs) {
		return false
	}
	children := specs[pidx].Children()
	if idx >= len(children) {
		e.log.Warn("[Engine] Nested child outside config children", "parent_id", parent.ID, "index", idx)
		return false
	}
	specs[pidx].SetChildren(append(children[:idx:idx], children[idx+1:]...))
	return true
}

// removeTopLevel ai/storage 按下标删除并清理引用；分组按整组删除。
// source/enricher/generator 总是分组的子项，由 removeChild 处理
func (e *Engine) removeTopLevel(cfg *model.Config, n *model.GraphNode) bool {
	if role, ok := model.ParseGroupID(n.ID); ok {
		cfg.SetList(role, []model.PluginSpec{})
		return true
	}

	switch n.Type {
	case model.RoleAI, model.RoleStorage:
		_, idx, ok := model.ParseNodeID(n.ID)
		specs := cfg.List(n.Type)
		if !ok || idx >= len(specs) {
			e.log.Warn("[Engine] Cannot locate plugin in config", "node_id", n.ID)
			return false
		}
		specs = append(specs[:idx:idx], specs[idx+1:]...)
		cfg.SetList(n.Type, specs)
		if n.Type == model.RoleAI {
			cfg.Providers = nil
		}
		for _, spec := range specs {
			if spec.Name == n.Name {
				return true
			}
		}
		param := n.Type.OutputPortName()
		for _, role := range model.GroupedRoles {
			cfg.SetList(role, clearReferences(cfg.List(role), param, n.Name))
		}
		return true
	}

	e.log.Warn("[Engine] Unknown node type", "node_id", n.ID, "type", n.Type)
	return false
}

// carryStickyParams 重建会丢掉没有连线支撑的 provider/storage 参数；
// 把它们从旧图带回新节点。先按 ID 与名称匹配，下标移位后再按同类型唯一名称匹配
func carryStickyParams(prev []model.GraphNode, prevConns []model.Connection, next []model.GraphNode, removed map[string]bool) {
	type sticky struct {
		name   string
		params map[string]interface{}
	}
	inbound := graph.InboundIndex(prevConns)
	byID := make(map[string]sticky)
	byName := make(map[string][]sticky)
	graph.Walk(prev, func(n *model.GraphNode) {
		if removed[n.ID] {
			return
		}
		params := make(map[string]interface{})
		for _, param := range model.ReferenceParams {
			if model.StringParam(n.Params, param) == "" {
				continue
			}
			if _, wired := inbound[n.ID][param]; wired {
				continue
			}
			params[param] = n.Params[param]
		}
		if len(params) == 0 {
			return
		}
		s := sticky{name: n.Name, params: params}
		byID[n.ID] = s
		key := string(n.Type) + "/" + n.Name
		byName[key] = append(byName[key], s)
	})
	if len(byID) == 0 {
		return
	}

	graph.Walk(next, func(n *model.GraphNode) {
		s, ok := byID[n.ID]
		if !ok || s.name != n.Name {
			candidates := byName[string(n.Type)+"/"+n.Name]
			if len(candidates) != 1 {
				return
			}
			s = candidates[0]
		}
		if n.Params == nil {
			n.Params = map[string]interface{}{}
		}
		for param, v := range s.params {
			if _, set := n.Params[param]; !set {
				n.Params[param] = v
			}
		}
	})
}

// clearReferences 删除所有以 name 为 provider/storage 的引用，递归处理 children
func clearReferences(specs []model.PluginSpec, param, name string) []model.PluginSpec {
	for i := range specs {
		if specs[i].Reference(param) == name {
			delete(specs[i].Params, param)
		}
		if specs[i].HasChildren() {
			specs[i].SetChildren(clearReferences(specs[i].Children(), param, name))
		}
	}
	return specs
}
