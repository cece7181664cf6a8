package engine

import (
	"pipeforge/internal/domain/pipeline/graph"
	"pipeforge/internal/domain/pipeline/model"
)

// projectLocked 图 -> 配置投影，结果写回 e.config
func (e *Engine) projectLocked() {
	e.config = projectConfig(e.config, e.nodes, e.conns)
}

// projectConfig 把节点的 name/params 写回对应数组槽位，provider/storage 只由连线决定：
// 有入线则写来源节点名，无入线则从配置中删除该字段（节点上的参数不动）。
// 复合插件的 children 按活节点重建，已不存在的子项被清理
func projectConfig(base *model.Config, nodes []model.GraphNode, conns []model.Connection) *model.Config {
	cfg := model.CloneConfig(base)
	if cfg == nil {
		cfg = model.NewConfig("")
	}
	p := newProjector(cfg, nodes, conns)
	for i := range nodes {
		n := &nodes[i]
		if n.IsGroup() {
			for j := range n.Children {
				p.node(&n.Children[j])
			}
			continue
		}
		p.node(n)
	}
	cfg.MirrorProviders()
	return cfg
}

type projector struct {
	cfg     *model.Config
	nodes   []model.GraphNode
	inbound map[string]map[string]model.Connection
}

func newProjector(cfg *model.Config, nodes []model.GraphNode, conns []model.Connection) *projector {
	return &projector{cfg: cfg, nodes: nodes, inbound: graph.InboundIndex(conns)}
}

func (p *projector) node(n *model.GraphNode) {
	role, idx, ok := model.ParseNodeID(n.ID)
	if !ok {
		return
	}
	specs := growList(p.cfg, role, idx)
	spec := &specs[idx]
	prevChildren := spec.Children()
	hadChildren := spec.HasChildren()

	spec.Name = n.Name
	if n.PluginType != "" {
		spec.Type = n.PluginType
	}
	spec.Params = model.CloneParams(n.Params)
	delete(spec.Params, model.ParamChildren)
	spec.Interval = copyInterval(n.Interval)
	p.references(spec.Params, n.ID)

	if hadChildren || (n.IsParent && n.Children != nil) {
		children := make([]model.PluginSpec, len(n.Children))
		for i := range n.Children {
			c := &n.Children[i]
			child := model.PluginSpec{Params: map[string]interface{}{}}
			if i < len(prevChildren) {
				child = prevChildren[i].Clone()
			}
			child.Name = c.Name
			if c.PluginType != "" {
				child.Type = c.PluginType
			}
			for k, v := range model.CloneParams(c.Params) {
				child.Params[k] = v
			}
			if c.Interval != nil {
				child.Interval = copyInterval(c.Interval)
			}
			p.references(child.Params, c.ID)
			children[i] = child
		}
		spec.SetChildren(children)
	}
	p.cfg.SetList(role, specs)
}

// references 按入线设置或删除 provider/storage
func (p *projector) references(params map[string]interface{}, nodeID string) {
	for _, param := range model.ReferenceParams {
		if c, ok := p.inbound[nodeID][param]; ok {
			if src := graph.FindNodeRecursive(p.nodes, c.From.NodeID); src != nil {
				params[param] = src.Name
				continue
			}
		}
		delete(params, param)
	}
}

// growList 确保 role 数组至少有 idx+1 项，不足时补空占位
func growList(cfg *model.Config, role model.Role, idx int) []model.PluginSpec {
	specs := cfg.List(role)
	for len(specs) <= idx {
		specs = append(specs, model.PluginSpec{Params: map[string]interface{}{}})
	}
	cfg.SetList(role, specs)
	return specs
}

func copyInterval(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
