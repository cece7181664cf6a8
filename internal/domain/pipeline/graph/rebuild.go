package graph

import (
	"pipeforge/internal/domain/pipeline/model"
	applog "pipeforge/internal/platform/log"
)

// 布局常量，只影响坐标，不影响正确性
const (
	columnX        = 50.0
	topY           = 50.0
	rowSpacing     = 120.0
	groupStartX    = 350.0
	groupSpacingX  = 320.0
	childOffsetX   = 20.0
	childOffsetY   = 60.0
	childSpacingY  = 100.0
	nestedSpacingY = 80.0
)

// Rebuild 从配置推导节点与连线。结果只取决于配置数组的内容和顺序。
// 引用名无法解析时不生成连线和端口，参数原样保留
func Rebuild(cfg *model.Config) ([]model.GraphNode, []model.Connection) {
	nodes := []model.GraphNode{}
	conns := []model.Connection{}
	if cfg == nil {
		return nodes, conns
	}

	// 1. 左列：storage 与 ai 节点
	row := 0
	for _, role := range []model.Role{model.RoleStorage, model.RoleAI} {
		for i, spec := range cfg.List(role) {
			n := pluginNode(role, model.NodeID(role, i), spec)
			n.Position = model.Position{X: columnX, Y: topY + float64(row)*rowSpacing}
			n.Outputs = []model.Port{{Name: role.OutputPortName(), Type: role.OutputPortName()}}
			nodes = append(nodes, n)
			row++
		}
	}

	// 2. 分组容器：每个非空的 sources/enrichers/generators 一个
	index := IndexConfig(cfg)
	for _, id := range index.Duplicates() {
		applog.Warn("[Pipeline] Duplicate plugin name, first match wins", "node_id", id)
	}

	col := 0
	for _, role := range model.GroupedRoles {
		specs := cfg.List(role)
		if len(specs) == 0 {
			continue
		}
		group := model.GraphNode{
			ID:       role.GroupID(),
			Type:     model.RoleGroup,
			Name:     string(role) + "s",
			Position: model.Position{X: groupStartX + float64(col)*groupSpacingX, Y: topY},
			Inputs:   []model.Port{},
			Outputs:  []model.Port{},
			Params:   map[string]interface{}{},
			IsParent: true,
			Expanded: true,
		}
		col++

		for i, spec := range specs {
			child := pluginNode(role, model.NodeID(role, i), spec)
			child.ParentID = group.ID
			child.Position = model.Position{
				X: group.Position.X + childOffsetX,
				Y: group.Position.Y + childOffsetY + float64(i)*childSpacingY,
			}
			conns = append(conns, resolveReferences(&child, index)...)

			// 3. 复合插件：params.children 展开为嵌套子节点
			if spec.HasChildren() {
				conns = append(conns, ExpandChildren(&child, spec.Children(), index)...)
			}
			group.Children = append(group.Children, child)
		}
		nodes = append(nodes, group)
	}

	// 4. 回填端口 connectedTo
	WirePorts(nodes, conns)
	return nodes, conns
}

// ExpandChildren 用嵌套插件描述替换 parent 的子节点，返回子节点的引用连线
func ExpandChildren(parent *model.GraphNode, specs []model.PluginSpec, index *NameIndex) []model.Connection {
	var conns []model.Connection
	parent.IsParent = true
	parent.Children = make([]model.GraphNode, 0, len(specs))
	for j, nested := range specs {
		cn := pluginNode(parent.Type, model.ChildNodeID(parent.ID, j), nested)
		cn.IsChild = true
		cn.ParentID = parent.ID
		cn.Position = model.Position{
			X: parent.Position.X + childOffsetX,
			Y: parent.Position.Y + childOffsetY + float64(j)*nestedSpacingY,
		}
		conns = append(conns, resolveReferences(&cn, index)...)
		parent.Children = append(parent.Children, cn)
	}
	return conns
}

// pluginNode 把插件描述转为节点，params 中的 children 不进入节点参数
func pluginNode(role model.Role, id string, spec model.PluginSpec) model.GraphNode {
	params := model.CloneParams(spec.Params)
	delete(params, model.ParamChildren)
	n := model.GraphNode{
		ID:         id,
		Type:       role,
		PluginType: spec.Type,
		Name:       spec.Name,
		Inputs:     []model.Port{},
		Outputs:    []model.Port{},
		Params:     params,
	}
	if spec.Interval != nil {
		v := *spec.Interval
		n.Interval = &v
	}
	return n
}

// resolveReferences 按名称解析 provider/storage，命中则创建输入端口与连线
func resolveReferences(n *model.GraphNode, index *NameIndex) []model.Connection {
	var conns []model.Connection
	for _, param := range model.ReferenceParams {
		name := model.StringParam(n.Params, param)
		if name == "" {
			continue
		}
		target, _ := model.ReferenceTarget(param)
		sourceID, ok := index.Lookup(target, name)
		if !ok {
			applog.Error("[Pipeline] Unresolved plugin reference",
				"node_id", n.ID,
				"param", param,
				"name", name,
			)
			continue
		}
		n.EnsureInput(param)
		conns = append(conns, model.NewConnection(sourceID, target.OutputPortName(), n.ID, param))
	}
	return conns
}
