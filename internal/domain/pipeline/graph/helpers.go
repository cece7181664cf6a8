package graph

import (
	"pipeforge/internal/domain/pipeline/model"
)

// FindNodeRecursive 深度优先查找节点，返回指向切片元素的指针以便原地修改
func FindNodeRecursive(nodes []model.GraphNode, id string) *model.GraphNode {
	if id == "" {
		return nil
	}
	for i := range nodes {
		if nodes[i].ID == id {
			return &nodes[i]
		}
		if found := FindNodeRecursive(nodes[i].Children, id); found != nil {
			return found
		}
	}
	return nil
}

// FindParent 查找直接包含 id 的父节点，以及子节点在父节点 children 中的位置
func FindParent(nodes []model.GraphNode, id string) (*model.GraphNode, int) {
	for i := range nodes {
		for j := range nodes[i].Children {
			if nodes[i].Children[j].ID == id {
				return &nodes[i], j
			}
		}
		if parent, idx := FindParent(nodes[i].Children, id); parent != nil {
			return parent, idx
		}
	}
	return nil, -1
}

// Walk 先序遍历所有节点（含子节点）
func Walk(nodes []model.GraphNode, fn func(n *model.GraphNode)) {
	for i := range nodes {
		fn(&nodes[i])
		Walk(nodes[i].Children, fn)
	}
}

// SyncNodePortsWithParams 让 provider/storage 输入端口与参数一一对应：
// 参数已设置则端口存在（保留已有 connectedTo），未设置则移除端口；其他端口不动
func SyncNodePortsWithParams(nodes []model.GraphNode) []model.GraphNode {
	out := model.CloneNodes(nodes)
	Walk(out, func(n *model.GraphNode) {
		if n.IsGroup() {
			return
		}
		for _, param := range model.ReferenceParams {
			if model.StringParam(n.Params, param) != "" {
				n.EnsureInput(param)
				continue
			}
			removeInput(n, param)
		}
	})
	return out
}

// CleanupStaleConnections 去掉端点节点或命名端口已不存在的连线
func CleanupStaleConnections(nodes []model.GraphNode, conns []model.Connection) []model.Connection {
	out := make([]model.Connection, 0, len(conns))
	for _, c := range conns {
		from := FindNodeRecursive(nodes, c.From.NodeID)
		to := FindNodeRecursive(nodes, c.To.NodeID)
		if from == nil || to == nil {
			continue
		}
		if from.Output(c.From.Output) == nil || to.Input(c.To.Input) == nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// PruneUnresolved 去掉端点节点不存在、或来源输出端口不存在的连线。
// 目标的 provider/storage 输入端口缺失不算失效，WirePorts 会补建
func PruneUnresolved(nodes []model.GraphNode, conns []model.Connection) []model.Connection {
	out := make([]model.Connection, 0, len(conns))
	for _, c := range conns {
		from := FindNodeRecursive(nodes, c.From.NodeID)
		to := FindNodeRecursive(nodes, c.To.NodeID)
		if from == nil || to == nil || from.Output(c.From.Output) == nil {
			continue
		}
		if to.Input(c.To.Input) == nil && !isReference(c.To.Input) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// WirePorts 依据连线重写所有端口的 connectedTo，并把来源节点名写入 provider/storage 参数。
// 端点无法解析的连线被跳过；引用类输入端口缺失时自动补建
func WirePorts(nodes []model.GraphNode, conns []model.Connection) {
	Walk(nodes, func(n *model.GraphNode) {
		for i := range n.Inputs {
			n.Inputs[i].ConnectedTo = ""
		}
		for i := range n.Outputs {
			n.Outputs[i].ConnectedTo = ""
		}
	})

	for _, c := range conns {
		from := FindNodeRecursive(nodes, c.From.NodeID)
		to := FindNodeRecursive(nodes, c.To.NodeID)
		if from == nil || to == nil {
			continue
		}
		out := from.Output(c.From.Output)
		in := to.Input(c.To.Input)
		if in == nil && isReference(c.To.Input) {
			in = to.EnsureInput(c.To.Input)
		}
		if out == nil || in == nil {
			continue
		}
		out.ConnectedTo = to.ID
		in.ConnectedTo = from.ID
		if isReference(c.To.Input) {
			if to.Params == nil {
				to.Params = map[string]interface{}{}
			}
			to.Params[c.To.Input] = from.Name
		}
	}
}

// InboundIndex 目标节点 -> 输入端口 -> 连线
func InboundIndex(conns []model.Connection) map[string]map[string]model.Connection {
	idx := make(map[string]map[string]model.Connection)
	for _, c := range conns {
		if idx[c.To.NodeID] == nil {
			idx[c.To.NodeID] = make(map[string]model.Connection)
		}
		idx[c.To.NodeID][c.To.Input] = c
	}
	return idx
}

// DedupeInbound 每个 (nodeID, input) 只保留最后一条入线，保持原有相对顺序
func DedupeInbound(conns []model.Connection) []model.Connection {
	last := make(map[[2]string]int, len(conns))
	for i, c := range conns {
		last[[2]string{c.To.NodeID, c.To.Input}] = i
	}
	out := make([]model.Connection, 0, len(last))
	for i, c := range conns {
		if last[[2]string{c.To.NodeID, c.To.Input}] == i {
			out = append(out, c)
		}
	}
	return out
}

func removeInput(n *model.GraphNode, name string) {
	kept := n.Inputs[:0]
	for _, p := range n.Inputs {
		if p.Name != name {
			kept = append(kept, p)
		}
	}
	n.Inputs = kept
}

func isReference(name string) bool {
	_, ok := model.ReferenceTarget(name)
	return ok
}
