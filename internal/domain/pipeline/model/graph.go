package model

// Position 节点画布坐标
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Port 节点上的命名端口；ConnectedTo 只是 Connection 的投影缓存
type Port struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	ConnectedTo string `json:"connectedTo,omitempty"`
}

// Endpoint 连接的一端
type Endpoint struct {
	NodeID string `json:"nodeId"`
	Output string `json:"output,omitempty"`
	Input  string `json:"input,omitempty"`
}

// Connection 唯一权威的连线记录
type Connection struct {
	From Endpoint `json:"from"`
	To   Endpoint `json:"to"`
}

// NewConnection 创建 from.output -> to.input 的连线
func NewConnection(fromID, output, toID, input string) Connection {
	return Connection{
		From: Endpoint{NodeID: fromID, Output: output},
		To:   Endpoint{NodeID: toID, Input: input},
	}
}

// Touches 连线是否有一端落在指定节点
func (c Connection) Touches(nodeID string) bool {
	return c.From.NodeID == nodeID || c.To.NodeID == nodeID
}

// GraphNode 可编辑图中的节点
type GraphNode struct {
	ID         string                 `json:"id"`
	Type       Role                   `json:"type"`
	PluginType string                 `json:"pluginType,omitempty"`
	Name       string                 `json:"name"`
	Position   Position               `json:"position"`
	Inputs     []Port                 `json:"inputs"`
	Outputs    []Port                 `json:"outputs"`
	Params     map[string]interface{} `json:"params"`
	Interval   *int                   `json:"interval,omitempty"`
	IsParent   bool                   `json:"isParent,omitempty"`
	Expanded   bool                   `json:"expanded,omitempty"`
	IsChild    bool                   `json:"isChild,omitempty"`
	ParentID   string                 `json:"parentId,omitempty"`
	Children   []GraphNode            `json:"children,omitempty"`
}

// IsGroup 是否为分组容器节点
func (n *GraphNode) IsGroup() bool {
	return n.Type == RoleGroup
}

// Input 按名称查找输入端口
func (n *GraphNode) Input(name string) *Port {
	for i := range n.Inputs {
		if n.Inputs[i].Name == name {
			return &n.Inputs[i]
		}
	}
	return nil
}

// Output 按名称查找输出端口
func (n *GraphNode) Output(name string) *Port {
	for i := range n.Outputs {
		if n.Outputs[i].Name == name {
			return &n.Outputs[i]
		}
	}
	return nil
}

// EnsureInput 返回输入端口，不存在时创建
func (n *GraphNode) EnsureInput(name string) *Port {
	if p := n.Input(name); p != nil {
		return p
	}
	n.Inputs = append(n.Inputs, Port{Name: name, Type: name})
	return &n.Inputs[len(n.Inputs)-1]
}

// Clone 深拷贝节点（含子节点）
func (n GraphNode) Clone() GraphNode {
	out := n
	out.Inputs = append([]Port(nil), n.Inputs...)
	out.Outputs = append([]Port(nil), n.Outputs...)
	out.Params = CloneParams(n.Params)
	if n.Interval != nil {
		v := *n.Interval
		out.Interval = &v
	}
	if n.Children != nil {
		out.Children = make([]GraphNode, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}

// CloneNodes 深拷贝节点列表
func CloneNodes(nodes []GraphNode) []GraphNode {
	out := make([]GraphNode, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

// CloneConnections 拷贝连线列表
func CloneConnections(conns []Connection) []Connection {
	out := make([]Connection, len(conns))
	copy(out, conns)
	return out
}
