package event

import (
	"pipeforge/internal/domain/pipeline/model"
)

// Type 事件类型标识
type Type string

const (
	TypeConfigUpdated      Type = "config-updated"
	TypeNodesUpdated       Type = "nodes-updated"
	TypeConnectionsUpdated Type = "connections-updated"
	TypeNodeSelected       Type = "node-selected"
	TypePluginUpdated      Type = "plugin-updated"
)

// AllTypes 事件目录
var AllTypes = []Type{
	TypeConfigUpdated,
	TypeNodesUpdated,
	TypeConnectionsUpdated,
	TypeNodeSelected,
	TypePluginUpdated,
}

// Event 总线上传递的事件。Payload 按类型分别为
// *model.Config / []model.GraphNode / []model.Connection / *string / PluginUpdate
type Event struct {
	Type    Type        `json:"type"`
	Payload interface{} `json:"payload"`
}

// PluginUpdate plugin-updated 事件载荷
type PluginUpdate struct {
	ID     string                 `json:"id"`
	Type   model.Role             `json:"type"`
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params"`
}

func NewConfigUpdated(cfg *model.Config) Event {
	return Event{Type: TypeConfigUpdated, Payload: cfg}
}

func NewNodesUpdated(nodes []model.GraphNode) Event {
	return Event{Type: TypeNodesUpdated, Payload: nodes}
}

func NewConnectionsUpdated(conns []model.Connection) Event {
	return Event{Type: TypeConnectionsUpdated, Payload: conns}
}

// NewNodeSelected id 为空表示取消选中，载荷为 nil
func NewNodeSelected(id string) Event {
	if id == "" {
		return Event{Type: TypeNodeSelected, Payload: (*string)(nil)}
	}
	return Event{Type: TypeNodeSelected, Payload: &id}
}

func NewPluginUpdated(p PluginUpdate) Event {
	return Event{Type: TypePluginUpdated, Payload: p}
}
