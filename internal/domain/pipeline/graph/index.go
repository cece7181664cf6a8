package graph

import (
	"pipeforge/internal/domain/pipeline/model"
)

// NameIndex 角色内 名称 -> 节点 ID 的索引。
// 同名时第一个出现的条目胜出，其余记入 Duplicates
type NameIndex struct {
	entries    map[model.Role]map[string]string
	duplicates []string
}

func newNameIndex() *NameIndex {
	return &NameIndex{entries: make(map[model.Role]map[string]string)}
}

// IndexConfig 从配置数组建立 ai/storage 索引，ID 按数组位置合成
func IndexConfig(cfg *model.Config) *NameIndex {
	idx := newNameIndex()
	if cfg == nil {
		return idx
	}
	for _, role := range []model.Role{model.RoleAI, model.RoleStorage} {
		for i, spec := range cfg.List(role) {
			idx.add(role, spec.Name, model.NodeID(role, i))
		}
	}
	return idx
}

// IndexNodes 从顶层 ai/storage 节点建立索引
func IndexNodes(nodes []model.GraphNode) *NameIndex {
	idx := newNameIndex()
	for _, n := range nodes {
		if n.Type == model.RoleAI || n.Type == model.RoleStorage {
			idx.add(n.Type, n.Name, n.ID)
		}
	}
	return idx
}

// Lookup 按角色和名称解析节点 ID
func (x *NameIndex) Lookup(role model.Role, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	id, ok := x.entries[role][name]
	return id, ok
}

// Duplicates 被忽略的重名条目 ID
func (x *NameIndex) Duplicates() []string {
	return x.duplicates
}

func (x *NameIndex) add(role model.Role, name, id string) {
	if name == "" {
		return
	}
	if x.entries[role] == nil {
		x.entries[role] = make(map[string]string)
	}
	if _, exists := x.entries[role][name]; exists {
		x.duplicates = append(x.duplicates, id)
		return
	}
	x.entries[role][name] = id
}
