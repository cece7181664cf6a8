package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Role 插件在流水线中的角色，同时是节点 ID 的前缀
type Role string

const (
	RoleSource    Role = "source"
	RoleEnricher  Role = "enricher"
	RoleGenerator Role = "generator"
	RoleAI        Role = "ai"
	RoleStorage   Role = "storage"

	// RoleGroup 分组容器节点的类型，只存在于图中
	RoleGroup Role = "group"
)

// AllRoles 配置数组的固定顺序
var AllRoles = []Role{RoleSource, RoleEnricher, RoleGenerator, RoleAI, RoleStorage}

// GroupedRoles 以分组节点呈现的角色
var GroupedRoles = []Role{RoleSource, RoleEnricher, RoleGenerator}

const childInfix = "-child-"

// IsGrouped 是否以分组节点呈现
func (r Role) IsGrouped() bool {
	return r == RoleSource || r == RoleEnricher || r == RoleGenerator
}

// GroupID 分组容器节点的固定 ID
func (r Role) GroupID() string {
	switch r {
	case RoleSource:
		return "sources-group"
	case RoleEnricher:
		return "enrichers-group"
	case RoleGenerator:
		return "generators-group"
	}
	return ""
}

// ReferenceTarget 引用参数指向的角色：provider -> ai，storage -> storage
func ReferenceTarget(param string) (Role, bool) {
	switch param {
	case ParamProvider:
		return RoleAI, true
	case ParamStorage:
		return RoleStorage, true
	}
	return "", false
}

// OutputPortName 被引用角色的输出端口名
func (r Role) OutputPortName() string {
	switch r {
	case RoleAI:
		return ParamProvider
	case RoleStorage:
		return ParamStorage
	}
	return ""
}

// NodeID 合成位置型节点 ID，例如 source-0、ai-2
func NodeID(role Role, index int) string {
	return fmt.Sprintf("%s-%d", role, index)
}

// ChildNodeID 合成嵌套子节点 ID，例如 source-0-child-1
func ChildNodeID(parentID string, index int) string {
	return fmt.Sprintf("%s%s%d", parentID, childInfix, index)
}

// ParseNodeID 解析 ${role}-${index}；分组 ID 与子节点 ID 返回 false
func ParseNodeID(id string) (Role, int, bool) {
	if strings.Contains(id, childInfix) {
		return "", 0, false
	}
	idx := strings.LastIndex(id, "-")
	if idx <= 0 || idx == len(id)-1 {
		return "", 0, false
	}
	role := Role(id[:idx])
	n, err := strconv.Atoi(id[idx+1:])
	if err != nil || n < 0 {
		return "", 0, false
	}
	for _, r := range AllRoles {
		if r == role {
			return role, n, true
		}
	}
	return "", 0, false
}

// ParseGroupID 解析分组容器 ID
func ParseGroupID(id string) (Role, bool) {
	for _, r := range GroupedRoles {
		if r.GroupID() == id {
			return r, true
		}
	}
	return "", false
}
