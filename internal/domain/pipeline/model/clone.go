package model

import (
	"encoding/json"

	applog "pipeforge/internal/platform/log"
)

// CloneConfig 通过 JSON 往返深拷贝配置；序列化失败时退化为结构拷贝（参数内未知类型共享引用）
func CloneConfig(c *Config) *Config {
	if c == nil {
		return nil
	}
	var out Config
	if err := roundTrip(c, &out); err != nil {
		applog.Warn("[Pipeline] Config deep copy failed, using shallow copy", "error", err)
		return shallowConfig(c)
	}
	out.Normalize()
	return &out
}

// CloneGraph 深拷贝节点与连线，失败时同样退化
func CloneGraph(nodes []GraphNode, conns []Connection) ([]GraphNode, []Connection) {
	var outNodes []GraphNode
	if err := roundTrip(nodes, &outNodes); err != nil {
		applog.Warn("[Pipeline] Node deep copy failed, using shallow copy", "error", err)
		outNodes = CloneNodes(nodes)
	}
	if outNodes == nil {
		outNodes = []GraphNode{}
	}
	normalizeNodes(outNodes)
	return outNodes, CloneConnections(conns)
}

func roundTrip(in, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func shallowConfig(c *Config) *Config {
	out := &Config{
		Name:     c.Name,
		Settings: CloneParams(c.Settings),
	}
	for _, role := range AllRoles {
		src := c.List(role)
		specs := make([]PluginSpec, len(src))
		for i, s := range src {
			specs[i] = s.Clone()
		}
		out.SetList(role, specs)
	}
	if c.Providers != nil {
		out.Providers = make([]PluginSpec, len(c.Providers))
		for i, s := range c.Providers {
			out.Providers[i] = s.Clone()
		}
	}
	out.Normalize()
	return out
}

func normalizeNodes(nodes []GraphNode) {
	for i := range nodes {
		if nodes[i].Params == nil {
			nodes[i].Params = map[string]interface{}{}
		}
		if nodes[i].Inputs == nil {
			nodes[i].Inputs = []Port{}
		}
		if nodes[i].Outputs == nil {
			nodes[i].Outputs = []Port{}
		}
		normalizeNodes(nodes[i].Children)
	}
}
