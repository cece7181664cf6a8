package model

import (
	"encoding/json"
	"strings"
)

// 参数中的引用字段名
const (
	ParamProvider = "provider"
	ParamStorage  = "storage"
	ParamChildren = "children"
)

// ReferenceParams 通过名称引用其他插件的参数，顺序固定
var ReferenceParams = []string{ParamProvider, ParamStorage}

// PluginSpec 配置数组中的单个插件描述
type PluginSpec struct {
	Name     string                 `json:"name"`
	Type     string                 `json:"type"`
	Params   map[string]interface{} `json:"params"`
	Interval *int                   `json:"interval,omitempty"`
}

// Config 流水线配置，唯一需要持久化的结构
type Config struct {
	Name       string                 `json:"name"`
	Sources    []PluginSpec           `json:"sources"`
	Enrichers  []PluginSpec           `json:"enrichers"`
	Generators []PluginSpec           `json:"generators"`
	AI         []PluginSpec           `json:"ai"`
	Storage    []PluginSpec           `json:"storage"`
	Providers  []PluginSpec           `json:"providers,omitempty"` // ai 的旧版镜像，只读兼容
	Settings   map[string]interface{} `json:"settings,omitempty"`
}

// NewConfig 创建空配置
func NewConfig(name string) *Config {
	return &Config{
		Name:       name,
		Sources:    []PluginSpec{},
		Enrichers:  []PluginSpec{},
		Generators: []PluginSpec{},
		AI:         []PluginSpec{},
		Storage:    []PluginSpec{},
		Settings:   map[string]interface{}{},
	}
}

// List 按角色返回对应数组
func (c *Config) List(role Role) []PluginSpec {
	switch role {
	case RoleSource:
		return c.Sources
	case RoleEnricher:
		return c.Enrichers
	case RoleGenerator:
		return c.Generators
	case RoleAI:
		return c.AI
	case RoleStorage:
		return c.Storage
	}
	return nil
}

// SetList 按角色替换对应数组
func (c *Config) SetList(role Role, specs []PluginSpec) {
	switch role {
	case RoleSource:
		c.Sources = specs
	case RoleEnricher:
		c.Enrichers = specs
	case RoleGenerator:
		c.Generators = specs
	case RoleAI:
		c.AI = specs
	case RoleStorage:
		c.Storage = specs
	}
}

// Normalize 补齐空数组，并把 params.children 统一为 []PluginSpec
func (c *Config) Normalize() {
	for _, role := range AllRoles {
		specs := c.List(role)
		if specs == nil {
			specs = []PluginSpec{}
		}
		for i := range specs {
			specs[i].normalize()
		}
		c.SetList(role, specs)
	}
	for i := range c.Providers {
		c.Providers[i].normalize()
	}
	if c.Settings == nil {
		c.Settings = map[string]interface{}{}
	}
}

// MirrorProviders 仅在 providers 为空且 ai 非空时填充旧版镜像
func (c *Config) MirrorProviders() {
	if len(c.Providers) == 0 && len(c.AI) > 0 {
		c.Providers = make([]PluginSpec, len(c.AI))
		for i, spec := range c.AI {
			c.Providers[i] = spec.Clone()
		}
	}
}

func (p *PluginSpec) normalize() {
	if p.Params == nil {
		p.Params = map[string]interface{}{}
	}
	raw, ok := p.Params[ParamChildren]
	if !ok {
		return
	}
	children := decodeChildren(raw)
	for i := range children {
		children[i].normalize()
	}
	p.Params[ParamChildren] = children
}

// Children 返回嵌套子插件（已规范化时直接返回）
func (p *PluginSpec) Children() []PluginSpec {
	if p.Params == nil {
		return nil
	}
	raw, ok := p.Params[ParamChildren]
	if !ok {
		return nil
	}
	return decodeChildren(raw)
}

// HasChildren 是否为复合插件
func (p *PluginSpec) HasChildren() bool {
	if p.Params == nil {
		return false
	}
	_, ok := p.Params[ParamChildren]
	return ok
}

// SetChildren 写回嵌套子插件
func (p *PluginSpec) SetChildren(children []PluginSpec) {
	if p.Params == nil {
		p.Params = map[string]interface{}{}
	}
	if children == nil {
		children = []PluginSpec{}
	}
	p.Params[ParamChildren] = children
}

// Reference 读取 provider/storage 引用名，非字符串视为未设置
func (p *PluginSpec) Reference(param string) string {
	return StringParam(p.Params, param)
}

// Clone 深拷贝插件描述
func (p PluginSpec) Clone() PluginSpec {
	out := PluginSpec{Name: p.Name, Type: p.Type, Params: CloneParams(p.Params)}
	if p.Interval != nil {
		v := *p.Interval
		out.Interval = &v
	}
	return out
}

// StringParam 读取字符串参数并去掉首尾空白
func StringParam(params map[string]interface{}, key string) string {
	if params == nil {
		return ""
	}
	s, _ := params[key].(string)
	return strings.TrimSpace(s)
}

// CloneParams 深拷贝参数表；children 保持 []PluginSpec 形态
func CloneParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CloneParams(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []PluginSpec:
		out := make([]PluginSpec, len(t))
		for i, item := range t {
			out[i] = item.Clone()
		}
		return out
	default:
		return v
	}
}

// decodeChildren 兼容 JSON 解码后的 []interface{} 与已规范化的 []PluginSpec
func decodeChildren(raw interface{}) []PluginSpec {
	switch t := raw.(type) {
	case []PluginSpec:
		return t
	case nil:
		return []PluginSpec{}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return []PluginSpec{}
	}
	var children []PluginSpec
	if err := json.Unmarshal(data, &children); err != nil {
		return []PluginSpec{}
	}
	for i := range children {
		if children[i].Params == nil {
			children[i].Params = map[string]interface{}{}
		}
	}
	return children
}
