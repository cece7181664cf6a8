package model_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeforge/internal/domain/pipeline/model"
)

func TestParseNodeID(t *testing.T) {
	tests := []struct {
		id    string
		role  model.Role
		index int
		ok    bool
	}{
		{"source-0", model.RoleSource, 0, true},
		{"enricher-12", model.RoleEnricher, 12, true},
		{"ai-3", model.RoleAI, 3, true},
		{"storage-1", model.RoleStorage, 1, true},
		{"sources-group", "", 0, false},
		{"source-0-child-1", "", 0, false},
		{"group-0", "", 0, false},
		{"source-", "", 0, false},
		{"source--1", "", 0, false},
		{"", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			role, idx, ok := model.ParseNodeID(tt.id)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.role, role)
			assert.Equal(t, tt.index, idx)
		})
	}

	assert.Equal(t, "generator-4", model.NodeID(model.RoleGenerator, 4))
	assert.Equal(t, "source-0-child-2", model.ChildNodeID("source-0", 2))

	role, ok := model.ParseGroupID("enrichers-group")
	assert.True(t, ok)
	assert.Equal(t, model.RoleEnricher, role)
	_, ok = model.ParseGroupID("ai-group")
	assert.False(t, ok)
}

// TestNormalizeDecodesChildren 规范化后 params.children 统一为 []PluginSpec，空数组补齐
func TestNormalizeDecodesChildren(t *testing.T) {
	var cfg model.Config
	require.NoError(t, json.Unmarshal([]byte(`{
		"name": "n",
		"sources": [{"name": "agg", "type": "multi", "params": {"children": [
			{"name": "a", "type": "rss"},
			{"name": "b", "type": "rss", "params": {"url": "b"}}
		]}}]
	}`), &cfg))
	cfg.Normalize()

	assert.NotNil(t, cfg.Enrichers)
	assert.NotNil(t, cfg.AI)
	assert.NotNil(t, cfg.Settings)

	spec := cfg.Sources[0]
	require.True(t, spec.HasChildren())
	children, ok := spec.Params["children"].([]model.PluginSpec)
	require.True(t, ok)
	require.Len(t, children, 2)
	assert.NotNil(t, children[0].Params)
	assert.Equal(t, "b", children[1].Params["url"])
}

func TestMirrorProviders(t *testing.T) {
	cfg := model.NewConfig("m")
	cfg.MirrorProviders()
	assert.Empty(t, cfg.Providers)

	cfg.AI = []model.PluginSpec{{Name: "openai", Type: "openai", Params: map[string]interface{}{"k": "v"}}}
	cfg.MirrorProviders()
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, cfg.AI[0], cfg.Providers[0])

	// 已有 providers 时不覆盖
	cfg.AI = append(cfg.AI, model.PluginSpec{Name: "claude", Params: map[string]interface{}{}})
	cfg.MirrorProviders()
	assert.Len(t, cfg.Providers, 1)
}

func TestCloneParamsIsDeep(t *testing.T) {
	interval := 5
	src := map[string]interface{}{
		"nested": map[string]interface{}{"k": "v"},
		"list":   []interface{}{"a", map[string]interface{}{"x": 1.0}},
		"children": []model.PluginSpec{
			{Name: "c", Params: map[string]interface{}{"url": "u"}, Interval: &interval},
		},
	}
	out := model.CloneParams(src)
	assert.Equal(t, src, out)

	out["nested"].(map[string]interface{})["k"] = "changed"
	out["list"].([]interface{})[1].(map[string]interface{})["x"] = 2.0
	out["children"].([]model.PluginSpec)[0].Params["url"] = "changed"
	*out["children"].([]model.PluginSpec)[0].Interval = 9

	assert.Equal(t, "v", src["nested"].(map[string]interface{})["k"])
	assert.Equal(t, 1.0, src["list"].([]interface{})[1].(map[string]interface{})["x"])
	assert.Equal(t, "u", src["children"].([]model.PluginSpec)[0].Params["url"])
	assert.Equal(t, 5, interval)

	assert.NotNil(t, model.CloneParams(nil))
}

func TestStringParam(t *testing.T) {
	params := map[string]interface{}{"provider": "  openai ", "storage": 3, "empty": ""}
	assert.Equal(t, "openai", model.StringParam(params, "provider"))
	assert.Empty(t, model.StringParam(params, "storage"))
	assert.Empty(t, model.StringParam(params, "empty"))
	assert.Empty(t, model.StringParam(nil, "provider"))
}

func TestCloneConfigIndependent(t *testing.T) {
	cfg := model.NewConfig("c")
	cfg.Sources = []model.PluginSpec{{Name: "s", Params: map[string]interface{}{"url": "u"}}}

	clone := model.CloneConfig(cfg)
	clone.Sources[0].Params["url"] = "changed"
	clone.Sources = append(clone.Sources, model.PluginSpec{Name: "t"})

	assert.Equal(t, "u", cfg.Sources[0].Params["url"])
	assert.Len(t, cfg.Sources, 1)
	assert.Nil(t, model.CloneConfig(nil))
}

func TestCloneGraphNormalizesNodes(t *testing.T) {
	nodes, conns := model.CloneGraph([]model.GraphNode{{ID: "ai-0", Type: model.RoleAI}}, nil)
	require.Len(t, nodes, 1)
	assert.NotNil(t, nodes[0].Params)
	assert.NotNil(t, nodes[0].Inputs)
	assert.NotNil(t, nodes[0].Outputs)
	assert.Empty(t, conns)

	empty, _ := model.CloneGraph(nil, nil)
	assert.NotNil(t, empty)
}

func TestEnsureInput(t *testing.T) {
	n := model.GraphNode{ID: "source-0"}
	p := n.EnsureInput("provider")
	p.ConnectedTo = "ai-0"
	assert.Equal(t, "ai-0", n.Input("provider").ConnectedTo)

	n.EnsureInput("provider")
	assert.Len(t, n.Inputs, 1)
	assert.Nil(t, n.Output("provider"))
}
