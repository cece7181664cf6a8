package graph_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeforge/internal/domain/pipeline/graph"
	"pipeforge/internal/domain/pipeline/model"
)

func parse(t *testing.T, raw string) *model.Config {
	t.Helper()
	var cfg model.Config
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))
	cfg.Normalize()
	return &cfg
}

// TestRebuildLayout 左列 storage/ai，右侧每个非空角色一个分组
func TestRebuildLayout(t *testing.T) {
	nodes, conns := graph.Rebuild(parse(t, `{
		"name": "layout",
		"ai": [{"name": "openai", "type": "openai", "params": {}}],
		"storage": [{"name": "mongo", "type": "mongodb", "params": {}}],
		"sources": [
			{"name": "s1", "type": "rss", "params": {"provider": "openai", "storage": "mongo"}, "interval": 30},
			{"name": "s2", "type": "rss", "params": {}}
		],
		"generators": [{"name": "g1", "type": "digest", "params": {"storage": "mongo"}}]
	}`))

	require.Len(t, nodes, 4)
	assert.Equal(t, "storage-0", nodes[0].ID)
	assert.Equal(t, "ai-0", nodes[1].ID)
	assert.Equal(t, "sources-group", nodes[2].ID)
	assert.Equal(t, "generators-group", nodes[3].ID)
	assert.Less(t, nodes[0].Position.Y, nodes[1].Position.Y)
	assert.Less(t, nodes[2].Position.X, nodes[3].Position.X)

	group := nodes[2]
	assert.Equal(t, model.RoleGroup, group.Type)
	require.Len(t, group.Children, 2)
	s1 := group.Children[0]
	assert.Equal(t, "rss", s1.PluginType)
	assert.Equal(t, "sources-group", s1.ParentID)
	require.NotNil(t, s1.Interval)
	assert.Equal(t, 30, *s1.Interval)
	assert.Len(t, s1.Inputs, 2)
	assert.Empty(t, group.Children[1].Inputs)

	assert.ElementsMatch(t, []model.Connection{
		model.NewConnection("ai-0", "provider", "source-0", "provider"),
		model.NewConnection("storage-0", "storage", "source-0", "storage"),
		model.NewConnection("storage-0", "storage", "generator-0", "storage"),
	}, conns)
}

func TestRebuildIsDeterministic(t *testing.T) {
	raw := `{
		"ai": [{"name": "openai", "type": "openai", "params": {}}],
		"enrichers": [{"name": "e1", "type": "x", "params": {"provider": "openai"}}]
	}`
	n1, c1 := graph.Rebuild(parse(t, raw))
	n2, c2 := graph.Rebuild(parse(t, raw))
	assert.Equal(t, n1, n2)
	assert.Equal(t, c1, c2)

	empty, none := graph.Rebuild(nil)
	assert.Empty(t, empty)
	assert.Empty(t, none)
}

// TestRebuildDuplicateNamesFirstMatchWins 重名时引用解析到第一个
func TestRebuildDuplicateNamesFirstMatchWins(t *testing.T) {
	cfg := parse(t, `{
		"ai": [
			{"name": "openai", "type": "openai", "params": {"model": "a"}},
			{"name": "openai", "type": "openai", "params": {"model": "b"}}
		],
		"sources": [{"name": "s1", "type": "rss", "params": {"provider": "openai"}}]
	}`)
	_, conns := graph.Rebuild(cfg)
	require.Len(t, conns, 1)
	assert.Equal(t, "ai-0", conns[0].From.NodeID)

	idx := graph.IndexConfig(cfg)
	assert.Equal(t, []string{"ai-1"}, idx.Duplicates())
}

func TestRebuildUnresolvedReferenceKeepsParam(t *testing.T) {
	nodes, conns := graph.Rebuild(parse(t, `{
		"sources": [{"name": "s1", "type": "rss", "params": {"provider": "ghost"}}]
	}`))
	assert.Empty(t, conns)
	s1 := graph.FindNodeRecursive(nodes, "source-0")
	require.NotNil(t, s1)
	assert.Equal(t, "ghost", s1.Params["provider"])
	assert.Nil(t, s1.Input("provider"))
}

func TestRebuildExpandsChildren(t *testing.T) {
	nodes, conns := graph.Rebuild(parse(t, `{
		"ai": [{"name": "openai", "type": "openai", "params": {}}],
		"sources": [{"name": "agg", "type": "multi", "params": {"children": [
			{"name": "a", "type": "rss", "params": {"provider": "openai"}},
			{"name": "b", "type": "rss", "params": {}}
		]}}]
	}`))

	agg := graph.FindNodeRecursive(nodes, "source-0")
	require.NotNil(t, agg)
	assert.True(t, agg.IsParent)
	assert.NotContains(t, agg.Params, "children")
	require.Len(t, agg.Children, 2)

	child := agg.Children[0]
	assert.Equal(t, "source-0-child-0", child.ID)
	assert.True(t, child.IsChild)
	assert.Equal(t, "source-0", child.ParentID)
	assert.Equal(t, model.RoleSource, child.Type)

	parent, idx := graph.FindParent(nodes, "source-0-child-1")
	require.NotNil(t, parent)
	assert.Equal(t, "source-0", parent.ID)
	assert.Equal(t, 1, idx)

	assert.Equal(t, []model.Connection{model.NewConnection("ai-0", "provider", "source-0-child-0", "provider")}, conns)
	assert.Equal(t, "ai-0", child.Input("provider").ConnectedTo)
}

func TestSyncNodePortsWithParams(t *testing.T) {
	nodes := []model.GraphNode{{
		ID:     "source-0",
		Type:   model.RoleSource,
		Params: map[string]interface{}{"provider": "openai"},
		Inputs: []model.Port{
			{Name: "storage", Type: "storage", ConnectedTo: "storage-0"},
			{Name: "feed", Type: "feed"},
		},
	}}

	out := graph.SyncNodePortsWithParams(nodes)
	assert.NotNil(t, out[0].Input("provider"))
	assert.Nil(t, out[0].Input("storage"))
	assert.NotNil(t, out[0].Input("feed"))
	// 原切片不变
	assert.NotNil(t, nodes[0].Input("storage"))
}

func TestCleanupAndPrune(t *testing.T) {
	nodes := []model.GraphNode{
		{ID: "ai-0", Type: model.RoleAI, Outputs: []model.Port{{Name: "provider"}}},
		{ID: "source-0", Type: model.RoleSource, Inputs: []model.Port{{Name: "provider"}}},
		{ID: "enricher-0", Type: model.RoleEnricher},
	}
	conns := []model.Connection{
		model.NewConnection("ai-0", "provider", "source-0", "provider"),
		model.NewConnection("ai-0", "provider", "enricher-0", "provider"),
		model.NewConnection("ai-9", "provider", "source-0", "provider"),
		model.NewConnection("ai-0", "bogus", "source-0", "provider"),
		model.NewConnection("ai-0", "provider", "enricher-0", "custom"),
	}

	assert.Equal(t, conns[:1], graph.CleanupStaleConnections(nodes, conns))
	assert.Equal(t, conns[:2], graph.PruneUnresolved(nodes, conns))
}

func TestDedupeInboundLastWins(t *testing.T) {
	conns := []model.Connection{
		model.NewConnection("ai-0", "provider", "source-0", "provider"),
		model.NewConnection("storage-0", "storage", "source-0", "storage"),
		model.NewConnection("ai-1", "provider", "source-0", "provider"),
	}
	assert.Equal(t, conns[1:], graph.DedupeInbound(conns))
}

func TestWirePortsWritesSourceName(t *testing.T) {
	nodes := []model.GraphNode{
		{ID: "ai-0", Type: model.RoleAI, Name: "claude", Outputs: []model.Port{{Name: "provider"}}},
		{ID: "source-0", Type: model.RoleSource, Params: map[string]interface{}{"provider": "old"}},
	}
	graph.WirePorts(nodes, []model.Connection{model.NewConnection("ai-0", "provider", "source-0", "provider")})

	assert.Equal(t, "claude", nodes[1].Params["provider"])
	assert.Equal(t, "ai-0", nodes[1].Input("provider").ConnectedTo)
	assert.Equal(t, "source-0", nodes[0].Output("provider").ConnectedTo)

	graph.WirePorts(nodes, nil)
	assert.Empty(t, nodes[1].Input("provider").ConnectedTo)
	assert.Empty(t, nodes[0].Output("provider").ConnectedTo)
}

func TestIndexNodesLookup(t *testing.T) {
	idx := graph.IndexNodes([]model.GraphNode{
		{ID: "ai-0", Type: model.RoleAI, Name: "openai"},
		{ID: "storage-0", Type: model.RoleStorage, Name: "openai"},
		{ID: "source-0", Type: model.RoleSource, Name: "openai"},
	})
	id, ok := idx.Lookup(model.RoleAI, "openai")
	assert.True(t, ok)
	assert.Equal(t, "ai-0", id)
	id, ok = idx.Lookup(model.RoleStorage, "openai")
	assert.True(t, ok)
	assert.Equal(t, "storage-0", id)
	_, ok = idx.Lookup(model.RoleSource, "openai")
	assert.False(t, ok)
	_, ok = idx.Lookup(model.RoleAI, "")
	assert.False(t, ok)
}
