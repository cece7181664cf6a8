package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeforge/internal/db/postgres"
	"pipeforge/internal/domain/pipeline/model"
)

// openTestDB 需要设置 PIPEFORGE_TEST_DATABASE_URL，否则跳过
func openTestDB(t *testing.T) *postgres.ConfigRepository {
	t.Helper()
	dsn := os.Getenv("PIPEFORGE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PIPEFORGE_TEST_DATABASE_URL not set, skipping PostgreSQL integration test")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())

	repo := postgres.NewConfigRepository(db)
	require.NoError(t, repo.EnsureTable(context.Background()))
	return repo
}

func TestConfigRepositoryLifecycle(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()
	name := "it-" + uuid.NewString()
	t.Cleanup(func() { _ = repo.DeleteConfig(ctx, name) })

	missing, err := repo.LoadConfig(ctx, name)
	require.NoError(t, err)
	assert.Nil(t, missing)

	cfg := model.NewConfig(name)
	cfg.AI = []model.PluginSpec{{Name: "openai", Type: "openai", Params: map[string]interface{}{}}}
	cfg.Sources = []model.PluginSpec{{Name: "s1", Type: "rss", Params: map[string]interface{}{
		"provider": "openai",
		"children": []model.PluginSpec{{Name: "c1", Type: "rss", Params: map[string]interface{}{}}},
	}}}
	require.NoError(t, repo.SaveConfig(ctx, name, cfg))

	rec, err := repo.LoadConfig(ctx, name)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, "openai", rec.Config.Sources[0].Params["provider"])
	require.Len(t, rec.Config.Sources[0].Children(), 1)
	assert.NotNil(t, rec.Config.Enrichers)

	cfg.Sources[0].Name = "s1-renamed"
	require.NoError(t, repo.SaveConfig(ctx, name, cfg))
	rec, err = repo.LoadConfig(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Version)
	assert.Equal(t, "s1-renamed", rec.Config.Sources[0].Name)

	list, err := repo.ListConfigs(ctx)
	require.NoError(t, err)
	found := false
	for _, s := range list {
		if s.Name == name {
			found = true
			assert.Equal(t, 2, s.Version)
		}
	}
	assert.True(t, found)

	require.NoError(t, repo.DeleteConfig(ctx, name))
	rec, err = repo.LoadConfig(ctx, name)
	require.NoError(t, err)
	assert.Nil(t, rec)
	t.Logf("✅ config %s saved, versioned and deleted", name)
}

func TestConfigRepositoryRejectsInvalidInput(t *testing.T) {
	repo := postgres.NewConfigRepository(nil)
	ctx := context.Background()
	assert.Error(t, repo.SaveConfig(ctx, "", model.NewConfig("")))
	assert.Error(t, repo.SaveConfig(ctx, "demo", nil))
}
