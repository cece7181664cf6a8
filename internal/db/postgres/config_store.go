package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"pipeforge/internal/domain/pipeline/model"
	"pipeforge/internal/domain/pipeline/port"
	applog "pipeforge/internal/platform/log"
)

type ConfigRecord = port.ConfigRecord
type ConfigSummary = port.ConfigSummary

// uniqueViolation PostgreSQL 唯一约束冲突错误码
const uniqueViolation = "23505"

// ConfigRepository 基于 pipeline_configs 表的配置存储
type ConfigRepository struct {
	db *sql.DB
}

var _ port.ConfigStore = (*ConfigRepository)(nil)

// NewConfigRepository 创建 PostgreSQL 配置存储
func NewConfigRepository(db *sql.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// EnsureTable 确保 pipeline_configs 表存在
func (r *ConfigRepository) EnsureTable(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS pipeline_configs (
		id         UUID PRIMARY KEY,
		name       VARCHAR(255) NOT NULL UNIQUE,
		config     JSONB NOT NULL,
		version    INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_pipeline_configs_updated ON pipeline_configs(updated_at DESC);
	`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure pipeline_configs: %w", err)
	}
	return nil
}

// SaveConfig 按名称 upsert，已存在时版本号加一
func (r *ConfigRepository) SaveConfig(ctx context.Context, name string, cfg *model.Config) error {
	if name == "" {
		return fmt.Errorf("save config: empty name")
	}
	if cfg == nil {
		return fmt.Errorf("save config %s: nil config", name)
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config %s: %w", name, err)
	}

	now := time.Now()
	var version int
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO pipeline_configs (id, name, config, version, created_at, updated_at)
		 VALUES ($1, $2, $3, 1, $4, $4)
		 ON CONFLICT (name) DO UPDATE
		 SET config = EXCLUDED.config,
		     version = pipeline_configs.version + 1,
		     updated_at = EXCLUDED.updated_at
		 RETURNING version`,
		uuid.New().String(), name, data, now,
	).Scan(&version)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("save config %s: concurrent insert: %w", name, err)
		}
		return fmt.Errorf("save config %s: %w", name, err)
	}

	applog.Debug("[Storage] Config saved", "name", name, "version", version)
	return nil
}

// LoadConfig 按名称读取，不存在返回 (nil, nil)
func (r *ConfigRepository) LoadConfig(ctx context.Context, name string) (*ConfigRecord, error) {
	rec := &ConfigRecord{}
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, config, version, created_at, updated_at
		 FROM pipeline_configs WHERE name = $1`,
		name,
	).Scan(&rec.ID, &rec.Name, &data, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", name, err)
	}

	cfg, err := decodeConfig(data)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", name, err)
	}
	rec.Config = cfg
	return rec, nil
}

// ListConfigs 按更新时间倒序列出
func (r *ConfigRepository) ListConfigs(ctx context.Context) ([]ConfigSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, version, updated_at FROM pipeline_configs ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	defer rows.Close()

	out := []ConfigSummary{}
	for rows.Next() {
		var s ConfigSummary
		if err := rows.Scan(&s.Name, &s.Version, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan config summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteConfig 删除配置，不存在时不报错
func (r *ConfigRepository) DeleteConfig(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pipeline_configs WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete config %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		applog.Debug("[Storage] Delete config: nothing to delete", "name", name)
	}
	return nil
}

func decodeConfig(data []byte) (*model.Config, error) {
	cfg := &model.Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}
