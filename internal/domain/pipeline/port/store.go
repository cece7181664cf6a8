package port

import (
	"context"
	"time"

	"pipeforge/internal/domain/pipeline/model"
)

// Persister 引擎唯一依赖的持久化能力：按名称保存规范化后的配置
type Persister interface {
	SaveConfig(ctx context.Context, name string, cfg *model.Config) error
}

// ConfigRecord 存储层的配置记录
type ConfigRecord struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Config    *model.Config `json:"config"`
	Version   int           `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ConfigSummary 列表视图
type ConfigSummary struct {
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConfigStore 配置存储接口。不存在时 LoadConfig 返回 (nil, nil)
type ConfigStore interface {
	Persister
	LoadConfig(ctx context.Context, name string) (*ConfigRecord, error)
	ListConfigs(ctx context.Context) ([]ConfigSummary, error)
	DeleteConfig(ctx context.Context, name string) error
}

// PersisterFunc 函数适配器
type PersisterFunc func(ctx context.Context, name string, cfg *model.Config) error

func (f PersisterFunc) SaveConfig(ctx context.Context, name string, cfg *model.Config) error {
	return f(ctx, name, cfg)
}
