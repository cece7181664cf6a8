package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig 全局配置。启动时统一加载，再按模块提取使用。
type AppConfig struct {
	LogLevel  string         `json:"log_level"`
	LogFormat string         `json:"log_format"`
	Server    ServerConfig   `json:"server"`
	Database  DatabaseConfig `json:"database"`
	Redis     RedisConfig    `json:"redis"`
	Auth      AuthConfig     `json:"auth"`
	Sync      SyncConfig     `json:"sync"`
	Runtime   RuntimeConfig  `json:"runtime"`
}

type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	URL                    string `json:"url"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// RedisConfig 为空时不启用配置缓存与事件转发
type RedisConfig struct {
	URL                string `json:"url"`
	ConfigCacheTTL     int    `json:"config_cache_ttl"`
	EventChannelPrefix string `json:"event_channel_prefix"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	JWTIssuer string `json:"jwt_issuer"`
}

// SyncConfig 同步引擎参数
type SyncConfig struct {
	ForceSyncDelayMs      int `json:"force_sync_delay_ms"`
	PersistTimeoutSeconds int `json:"persist_timeout_seconds"`
}

type RuntimeConfig struct {
	MigrationTimeoutSeconds int `json:"migration_timeout_seconds"`
	RedisPingTimeoutSeconds int `json:"redis_ping_timeout_seconds"`
	ShutdownTimeoutSeconds  int `json:"shutdown_timeout_seconds"`
}

// Default 返回默认配置。
func Default() *AppConfig {
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 0,
		},
		Database: DatabaseConfig{
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
		},
		Redis: RedisConfig{
			ConfigCacheTTL:     300,
			EventChannelPrefix: "pipeforge:events",
		},
		Auth: AuthConfig{
			JWTIssuer: "pipeforge",
		},
		Sync: SyncConfig{
			ForceSyncDelayMs:      50,
			PersistTimeoutSeconds: 10,
		},
		Runtime: RuntimeConfig{
			MigrationTimeoutSeconds: 30,
			RedisPingTimeoutSeconds: 5,
			ShutdownTimeoutSeconds:  15,
		},
	}
}

// Load 加载全局配置：默认值 -> 配置文件 -> 环境变量。
// 配置文件路径通过 APP_CONFIG_FILE 指定（JSON）。
func Load() (*AppConfig, error) {
	// .env 非必需
	_ = godotenv.Load()

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)

	applyString("DATABASE_URL", &c.Database.URL)
	applyInt("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	applyInt("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	applyInt("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)

	applyString("REDIS_URL", &c.Redis.URL)
	applyInt("CONFIG_CACHE_TTL", &c.Redis.ConfigCacheTTL)
	applyString("EVENT_CHANNEL_PREFIX", &c.Redis.EventChannelPrefix)

	applyString("JWT_SECRET", &c.Auth.JWTSecret)
	applyString("JWT_ISSUER", &c.Auth.JWTIssuer)

	applyInt("SYNC_FORCE_DELAY_MS", &c.Sync.ForceSyncDelayMs)
	applyInt("SYNC_PERSIST_TIMEOUT", &c.Sync.PersistTimeoutSeconds)

	applyInt("MIGRATION_TIMEOUT", &c.Runtime.MigrationTimeoutSeconds)
	applyInt("SHUTDOWN_TIMEOUT", &c.Runtime.ShutdownTimeoutSeconds)
}

func (c *AppConfig) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.Sync.ForceSyncDelayMs < 0 {
		c.Sync.ForceSyncDelayMs = 0
	}
	if c.Sync.PersistTimeoutSeconds <= 0 {
		c.Sync.PersistTimeoutSeconds = 10
	}
	if c.Redis.EventChannelPrefix == "" {
		c.Redis.EventChannelPrefix = "pipeforge:events"
	}
}

func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Server.Port)
	}
	return nil
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}
