package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"pipeforge/internal/api"
	"pipeforge/internal/app/workspace"
	"pipeforge/internal/db/postgres"
	redisdb "pipeforge/internal/db/redis"
	"pipeforge/internal/domain/pipeline/engine"
	"pipeforge/internal/domain/pipeline/port"
	"pipeforge/internal/platform/config"
	applog "pipeforge/internal/platform/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "pipeforge",
	})

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		applog.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeSeconds) * time.Second)

	if err := db.Ping(); err != nil {
		applog.Fatalf("❌ Failed to ping database: %v", err)
	}
	applog.Info("✅ Connected to PostgreSQL")

	pgRepo := postgres.NewConfigRepository(db)
	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Runtime.MigrationTimeoutSeconds)*time.Second)
	if err := pgRepo.EnsureTable(migrateCtx); err != nil {
		migrateCancel()
		applog.Fatalf("❌ Failed to ensure pipeline_configs table: %v", err)
	}
	migrateCancel()
	applog.Info("✅ Pipeline configs table ready")

	var store port.ConfigStore = pgRepo
	opts := workspace.Options{
		Engine: &engine.Config{
			ForceSyncDelay: time.Duration(cfg.Sync.ForceSyncDelayMs) * time.Millisecond,
			PersistTimeout: time.Duration(cfg.Sync.PersistTimeoutSeconds) * time.Second,
		},
	}

	if rdb := connectRedis(cfg); rdb != nil {
		defer rdb.Close()
		store = redisdb.NewConfigCache(pgRepo, rdb, cfg.Redis.ConfigCacheTTL)
		relay := redisdb.NewEventRelay(rdb, cfg.Redis.EventChannelPrefix, 0)
		defer relay.Close()
		opts.Relay = relay
		applog.Infof("✅ Config cache (TTL: %ds) and event relay (prefix: %s) enabled", cfg.Redis.ConfigCacheTTL, cfg.Redis.EventChannelPrefix)
	}

	ws := workspace.NewManager(store, opts)
	defer ws.Close()

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	serverConfig.JWTSecret = cfg.Auth.JWTSecret
	serverConfig.JWTIssuer = cfg.Auth.JWTIssuer
	server := api.NewServer(serverConfig, ws)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...", "open_configs", ws.Opened())
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Runtime.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			applog.Errorf("❌ Server shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		applog.Fatalf("❌ Server error: %v", err)
	}

	applog.Info("👋 Server stopped")
}

// connectRedis REDIS_URL 为空或连接失败时返回 nil，服务在无缓存模式下运行
func connectRedis(cfg *config.AppConfig) *goredis.Client {
	if cfg.Redis.URL == "" {
		applog.Info("ℹ️  No REDIS_URL set, config cache and event relay disabled")
		return nil
	}
	opt, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		applog.Warnf("⚠️  Redis URL invalid, cache disabled: %v", err)
		return nil
	}

	rdb := goredis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Runtime.RedisPingTimeoutSeconds)*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		applog.Warnf("⚠️  Redis ping failed: %v (cache disabled)", err)
		rdb.Close()
		return nil
	}
	applog.Info("✅ Connected to Redis")
	return rdb
}
