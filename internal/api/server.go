package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pipeforge/internal/domain/pipeline/engine"
	"pipeforge/internal/domain/pipeline/port"
	applog "pipeforge/internal/platform/log"
)

// Workspace HTTP 层依赖的工作区能力
type Workspace interface {
	Open(ctx context.Context, name string) (*engine.Engine, error)
	List(ctx context.Context) ([]port.ConfigSummary, error)
	Delete(ctx context.Context, name string) error
}

// ServerConfig 服务配置
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration // 0 表示不限制，SSE 长连接需要
	JWTSecret      string        // JWT 签名密钥（必填）
	JWTIssuer      string        // JWT 签发者（可选）
	EventHeartbeat time.Duration // SSE 心跳间隔
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		EventHeartbeat: 15 * time.Second,
	}
}

// Server HTTP 服务器
type Server struct {
	config    *ServerConfig
	workspace Workspace
	httpSrv   *http.Server
}

// NewServer 创建服务器
func NewServer(config *ServerConfig, ws Workspace) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{
		config:    config,
		workspace: ws,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	r, err := s.buildRouter()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Infof("🚀 Pipeline API server starting on %s", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler 返回 HTTP Handler（用于测试）
func (s *Server) Handler() http.Handler {
	r, err := s.buildRouter()
	if err != nil {
		panic(err)
	}
	return r
}

func (s *Server) buildRouter() (http.Handler, error) {
	if strings.TrimSpace(s.config.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	authMW := authMiddleware(&JWTConfig{
		Secret: s.config.JWTSecret,
		Issuer: s.config.JWTIssuer,
	})
	configHandler := NewConfigHandler(s.workspace, s.config.EventHeartbeat)

	r.Group(func(r chi.Router) {
		r.Use(authMW)
		configHandler.RegisterRoutes(r)
	})
	return r, nil
}

// corsMiddleware CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
