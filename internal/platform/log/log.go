package applog

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 日志配置
type Config struct {
	Level     string    // debug | info | warn | error
	Format    string    // text | json
	AddSource bool      // 附带调用位置
	Output    io.Writer // 默认 stdout
	Service   string    // 写入每条日志的 service 字段
}

var (
	zapLogger *zap.Logger
	mu        sync.RWMutex
)

// Init 初始化全局日志（zap 作为后端，slog 作为调用入口）
func Init(cfg Config) {
	logger := newZap(cfg)
	if cfg.Service != "" {
		logger = logger.With(zap.String("service", cfg.Service))
	}

	mu.Lock()
	zapLogger = logger
	mu.Unlock()

	zap.ReplaceGlobals(logger)

	handler := slogzap.Option{
		Level:     levelOf(cfg.Level).slog,
		Logger:    logger,
		AddSource: cfg.AddSource,
	}.NewZapHandler()
	slog.SetDefault(slog.New(handler))

	log.SetOutput(cfg.writer())
	log.SetFlags(0)
}

// Zap 返回底层 zap logger
func Zap() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if zapLogger != nil {
		return zapLogger
	}
	return zap.L()
}

// Component 返回带 component 字段的 slog logger
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// With 返回带默认字段的 slog logger
func With(args ...any) *slog.Logger {
	return slog.Default().With(args...)
}

func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }

func Infof(format string, args ...any)  { slog.Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { slog.Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { slog.Error(fmt.Sprintf(format, args...)) }

func Fatalf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	_ = Zap().Sync()
	os.Exit(1)
}

func newZap(cfg Config) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.TimeKey = "time"

	var enc zapcore.Encoder
	if strings.EqualFold(cfg.Format, "json") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(cfg.writer()), levelOf(cfg.Level).zap)

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(core, opts...)
}

func (c Config) writer() io.Writer {
	if c.Output == nil {
		return os.Stdout
	}
	return c.Output
}

type level struct {
	slog slog.Level
	zap  zapcore.Level
}

func levelOf(s string) level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return level{slog.LevelDebug, zapcore.DebugLevel}
	case "warn", "warning":
		return level{slog.LevelWarn, zapcore.WarnLevel}
	case "error":
		return level{slog.LevelError, zapcore.ErrorLevel}
	default:
		return level{slog.LevelInfo, zapcore.InfoLevel}
	}
}
