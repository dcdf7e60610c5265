package applog

import (
	"context"
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
	Format    string    // console | json
	AddSource bool      // 输出调用位置
	Output    io.Writer // 默认 stdout
}

var (
	base    *zap.Logger
	baseMu  sync.RWMutex
	leveler = new(slog.LevelVar)
)

type loggerKey struct{}

// Init 初始化全局日志：zap 负责编码输出，slog 作为统一门面。
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	zl := newZap(cfg, out)
	baseMu.Lock()
	base = zl
	baseMu.Unlock()
	zap.ReplaceGlobals(zl)

	leveler.Set(levelOf(cfg.Level))
	handler := slogzap.Option{
		Level:     leveler,
		Logger:    zl,
		AddSource: cfg.AddSource,
	}.NewZapHandler()
	slog.SetDefault(slog.New(handler))

	// 第三方库经由标准 log 输出的内容也走同一出口
	log.SetOutput(out)
	log.SetFlags(0)
}

// SetLevel 运行时调整日志级别
func SetLevel(level string) { leveler.Set(levelOf(level)) }

// Zap 返回底层 zap logger
func Zap() *zap.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	if base != nil {
		return base
	}
	return zap.L()
}

// With 返回附带字段的子 logger
func With(args ...any) *slog.Logger {
	return slog.Default().With(args...)
}

// WithContext 将 logger 放入 context，供下游按请求输出
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext 取出请求级 logger，没有时回落到默认 logger
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }

func Debugf(format string, args ...any) { slog.Debug(fmt.Sprintf(format, args...)) }
func Infof(format string, args ...any)  { slog.Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { slog.Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { slog.Error(fmt.Sprintf(format, args...)) }

// Fatalf 输出错误并退出进程
func Fatalf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	_ = Zap().Sync()
	os.Exit(1)
}

// Sync 刷新缓冲区，停机前调用
func Sync() {
	_ = Zap().Sync()
}

func newZap(cfg Config, out io.Writer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	// zap 层全部放行，级别由 slog 的 LevelVar 统一控制
	core := zapcore.NewCore(enc, zapcore.AddSync(out), zapcore.DebugLevel)

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(core, opts...)
}

func levelOf(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
