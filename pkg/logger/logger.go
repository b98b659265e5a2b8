package logger

import (
	"Media_Catalog/config"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// InitLogger 根据配置初始化一个全局的 slog 日志记录器。
func InitLogger(cfg *config.Config) error {
	logHandler, err := newHandler(os.Stdout, cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return err
	}

	// 创建一个新的 Logger 并设置为默认
	slog.SetDefault(slog.New(logHandler))
	return nil
}

func newHandler(w io.Writer, level, format string) (slog.Handler, error) {
	// 从配置中获取日志级别
	logLevel := new(slog.LevelVar)
	if err := setLogLevel(level, logLevel); err != nil {
		return nil, err
	}

	handlerOpts := &slog.HandlerOptions{
		Level: logLevel,
		// AddSource: true, // 如果需要输出源码位置（文件名和行号），取消此行注释
	}

	// 根据配置选择日志格式 (text 或 json)
	if format == "json" {
		return slog.NewJSONHandler(w, handlerOpts), nil
	}
	return slog.NewTextHandler(w, handlerOpts), nil
}

// setLogLevel 将字符串形式的日志级别转换为 slog.Level 类型
func setLogLevel(levelStr string, levelVar *slog.LevelVar) error {
	switch levelStr {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info", "":
		levelVar.Set(slog.LevelInfo)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		return errors.New("无效的日志级别: " + levelStr)
	}
	return nil
}

// ModuleLogger 是写入独立日志文件（例如 scanner.log、ingestor.log）的模块日志。
type ModuleLogger struct {
	*slog.Logger
	file *os.File
}

// NewModuleLogger 在 logDir 下创建 name 日志文件（每次运行截断），
// 所有记录带上 module 字段。
func NewModuleLogger(cfg *config.Config, name, module string) (*ModuleLogger, error) {
	logDir, err := filepath.Abs(cfg.Logger.Path)
	if err != nil {
		return nil, fmt.Errorf("无法获取日志目录绝对路径: %w", err)
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("无法创建日志目录: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(logDir, name), os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o666)
	if err != nil {
		return nil, fmt.Errorf("无法初始化 %s 日志: %w", module, err)
	}
	h, err := newHandler(file, cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &ModuleLogger{Logger: slog.New(h).With("module", module), file: file}, nil
}

// Close 关闭日志文件。对 Discard 得到的 logger 调用是安全的。
func (m *ModuleLogger) Close() error {
	if m == nil || m.file == nil {
		return nil
	}
	return m.file.Close()
}

type ctxKey struct{}

// CtxWithLogger 将一个带有特定字段（例如 run_id）的 logger 附加到 context 中。
func CtxWithLogger(ctx context.Context, l *slog.Logger, attrs ...any) context.Context {
	return context.WithValue(ctx, ctxKey{}, l.With(attrs...))
}

// FromCtx 取出 CtxWithLogger 附加的 logger，没有时返回 fallback。
func FromCtx(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return fallback
}

// Discard 返回一个丢弃所有日志的 logger，主要用于测试，避免不必要的日志输出。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// DiscardModule 是 Discard 的 ModuleLogger 版本。
func DiscardModule() *ModuleLogger {
	return &ModuleLogger{Logger: Discard()}
}
