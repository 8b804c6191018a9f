package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// SLogOptions 日志初始化选项
type SLogOptions struct {
	// 日志级别：debug, info, warn, error
	Level string `cfg:"level" validate:"omitempty,oneof=debug info warn error"`

	// 输出格式：text, json
	Format string `cfg:"format" validate:"omitempty,oneof=text json"`

	// 输出目标：stdout, stderr
	Target string `cfg:"target" def:"stderr"`

	// 是否显示调用者信息
	AddSource bool `cfg:"addSource"`

	// 自定义字段
	Fields map[string]any `cfg:"fields"`
}

type SLog struct {
	slogger *slog.Logger
}

func NewSLogWithOptions(options *SLogOptions) (*SLog, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}

	// 设置默认值
	if options.Level == "" {
		options.Level = "info"
	}
	if options.Format == "" {
		options.Format = "text"
	}

	level, err := parseLevel(options.Level)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}

	var w io.Writer = os.Stderr
	if options.Target == "stdout" {
		w = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: options.AddSource,
	}

	var handler slog.Handler
	if options.Format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	slogger := slog.New(handler)
	if len(options.Fields) > 0 {
		args := make([]any, 0, len(options.Fields)*2)
		for k, v := range options.Fields {
			args = append(args, k, v)
		}
		slogger = slogger.With(args...)
	}

	return &SLog{slogger: slogger}, nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.Errorf("unknown level %q", level)
	}
}

func (l *SLog) Debug(msg string, args ...any) { l.slogger.Debug(msg, args...) }
func (l *SLog) Info(msg string, args ...any)  { l.slogger.Info(msg, args...) }
func (l *SLog) Warn(msg string, args ...any)  { l.slogger.Warn(msg, args...) }
func (l *SLog) Error(msg string, args ...any) { l.slogger.Error(msg, args...) }

func (l *SLog) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slogger.DebugContext(ctx, msg, args...)
}

func (l *SLog) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slogger.InfoContext(ctx, msg, args...)
}

func (l *SLog) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slogger.WarnContext(ctx, msg, args...)
}

func (l *SLog) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slogger.ErrorContext(ctx, msg, args...)
}

func (l *SLog) With(args ...any) Logger {
	return &SLog{slogger: l.slogger.With(args...)}
}

func (l *SLog) WithGroup(name string) Logger {
	return &SLog{slogger: l.slogger.WithGroup(name)}
}
