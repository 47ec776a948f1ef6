// Package logging provides the structured logger used across modpatch.
//
// Components accept the Logger interface so callers can plug in their own
// implementation. New builds the production logger on top of zap; Nop is the
// default when no logger is supplied.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging with optional key-value pairs.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns l, or the no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// Options configures the zap-backed logger.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// File is an optional path that receives JSON-encoded log lines in
	// addition to stderr.
	File string
	// Component is attached to every line as "component".
	Component string
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (z *zapLogger) Debug(msg string, kv ...interface{}) { z.s.Debugw(msg, kv...) }
func (z *zapLogger) Info(msg string, kv ...interface{})  { z.s.Infow(msg, kv...) }
func (z *zapLogger) Warn(msg string, kv ...interface{})  { z.s.Warnw(msg, kv...) }
func (z *zapLogger) Error(msg string, kv ...interface{}) { z.s.Errorw(msg, kv...) }

// New builds a zap-backed Logger. The returned sync function flushes
// buffered entries and should be deferred by the caller.
func New(opts Options) (Logger, func() error, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true

	base, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}

	if opts.File != "" {
		fileCfg := zap.NewProductionConfig()
		fileCfg.Level = zap.NewAtomicLevelAt(level)
		fileCfg.OutputPaths = []string{opts.File}
		fileCfg.ErrorOutputPaths = []string{"stderr"}
		fileLogger, err := fileCfg.Build()
		if err != nil {
			_ = base.Sync()
			return nil, nil, fmt.Errorf("open log file %s: %w", opts.File, err)
		}
		base = zap.New(zapcore.NewTee(base.Core(), fileLogger.Core()))
	}

	if opts.Component != "" {
		base = base.With(zap.String("component", opts.Component))
	}

	return &zapLogger{s: base.Sugar()}, base.Sync, nil
}

// Named returns a child logger tagged with a sub-component name. Loggers that
// are not zap-backed are returned unchanged.
func Named(l Logger, name string) Logger {
	if z, ok := l.(*zapLogger); ok {
		return &zapLogger{s: z.s.Named(name)}
	}
	return OrNop(l)
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %q", s)
	}
}
