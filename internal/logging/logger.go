package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Verbosity levels used with logger.V(...).
const (
	DEFAULT = 0
	VERBOSE = 1
	DEBUG   = 2
	TRACE   = 3
)

// Options configures New.
type Options struct {
	// Level is one of "error", "info", "debug", "trace" or a non-negative
	// logr verbosity.
	Level string
	// File, when set, receives JSON logs rotated by lumberjack instead of
	// console output on stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	// Output overrides stderr for console logging.
	Output io.Writer
}

// New builds a logr.Logger backed by zap.
func New(opts Options) (logr.Logger, error) {
	lvl, err := parseLevel(opts.Level)
	if err != nil {
		return logr.Discard(), err
	}

	var core zapcore.Core
	if opts.File != "" {
		roller := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			Compress:   true,
		}
		enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		core = zapcore.NewCore(enc, zapcore.AddSync(roller), lvl)
	} else {
		out := opts.Output
		if out == nil {
			out = os.Stderr
		}
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if opts.Output != nil {
			cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(out), lvl)
	}

	return zapr.NewLogger(zap.New(core, zap.AddCaller())), nil
}

// Discard returns a logger that drops everything.
func Discard() logr.Logger {
	return logr.Discard()
}

// parseLevel maps a level name to a zap level. logr verbosity V(n) is zap
// level -n, so "debug" enables V(1) and "trace" enables up to V(3).
func parseLevel(s string) (zap.AtomicLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
	case "error":
		return zap.NewAtomicLevelAt(zapcore.ErrorLevel), nil
	case "warn":
		return zap.NewAtomicLevelAt(zapcore.WarnLevel), nil
	case "debug":
		return zap.NewAtomicLevelAt(zapcore.Level(-VERBOSE)), nil
	case "trace":
		return zap.NewAtomicLevelAt(zapcore.Level(-TRACE)), nil
	}
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil || v < 0 {
		return zap.AtomicLevel{}, fmt.Errorf("invalid log level %q", s)
	}
	return zap.NewAtomicLevelAt(zapcore.Level(-v)), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
