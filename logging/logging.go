// Package logging - Structured logging for the recognition services.
package logging

import (
	"io"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// Logger is the logger used throughout the module.
type Logger = *zap.SugaredLogger

// NewLoggerConfig returns the default console logger configuration: ISO8601 UTC-free
// timestamps, colored levels and no stack traces. Logs go to stderr so that commands can
// keep stdout for their results.
func NewLoggerConfig() zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// NewLogger returns a named logger that outputs Info+ logs to stderr.
func NewLogger(name string) Logger {
	return NewLoggerWithLevel(name, zapcore.InfoLevel)
}

// NewDebugLogger returns a named logger that outputs Debug+ logs to stderr.
func NewDebugLogger(name string) Logger {
	return NewLoggerWithLevel(name, zapcore.DebugLevel)
}

// NewLoggerWithLevel returns a named console logger at the given level.
func NewLoggerWithLevel(name string, level zapcore.Level) Logger {
	cfg := NewLoggerConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		// The configuration above is static; Build only fails on unusable output paths.
		return zap.NewNop().Sugar()
	}
	return logger.Sugar().Named(name)
}

// NewJSONLogger returns a named logger that writes JSON lines, for log shippers.
func NewJSONLogger(name string, level zapcore.Level) (Logger, error) {
	cfg := NewLoggerConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar().Named(name), nil
}

// NewWriterLogger returns a named logger that writes to w.
//
// Arguments:
//   - name: The logger name.
//   - level: The minimum enabled level.
//   - json: Encode entries as JSON lines instead of console text.
//   - w: The destination, typically the command's error writer.
//
// Returns:
//   - Logger: The logger.
func NewWriterLogger(name string, level zapcore.Level, json bool, w io.Writer) Logger {
	encCfg := NewLoggerConfig().EncoderConfig
	var enc zapcore.Encoder
	if json {
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), zap.NewAtomicLevelAt(level))
	return zap.New(core).Sugar().Named(name)
}

// ParseLevel parses a level name such as "debug" or "warn".
func ParseLevel(text string) (zapcore.Level, error) {
	if text == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(text)
}

// NewTestLogger returns a logger that writes Debug+ logs through tb.
func NewTestLogger(tb testing.TB) Logger {
	return zaptest.NewLogger(tb).Sugar()
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return zap.NewNop().Sugar()
}
