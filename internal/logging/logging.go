// Package logging builds the zap logger shared by all commands: a console
// sink for the operator and an append-only run log on disk, both carrying
// the same level-tagged, timestamped entries.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLogFile is where run diagnostics are appended on the host.
const DefaultLogFile = "/var/log/kiln.log"

// Options control logger construction.
type Options struct {
	// Verbose enables debug-level output.
	Verbose bool
	// NoColor disables ANSI level coloring on the console sink.
	NoColor bool
	// LogFile is the run log path. Empty disables the file sink.
	LogFile string
}

// New builds the logger. The returned cleanup function flushes buffered
// entries and closes the run log; callers should defer it.
func New(opts Options) (*zap.Logger, func(), error) {
	level := zapcore.InfoLevel
	if opts.Verbose {
		level = zapcore.DebugLevel
	}

	consoleCfg := encoderConfig()
	if opts.NoColor {
		consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	// Console goes to stderr so stdout stays clean for formatted command
	// output.
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleCfg),
		zapcore.Lock(os.Stderr),
		level,
	)

	if opts.LogFile == "" {
		logger := zap.New(consoleCore)
		return logger, func() { _ = logger.Sync() }, nil
	}

	f, err := os.OpenFile(opts.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open run log %s: %w", opts.LogFile, err)
	}

	fileCfg := encoderConfig()
	fileCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	fileCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(fileCfg),
		zapcore.Lock(f),
		level,
	)

	logger := zap.New(zapcore.NewTee(consoleCore, fileCore))
	cleanup := func() {
		_ = logger.Sync()
		_ = f.Close()
	}
	return logger, cleanup, nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}
