// Package observability builds the process loggers of the ratecount binary.
package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// CLILogger is used by one-shot commands (console encoding).
	CLILogger = zap.NewNop()

	// ServerLogger is used by the HTTP server (JSON encoding).
	ServerLogger = zap.NewNop()
)

// NewCLILogger returns a console logger writing to stderr. Verbose lowers the level
// to debug.
func NewCLILogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg.Build()
}

// NewServerLogger returns a production JSON logger at the given level.
func NewServerLogger(service, level string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.InitialFields = map[string]any{"service": service}
	return cfg.Build()
}

// InitCLILogger replaces CLILogger.
func InitCLILogger(verbose bool) error {
	logger, err := NewCLILogger(verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize CLI logger: %w", err)
	}
	CLILogger = logger
	return nil
}

// InitServerLogger replaces ServerLogger.
func InitServerLogger(service, level string) error {
	logger, err := NewServerLogger(service, level)
	if err != nil {
		return fmt.Errorf("failed to initialize server logger: %w", err)
	}
	ServerLogger = logger
	return nil
}

// ParseLevel maps a level name to a zap level. An empty name is info.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "":
		return zapcore.InfoLevel, nil
	case "trace":
		return zapcore.DebugLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}
