// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Supported encodings.
const (
	EncodingJSON    = "json"
	EncodingConsole = "console"
)

// New builds a logger writing to stderr. Unknown levels fall back to info;
// an unknown encoding is an error.
func New(level, encoding string) (*zap.Logger, error) {
	return build(level, encoding, []string{"stderr"})
}

// NewFile builds a logger that also appends to path.
func NewFile(level, encoding, path string) (*zap.Logger, error) {
	return build(level, encoding, []string{"stderr", path})
}

func build(level, encoding string, outputs []string) (*zap.Logger, error) {
	var logLevel zapcore.Level
	if err := logLevel.Set(strings.ToLower(level)); err != nil {
		logLevel = zapcore.InfoLevel
	}

	switch encoding {
	case "":
		encoding = EncodingConsole
	case EncodingJSON, EncodingConsole:
	default:
		return nil, fmt.Errorf("unknown log encoding %q (want %s or %s)", encoding, EncodingJSON, EncodingConsole)
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(logLevel),
		Development: false,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
