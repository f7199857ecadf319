// Package logging builds the zap loggers used by the lensim commands: a
// console core, colored in development, tee'd with an optional JSON file
// core rotated by lumberjack.
package logging

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	FieldTimestamp = "timestamp"
	FieldLevel     = "level"
	FieldSource    = "source"
	FieldMessage   = "message"
	FieldCaller    = "caller"
)

const (
	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 30
)

// Config selects the log level and outputs.
type Config struct {
	Development bool
	// Level overrides the default level (debug in development, info otherwise).
	Level string
	// File enables the rotated JSON log when not empty.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewEncoderConfig is the JSON encoder configuration of the file core.
func NewEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        FieldTimestamp,
		LevelKey:       FieldLevel,
		NameKey:        FieldSource,
		CallerKey:      FieldCaller,
		MessageKey:     FieldMessage,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// NewConsoleEncoderConfig is the human-readable console configuration.
func NewConsoleEncoderConfig(color bool) zapcore.EncoderConfig {
	cfg := NewEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if color {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncodeTime = shortTimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return cfg
}

func shortTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("15:04:05.000"))
}

// ParseLevel maps a level name to a zap level, returning def for unknown names.
func ParseLevel(s string, def zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return def
	}
}

// NewFileWriter returns a rotating writer for path.
func NewFileWriter(cfg Config) zapcore.WriteSyncer {
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = DefaultMaxSizeMB
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = DefaultMaxBackups
	}
	if cfg.MaxAgeDays == 0 {
		cfg.MaxAgeDays = DefaultMaxAgeDays
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	})
}

// NewCore tees console output to console and, when cfg.File is set, to the
// rotated file.
func NewCore(cfg Config, console zapcore.WriteSyncer) zapcore.Core {
	def := zapcore.InfoLevel
	if cfg.Development {
		def = zapcore.DebugLevel
	}
	level := ParseLevel(cfg.Level, def)

	var consoleEncoder zapcore.Encoder
	if cfg.Development {
		consoleEncoder = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig(true))
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(NewEncoderConfig())
	}
	core := zapcore.NewCore(consoleEncoder, console, level)
	if cfg.File == "" {
		return core
	}
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(NewEncoderConfig()), NewFileWriter(cfg), level)
	return zapcore.NewTee(core, fileCore)
}

// New builds a logger writing to stderr and the optional file.
func New(cfg Config) *zap.Logger {
	return zap.New(NewCore(cfg, zapcore.Lock(os.Stderr)), zap.AddCaller())
}
