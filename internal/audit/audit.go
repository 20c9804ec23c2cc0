// Package audit records every attempted AAS -> OPC UA write as a
// structured AuditRecord, adapted from the gateway's file-based security
// audit sink but keyed to the bridge's own record shape.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
)

// Logger accepts one AuditRecord per attempted write. Implementations
// must not block the Controller for more than a few milliseconds.
type Logger interface {
	Log(record model.AuditRecord)
	Close() error
}

// Config configures the file-backed audit sink.
type Config struct {
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// FileLogger writes one JSON line per AuditRecord to a log file, built on
// a dedicated zap.Logger instance so rotation/format stay independent of
// the application logger.
type FileLogger struct {
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileLogger builds a FileLogger writing to cfg.LogFile.
func NewFileLogger(cfg Config) (*FileLogger, error) {
	if dir := filepath.Dir(cfg.LogFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit log directory: %w", err)
		}
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level(cfg.LogLevel)),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			MessageKey:     "msg",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
		},
		OutputPaths:      []string{cfg.LogFile},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build audit logger: %w", err)
	}

	return &FileLogger{logger: logger}, nil
}

func level(s string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// Log writes one structured audit line.
func (f *FileLogger) Log(record model.AuditRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fields := []zap.Field{
		zap.Time("audit_timestamp", record.Timestamp),
		zap.String("direction", string(record.Direction)),
		zap.String("node", record.NodeRef.String()),
		zap.String("element", record.ElementRef.String()),
		zap.String("outcome", string(record.Outcome)),
		zap.Any("prior_value", record.PriorValue),
		zap.Any("new_value", record.NewValue),
	}
	if record.UserID != "" {
		fields = append(fields, zap.String("user_id", record.UserID))
	}
	if record.Reason != "" {
		fields = append(fields, zap.String("reason", record.Reason))
	}

	switch record.Outcome {
	case model.Rejected:
		f.logger.Warn("audit record", fields...)
	case model.Deferred:
		f.logger.Info("audit record", fields...)
	default:
		f.logger.Info("audit record", fields...)
	}
}

// Close flushes and closes the underlying logger.
func (f *FileLogger) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logger.Sync()
}
