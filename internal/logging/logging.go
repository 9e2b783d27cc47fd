// Package logging builds the zap loggers shared by every convoy component.
package logging

import (
	"fmt"
	"os"

	"github.com/zulandar/convoy/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field keys used across packages so log queries stay uniform.
const (
	KeyAccount      = "account_id"
	KeyRequest      = "request_id"
	KeyConversation = "conversation_id"
	KeyDialog       = "dialog_id"
)

// New creates a logger from the log section of the config.
func New(cfg config.LogConfig, fields map[string]string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: level %q: %w", cfg.Level, err)
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), zapcore.Lock(os.Stderr), level)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	if len(fields) > 0 {
		zf := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zf = append(zf, zap.String(k, v))
		}
		logger = logger.With(zf...)
	}
	return logger, nil
}

// newEncoder creates JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Account tags a log line with an account id.
func Account(id string) zap.Field { return zap.String(KeyAccount, id) }

// Request tags a log line with a task (request) id.
func Request(id string) zap.Field { return zap.String(KeyRequest, id) }

// Conversation tags a log line with a conversation id.
func Conversation(id string) zap.Field { return zap.String(KeyConversation, id) }

// Dialog tags a log line with a dialog id.
func Dialog(id string) zap.Field { return zap.String(KeyDialog, id) }
