// Package oplog writes domain operation records to zap.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/minutes/pkg/minutes"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const messageOperation = "minutes operation"

// Logger adapts a zap logger to minutes.OperationLogger.
type Logger struct {
	logger *zap.Logger
}

var _ minutes.OperationLogger = (*Logger)(nil)

// New wraps logger; a nil logger discards records.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger}
}

// LogOperation emits one structured record. Failures log at warn level.
func (operationLogger *Logger) LogOperation(_ context.Context, entry minutes.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if value := entry.UserID.String(); value != "" {
		fields = append(fields, zap.String("user_id", value))
	}
	if value := entry.OrderID.String(); value != "" {
		fields = append(fields, zap.String("order_id", value))
	}
	if entry.PackageID > 0 {
		fields = append(fields, zap.Int64("package_id", entry.PackageID.Int64()))
	}
	if value := entry.ConversationID.String(); value != "" {
		fields = append(fields, zap.String("conversation_id", value))
	}
	if entry.Minutes != 0 {
		fields = append(fields, zap.Float64("minutes", entry.Minutes.Float64()))
	}
	if entry.Balance != 0 {
		fields = append(fields, zap.Float64("balance", entry.Balance.Float64()))
	}
	if entry.Detail != "" {
		fields = append(fields, zap.String("detail", entry.Detail))
	}
	level := zapcore.InfoLevel
	if entry.Error != nil {
		level = zapcore.WarnLevel
		fields = append(fields, zap.Error(entry.Error))
	}
	operationLogger.logger.Log(level, messageOperation, fields...)
}
