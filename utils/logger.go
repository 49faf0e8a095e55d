package utils

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger создает zap логгер.
// debug - цветной консольный вывод, иначе JSON для сборщика логов.
func NewLogger(mode string) (*zap.Logger, error) {
	var config zap.Config

	if mode == "debug" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	return config.Build()
}

// LogOperation логирует операцию с длительностью
func LogOperation(logger *zap.Logger, operation string, startTime time.Time, err error) {
	duration := time.Since(startTime)
	if err != nil {
		logger.Error("operation failed",
			zap.String("operation", operation),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}
	logger.Info("operation completed",
		zap.String("operation", operation),
		zap.Duration("duration", duration),
	)
}
