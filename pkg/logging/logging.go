package logging

import "go.uber.org/zap"

var logger = zap.Must(zap.NewProduction())

// Init replaces the process-wide logger. Call once before anything logs.
func Init(l *zap.Logger) {
	logger = l
}

func Info(msg string, fields ...zap.Field) {
	logger.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	logger.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	logger.Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	logger.Fatal(msg, fields...)
}

func Sync() {
	_ = logger.Sync()
}
