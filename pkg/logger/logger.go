package logger

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

var InfoLogger, FatalLogger *zap.Logger

var (
	serviceName = "default"
	nop         = zap.NewNop()
	initialized atomic.Bool
)

// Init ставит один логгер и для info, и для fatal.
func Init(l *zap.Logger) {
	InfoLogger = l
	FatalLogger = l
	initialized.Store(l != nil)
}

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

func info() *zap.Logger {
	if InfoLogger == nil {
		return nop
	}
	return InfoLogger
}

func Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	info().With(
		zap.String("service", serviceName),
	).Info(msg)
}

func Warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	info().With(
		zap.String("service", serviceName),
	).Warn(msg)
}

func Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	info().With(
		zap.String("service", serviceName),
	).Error(msg)
}

func Fatal(format string, args ...interface{}) {
	if FatalLogger == nil {
		panic("FatalLogger is not initialized")
	}

	msg := fmt.Sprintf(format, args...)
	FatalLogger.With(
		zap.String("service", serviceName),
	).Fatal(msg)
}

// Initialized сообщает, был ли вызван Init с реальным логгером.
func Initialized() bool { return initialized.Load() }
