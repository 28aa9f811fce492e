package types

import (
	"go.uber.org/zap"
)

// Logger is the minimal logging interface the engine writes diagnostics to.
type Logger interface {
	Printf(format string, v ...any)
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

func (l *zapLogger) Printf(format string, v ...any) {
	l.sugar.Debugf(format, v...)
}

// DefaultLogger returns a zap-backed Logger writing at debug level.
func DefaultLogger() Logger {
	logger, err := zap.NewDevelopment(zap.AddCallerSkip(2))
	if err != nil {
		logger = zap.NewNop()
	}
	return &zapLogger{sugar: logger.Sugar()}
}

// NopLogger discards all output.
func NopLogger() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}
