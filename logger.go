package mquickjs

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

func init() {
	logger.Store(zap.NewNop())
}

// Logger returns the package logger. It discards everything until SetLogger
// is called.
func Logger() *zap.Logger {
	return logger.Load()
}

// SetLogger replaces the package logger used by contexts created without
// WithLogger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}
