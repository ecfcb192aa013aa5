package logger

import (
	"sync"
	"time"
)

const (
	minIntervalBetweenWarnings = 1 * time.Second
)

// LimitedLogger is a wrapper around a Writer that limits printed messages.
type LimitedLogger struct {
	w           Writer
	mutex       sync.Mutex
	lastPrinted time.Time
}

// NewLimitedLogger is a wrapper around a Writer that limits printed messages.
func NewLimitedLogger(w Writer) *LimitedLogger {
	return &LimitedLogger{
		w: w,
	}
}

// Log implements Writer.
func (l *LimitedLogger) Log(level Level, format string, args ...interface{}) {
	now := time.Now()
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if now.Sub(l.lastPrinted) >= minIntervalBetweenWarnings {
		l.lastPrinted = now
		l.w.Log(level, format, args...)
	}
}
