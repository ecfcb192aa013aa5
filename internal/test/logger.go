// Package test contains test utilities.
package test

import (
	"fmt"
	"sync"

	"github.com/haishinkit/haishin/internal/logger"
)

// LoggerFunc is a function that implements logger.Writer.
type LoggerFunc func(level logger.Level, format string, args ...interface{})

// Log implements logger.Writer.
func (f LoggerFunc) Log(level logger.Level, format string, args ...interface{}) {
	f(level, format, args...)
}

// NilLogger discards every entry.
var NilLogger logger.Writer = LoggerFunc(func(logger.Level, string, ...interface{}) {})

// Logger returns a logger that calls cb.
func Logger(cb func(logger.Level, string, ...interface{})) logger.Writer {
	return LoggerFunc(cb)
}

// LogCollector stores formatted entries.
type LogCollector struct {
	mutex   sync.Mutex
	entries []string
}

// Log implements logger.Writer.
func (c *LogCollector) Log(_ logger.Level, format string, args ...interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries = append(c.entries, fmt.Sprintf(format, args...))
}

// Entries returns a copy of the stored entries.
func (c *LogCollector) Entries() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]string(nil), c.entries...)
}
