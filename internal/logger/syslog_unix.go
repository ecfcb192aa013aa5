//go:build !windows

package logger

import (
	native "log/syslog"
)

// sysLog sends every line with the priority of its level.
type sysLog struct {
	inner *native.Writer
}

func newSysLog(prefix string) (sysLogWriter, error) {
	inner, err := native.New(native.LOG_INFO|native.LOG_DAEMON, prefix)
	if err != nil {
		return nil, err
	}

	return &sysLog{inner: inner}, nil
}

func (ls *sysLog) write(level Level, line string) error {
	switch level {
	case Debug:
		return ls.inner.Debug(line)
	case Warn:
		return ls.inner.Warning(line)
	case Error:
		return ls.inner.Err(line)
	default:
		return ls.inner.Info(line)
	}
}

func (ls *sysLog) close() error {
	return ls.inner.Close()
}
