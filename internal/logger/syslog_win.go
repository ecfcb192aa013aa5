//go:build windows

package logger

import (
	"fmt"
)

func newSysLog(_ string) (sysLogWriter, error) {
	return nil, fmt.Errorf("syslog is not available on Windows")
}
