package conf

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haishinkit/haishin/internal/logger"
)

var logLevelNames = map[LogLevel]string{
	LogLevel(logger.Debug): "debug",
	LogLevel(logger.Info):  "info",
	LogLevel(logger.Warn):  "warn",
	LogLevel(logger.Error): "error",
}

// LogLevel is the logLevel parameter.
type LogLevel logger.Level

// MarshalJSON implements json.Marshaler.
func (d LogLevel) MarshalJSON() ([]byte, error) {
	name, ok := logLevelNames[d]
	if !ok {
		return nil, fmt.Errorf("invalid log level: %d", d)
	}
	return json.Marshal(name)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *LogLevel) UnmarshalJSON(b []byte) error {
	var in string
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	return d.UnmarshalEnv("", in)
}

// UnmarshalEnv implements env.Unmarshaler.
// Names are case insensitive.
func (d *LogLevel) UnmarshalEnv(_ string, v string) error {
	for level, name := range logLevelNames {
		if strings.EqualFold(v, name) {
			*d = level
			return nil
		}
	}
	return fmt.Errorf("invalid log level: '%s'", v)
}
