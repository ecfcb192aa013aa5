package conf

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haishinkit/haishin/internal/logger"
)

// LogDestinations is the logDestinations parameter.
type LogDestinations []logger.Destination

// MarshalJSON implements json.Marshaler.
func (d LogDestinations) MarshalJSON() ([]byte, error) {
	out := make([]string, len(d))

	for i, p := range d {
		switch p {
		case logger.DestinationStdout:
			out[i] = "stdout"

		case logger.DestinationFile:
			out[i] = "file"

		case logger.DestinationSyslog:
			out[i] = "syslog"

		default:
			return nil, fmt.Errorf("invalid log destination: %v", p)
		}
	}

	return json.Marshal(out)
}

func (d LogDestinations) contains(v logger.Destination) bool {
	for _, item := range d {
		if item == v {
			return true
		}
	}
	return false
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *LogDestinations) UnmarshalJSON(b []byte) error {
	var in []string
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	out := LogDestinations{}

	for _, dest := range in {
		var v logger.Destination

		switch dest {
		case "stdout":
			v = logger.DestinationStdout

		case "file":
			v = logger.DestinationFile

		case "syslog":
			v = logger.DestinationSyslog

		default:
			return fmt.Errorf("invalid log destination: %s", dest)
		}

		if out.contains(v) {
			return fmt.Errorf("log destination set twice: %s", dest)
		}

		out = append(out, v)
	}

	*d = out
	return nil
}

// UnmarshalEnv implements env.Unmarshaler.
func (d *LogDestinations) UnmarshalEnv(_ string, v string) error {
	byts, _ := json.Marshal(strings.Split(v, ","))
	return d.UnmarshalJSON(byts)
}
