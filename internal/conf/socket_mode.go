package conf

import (
	"encoding/json"
	"fmt"

	"github.com/haishinkit/haishin/internal/protocols/srt"
)

// SocketMode is the role of the ingest socket.
type SocketMode srt.Role

// MarshalJSON implements json.Marshaler.
func (m SocketMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(srt.Role(m).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *SocketMode) UnmarshalJSON(b []byte) error {
	var in string
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	return m.UnmarshalEnv("", in)
}

// UnmarshalEnv implements env.Unmarshaler.
func (m *SocketMode) UnmarshalEnv(_ string, v string) error {
	switch v {
	case "caller":
		*m = SocketMode(srt.RoleCaller)

	case "listener":
		*m = SocketMode(srt.RoleListener)

	default:
		return fmt.Errorf("invalid socket mode: '%s'", v)
	}

	return nil
}
