package conf

import (
	"encoding/json"
	"fmt"

	"code.cloudfoundry.org/bytefmt"
)

// StringSize is a size in bytes, such as "10M".
// Plain numbers are read as bytes. Zero disables the limit it applies to.
type StringSize uint64

func (s StringSize) String() string {
	if s == 0 {
		return "0"
	}
	return bytefmt.ByteSize(uint64(s))
}

// MarshalJSON implements json.Marshaler.
func (s StringSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *StringSize) UnmarshalJSON(b []byte) error {
	var in interface{}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	switch in := in.(type) {
	case string:
		return s.UnmarshalEnv("", in)

	case float64:
		if in < 0 || in != float64(uint64(in)) {
			return fmt.Errorf("invalid size: %s", b)
		}
		*s = StringSize(in)
		return nil

	default:
		return fmt.Errorf("invalid size: %s", b)
	}
}

// UnmarshalEnv implements env.Unmarshaler.
func (s *StringSize) UnmarshalEnv(_ string, v string) error {
	// bytefmt requires a unit
	if v == "0" {
		*s = 0
		return nil
	}

	n, err := bytefmt.ToBytes(v)
	if err != nil {
		return err
	}
	*s = StringSize(n)

	return nil
}
