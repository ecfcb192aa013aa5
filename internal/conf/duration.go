package conf

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

func parseDuration(in string) (time.Duration, error) {
	// plain numbers are seconds
	if secs, err := strconv.ParseFloat(in, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}

	negative := strings.HasPrefix(in, "-")
	rest := strings.TrimPrefix(in, "-")

	var ret time.Duration

	if before, after, ok := strings.Cut(rest, "d"); ok {
		days, err := strconv.ParseUint(before, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid duration '%s'", in)
		}
		ret = time.Duration(days) * day
		rest = after
	}

	if rest != "" {
		v, err := time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("invalid duration '%s'", in)
		}
		ret += v
	}

	if negative {
		ret = -ret
	}
	return ret, nil
}

// Duration is a duration such as "2s" or "1d12h".
// Plain numbers are read as seconds.
type Duration time.Duration

func (d Duration) String() string {
	v := time.Duration(d)

	var b strings.Builder
	if v < 0 {
		b.WriteByte('-')
		v = -v
	}

	if days := v / day; days > 0 {
		b.WriteString(strconv.FormatInt(int64(days), 10) + "d")
		v %= day
		if v == 0 {
			return b.String()
		}
	}

	b.WriteString(v.String())
	return b.String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var in interface{}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	switch in := in.(type) {
	case string:
		return d.UnmarshalEnv("", in)

	case float64:
		*d = Duration(in * float64(time.Second))
		return nil

	default:
		return fmt.Errorf("invalid duration: %s", b)
	}
}

// UnmarshalEnv implements env.Unmarshaler.
func (d *Duration) UnmarshalEnv(_ string, v string) error {
	du, err := parseDuration(v)
	if err != nil {
		return err
	}
	*d = Duration(du)
	return nil
}
