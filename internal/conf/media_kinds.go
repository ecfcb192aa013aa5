package conf

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haishinkit/haishin/internal/unit"
)

// MediaKinds is a list of media kinds.
type MediaKinds []unit.MediaKind

// MarshalJSON implements json.Marshaler.
func (k MediaKinds) MarshalJSON() ([]byte, error) {
	out := make([]string, len(k))
	for i, v := range k {
		out[i] = v.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *MediaKinds) UnmarshalJSON(b []byte) error {
	var in []string
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	out := MediaKinds{}

	for _, v := range in {
		var kind unit.MediaKind

		switch v {
		case "video":
			kind = unit.MediaKindVideo

		case "audio":
			kind = unit.MediaKindAudio

		default:
			return fmt.Errorf("invalid media kind: '%s'", v)
		}

		if out.Contains(kind) {
			return fmt.Errorf("media kind set twice: %s", v)
		}

		out = append(out, kind)
	}

	*k = out
	return nil
}

// UnmarshalEnv implements env.Unmarshaler.
func (k *MediaKinds) UnmarshalEnv(_ string, v string) error {
	byts, _ := json.Marshal(strings.Split(v, ","))
	return k.UnmarshalJSON(byts)
}

// Contains checks whether a kind is in the list.
func (k MediaKinds) Contains(kind unit.MediaKind) bool {
	for _, v := range k {
		if v == kind {
			return true
		}
	}
	return false
}
