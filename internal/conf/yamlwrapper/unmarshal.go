// Package yamlwrapper contains a YAML unmarshaler.
package yamlwrapper

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v2"
)

func convertKeys(i interface{}) (interface{}, error) {
	switch x := i.(type) {
	case map[interface{}]interface{}:
		m2 := map[string]interface{}{}
		for k, v := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string keys are not supported (%v)", k)
			}

			var err error
			m2[ks], err = convertKeys(v)
			if err != nil {
				return nil, err
			}
		}
		return m2, nil

	case []interface{}:
		a2 := make([]interface{}, len(x))
		for i, v := range x {
			var err error
			a2[i], err = convertKeys(v)
			if err != nil {
				return nil, err
			}
		}
		return a2, nil
	}

	return i, nil
}

// Unmarshal loads YAML into dest.
// Duplicate keys and keys without a matching field are rejected.
// dest receives the document through its JSON unmarshaler, if any.
func Unmarshal(buf []byte, dest interface{}) error {
	var temp interface{}
	err := yaml.UnmarshalStrict(buf, &temp)
	if err != nil {
		return err
	}

	// an empty document leaves dest untouched
	if temp == nil {
		temp = map[string]interface{}{}
	}

	temp, err = convertKeys(temp)
	if err != nil {
		return err
	}

	buf, err = json.Marshal(temp)
	if err != nil {
		return err
	}

	d := json.NewDecoder(bytes.NewReader(buf))
	d.DisallowUnknownFields()
	return d.Decode(dest)
}
