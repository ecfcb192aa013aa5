// Package env contains a function to load configuration from environment.
package env

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
)

// Unmarshaler can be implemented to override the unmarshaling process.
type Unmarshaler interface {
	UnmarshalEnv(prefix string, v string) error
}

var unmarshalerType = reflect.TypeOf((*Unmarshaler)(nil)).Elem()

type loader struct {
	env map[string]string
}

func (l *loader) hasPrefix(prefix string) bool {
	for key := range l.env {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// load fills v, which must be addressable.
func (l *loader) load(prefix string, v reflect.Value) error {
	if v.Kind() == reflect.Pointer {
		if _, ok := l.env[prefix]; !ok && !l.hasPrefix(prefix+"_") {
			return nil
		}
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		return l.load(prefix, v.Elem())
	}

	if reflect.PointerTo(v.Type()).Implements(unmarshalerType) {
		ev, ok := l.env[prefix]
		if !ok {
			return nil
		}
		err := v.Addr().Interface().(Unmarshaler).UnmarshalEnv(prefix, ev)
		if err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
		return nil
	}

	switch v.Kind() {
	case reflect.Struct:
		return l.loadStruct(prefix, v)

	case reflect.Map:
		return l.loadMap(prefix, v)
	}

	ev, ok := l.env[prefix]
	if !ok {
		return nil
	}

	err := setValue(v, ev)
	if err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	return nil
}

func (l *loader) loadStruct(prefix string, v reflect.Value) error {
	rt := v.Type()

	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}

		tag := strings.Split(f.Tag.Get("json"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}

		err := l.load(prefix+"_"+strings.ToUpper(tag), v.Field(i))
		if err != nil {
			return err
		}
	}

	return nil
}

// map keys are read in uppercase and stored in lowercase.
func (l *loader) loadMap(prefix string, v reflect.Value) error {
	rt := v.Type()
	if rt.Key().Kind() != reflect.String {
		return fmt.Errorf("unsupported map key type: %v", rt.Key())
	}

	for key, ev := range l.env {
		if !strings.HasPrefix(key, prefix+"_") {
			continue
		}

		mapKey := key[len(prefix+"_"):]
		if mapKey == "" || mapKey != strings.ToUpper(mapKey) {
			continue
		}

		if v.IsNil() {
			v.Set(reflect.MakeMap(rt))
		}

		nv := reflect.New(rt.Elem()).Elem()
		err := setValue(nv, ev)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}

		v.SetMapIndex(reflect.ValueOf(strings.ToLower(mapKey)).Convert(rt.Key()), nv)
	}

	return nil
}

func setValue(v reflect.Value, ev string) error {
	switch v.Kind() {
	case reflect.String:
		v.SetString(ev)
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		iv, err := strconv.ParseInt(ev, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(iv)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		iv, err := strconv.ParseUint(ev, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(iv)
		return nil

	case reflect.Float32, reflect.Float64:
		fv, err := strconv.ParseFloat(ev, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(fv)
		return nil

	case reflect.Bool:
		switch strings.ToLower(ev) {
		case "yes", "true":
			v.SetBool(true)

		case "no", "false":
			v.SetBool(false)

		default:
			return fmt.Errorf("invalid value '%s'", ev)
		}
		return nil

	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.String {
			break
		}

		if ev == "" {
			v.Set(reflect.MakeSlice(v.Type(), 0, 0))
			return nil
		}

		parts := strings.Split(ev, ",")
		out := reflect.MakeSlice(v.Type(), len(parts), len(parts))
		for i, p := range parts {
			out.Index(i).SetString(p)
		}
		v.Set(out)
		return nil
	}

	return fmt.Errorf("unsupported type: %v", v.Type())
}

func envToMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		tmp := strings.SplitN(kv, "=", 2)
		if len(tmp) == 2 {
			env[tmp[0]] = tmp[1]
		}
	}
	return env
}

func loadWithEnv(env map[string]string, prefix string, v interface{}) error {
	l := &loader{env: env}
	return l.load(prefix, reflect.ValueOf(v).Elem())
}

// Load loads the configuration from the environment.
// Fields are named by prefix and their uppercase JSON tag, joined by underscores.
func Load(prefix string, v interface{}) error {
	return loadWithEnv(envToMap(), prefix, v)
}
