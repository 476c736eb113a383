package toml

import (
	"encoding"
	"reflect"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ApplyEnvOverrides applies environment variables of the form
// PREFIX_SECTION_FIELD_NAME on top of an already decoded config
// struct. Field names come from the toml tags with dashes mapped to
// underscores.
func ApplyEnvOverrides(getenv func(string) string, prefix string, val interface{}) error {
	v := reflect.ValueOf(val)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return errors.New("env overrides need a non-nil pointer to a config struct")
	}
	return applyEnvOverrides(getenv, prefix, v.Elem())
}

func applyEnvOverrides(getenv func(string) string, prefix string, v reflect.Value) error {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return setEnvValue(getenv(prefix), v)
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}
		name := field.Tag.Get("toml")
		if idx := strings.Index(name, ","); idx >= 0 {
			name = name[:idx]
		}
		if name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
		}

		key := prefix + "_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		fv := v.Field(i)

		switch fv.Kind() {
		case reflect.Struct, reflect.Ptr:
			if err := applyEnvOverrides(getenv, key, fv); err != nil {
				return err
			}
		default:
			if err := setEnvValue(getenv(key), fv); err != nil {
				return errors.Wrapf(err, "apply %s", key)
			}
		}
	}
	return nil
}

func setEnvValue(s string, v reflect.Value) error {
	if s == "" {
		return nil
	}

	if v.CanAddr() {
		if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(s))
		}
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		v.SetFloat(f)
	default:
		return errors.Errorf("cannot override field of kind %s", v.Kind())
	}
	return nil
}
