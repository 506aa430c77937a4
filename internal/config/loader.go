package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration. Defaults are applied first, then the YAML
// file at path (skipped when path is empty), then environment variables.
// envFiles are loaded into the environment beforehand; variables already set
// are not overwritten.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("config load: env file: %w", err)
		}
	}

	cfg := &Config{}
	if err := walk(reflect.ValueOf(cfg).Elem(), applyDefault); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config load: %w", err)
		}
	}
	if err := walk(reflect.ValueOf(cfg).Elem(), applyEnv); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := walk(reflect.ValueOf(cfg).Elem(), checkRequired); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// decodeFile decodes the YAML file at path into cfg. Unknown keys are errors.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// walk calls fn for every tagged leaf field of the struct v.
func walk(v reflect.Value, fn func(reflect.StructField, reflect.Value) error) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)
		if !fieldVal.CanSet() {
			continue
		}
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := walk(fieldVal, fn); err != nil {
				return err
			}
			continue
		}
		if field.Tag.Get("env") == "" {
			continue
		}
		if err := fn(field, fieldVal); err != nil {
			return err
		}
	}
	return nil
}

func applyDefault(field reflect.StructField, v reflect.Value) error {
	def := field.Tag.Get("default")
	if def == "" {
		return nil
	}
	if err := setField(v, def); err != nil {
		return fmt.Errorf("invalid default for %s: %w", field.Name, err)
	}
	return nil
}

func applyEnv(field reflect.StructField, v reflect.Value) error {
	name := field.Tag.Get("env")
	value := os.Getenv(name)
	if value == "" {
		if alt := field.Tag.Get("envAlt"); alt != "" {
			value = os.Getenv(alt)
		}
	}
	if value == "" {
		return nil
	}
	if err := setField(v, value); err != nil {
		return fmt.Errorf("invalid value for %s=%q: %w", name, value, err)
	}
	return nil
}

func checkRequired(field reflect.StructField, v reflect.Value) error {
	if field.Tag.Get("required") == "true" && v.IsZero() {
		return fmt.Errorf("%s (yaml %q) is required", field.Tag.Get("env"), field.Tag.Get("yaml"))
	}
	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		var result []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}
