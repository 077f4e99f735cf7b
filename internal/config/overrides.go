package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// overrides is the parsed form of key=value arguments. Group selections
// (payloads=<option>) are kept apart from field assignments.
type overrides struct {
	choices map[string]string
	values  map[string]any
}

func parseOverrides(args []string) (overrides, error) {
	o := overrides{
		choices: make(map[string]string),
		values:  make(map[string]any),
	}
	if len(args) == 0 {
		return o, nil
	}

	known := knownKeys()
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return overrides{}, fmt.Errorf("%w: %q", ErrInvalidOverride, arg)
		}
		if _, ok := known[key]; !ok {
			return overrides{}, &ValidationError{Field: key, Reason: "unknown key"}
		}
		if key == payloadsGroup {
			o.choices[key] = strings.TrimSpace(raw)
			continue
		}

		value, err := parseScalar(raw)
		if err != nil {
			return overrides{}, &ValidationError{Field: key, Value: raw, Reason: err.Error()}
		}
		o.values[key] = value
	}
	return o, nil
}

// parseScalar reads an override value the way YAML reads a plain scalar, so
// "true" is a bool and "16" an int. An empty value is the empty string.
func parseScalar(raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("parse value: %w", err)
	}
	switch v.(type) {
	case map[string]any, []any:
		return nil, fmt.Errorf("value must be a scalar")
	}
	return v, nil
}

// layer builds the partial record holding the field assignments. Each
// assignment is decoded on its own so a type error names its key.
func (o overrides) layer() (layer, error) {
	if len(o.values) == 0 {
		return layer{}, nil
	}

	var (
		layers []layer
		errs   []error
	)
	for _, key := range slices.Sorted(maps.Keys(o.values)) {
		l, err := decodeOverride(key, o.values[key])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		layers = append(layers, l)
	}
	if len(errs) > 0 {
		return layer{}, errors.Join(errs...)
	}
	return mergeLayers(layers...)
}

func decodeOverride(key string, value any) (layer, error) {
	parts := strings.Split(key, ".")
	tree := map[string]any{parts[len(parts)-1]: value}
	for i := len(parts) - 2; i >= 0; i-- {
		tree = map[string]any{parts[i]: tree}
	}

	data, err := yaml.Marshal(tree)
	if err != nil {
		return layer{}, fmt.Errorf("encode override %s: %w", key, err)
	}

	var l layer
	if err := decodeStrict(data, &l); err != nil {
		return layer{}, decodeError(key, err)
	}
	return l, nil
}
