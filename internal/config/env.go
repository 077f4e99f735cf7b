package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable read into the env layer,
// e.g. BMERGER_OPTIMISER or BMERGER_HYDRA_RUN_DIR.
const EnvPrefix = "BMERGER_"

// envLayer reads the BMERGER_* variables into a partial record. Unset
// variables leave their field nil. A nil environ means the process environment.
func envLayer(environ map[string]string) (layer, error) {
	var l layer
	opts := env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	}
	if err := env.ParseWithOptions(&l, opts); err != nil {
		return layer{}, envError(err, envLookup(environ))
	}
	return l, nil
}

// envError reports values that do not parse into their field's type as
// validation errors naming the variable.
func envError(err error, lookup func(string) (string, bool)) error {
	var agg env.AggregateError
	if !errors.As(err, &agg) {
		return fmt.Errorf("error getting env configs: %w", err)
	}

	names := envVariables()
	errs := make([]error, 0, len(agg.Errors))
	for _, inner := range agg.Errors {
		var parseErr env.ParseError
		if !errors.As(inner, &parseErr) {
			return fmt.Errorf("error getting env configs: %w", err)
		}
		name, ok := names[parseErr.Name]
		if !ok {
			name = EnvPrefix + parseErr.Name
		}
		value, _ := lookup(name)
		errs = append(errs, &ValidationError{Field: name, Value: value, Reason: parseErr.Err.Error()})
	}
	return errors.Join(errs...)
}

// envVariables maps layer field names to their environment variable.
func envVariables() map[string]string {
	names := make(map[string]string)
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := range t.NumField() {
			f := t.Field(i)
			if p, ok := f.Tag.Lookup("envPrefix"); ok && f.Type.Kind() == reflect.Struct {
				walk(f.Type, prefix+p)
				continue
			}
			if tag := f.Tag.Get("env"); tag != "" {
				if _, seen := names[f.Name]; !seen {
					names[f.Name] = prefix + tag
				}
			}
		}
	}
	walk(reflect.TypeOf(layer{}), EnvPrefix)
	return names
}

func envLookup(environ map[string]string) func(string) (string, bool) {
	if environ == nil {
		return os.LookupEnv
	}
	return func(name string) (string, bool) {
		v, ok := environ[name]
		return v, ok
	}
}
