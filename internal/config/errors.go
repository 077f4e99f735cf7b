package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLayerNotFound is returned when a defaults entry names a group option
	// that has no file or directory under the configuration directory.
	ErrLayerNotFound = errors.New("config layer not found")
	// ErrInvalidOverride is returned for override arguments that are not in key=value form.
	ErrInvalidOverride = errors.New("override must be in key=value form")
)

// ValidationError reports a field whose value lies outside its closed set or range.
type ValidationError struct {
	Field   string
	Value   any
	Reason  string
	Allowed []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid %s", e.Field)
	if e.Value != nil {
		fmt.Fprintf(&b, " %q", fmt.Sprint(e.Value))
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Allowed) > 0 {
		fmt.Fprintf(&b, " (allowed: %s)", strings.Join(e.Allowed, ", "))
	}
	return b.String()
}

// TemplateError reports an interpolation expression that could not be resolved.
type TemplateError struct {
	Field  string
	Expr   string
	Reason string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("cannot interpolate %s: ${%s}: %s", e.Field, e.Expr, e.Reason)
}

// PathError reports a declared path that does not exist or has the wrong kind.
type PathError struct {
	Field string
	Path  string
	Err   error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Field, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// Violations flattens an error produced by the loader into its individual
// validation, template and path failures. Other errors are returned as a
// single element.
func Violations(err error) []error {
	if err == nil {
		return nil
	}

	var out []error
	var walk func(error)
	walk = func(e error) {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		if inner := errors.Unwrap(e); inner != nil && wrapsJoin(inner) {
			walk(inner)
			return
		}
		out = append(out, e)
	}
	walk(err)

	return out
}

func wrapsJoin(err error) bool {
	for err != nil {
		if _, ok := err.(interface{ Unwrap() []error }); ok {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
