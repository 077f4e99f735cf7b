package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
)

// interpolator expands ${...} expressions in the string fields of a merged
// layer. Supported forms:
//
//	${key}                  value of another key, dotted for nested keys
//	${now:%Y-%m-%d}         load timestamp formatted with strftime
//	${hydra:job.name}       job name
//	${oc.env:NAME[,default]} environment variable
//
// A literal "${" is written as "\${".
type interpolator struct {
	fields    map[string]reflect.Value
	resolved  map[string]string
	resolving map[string]bool
	now       time.Time
	lookupEnv func(string) (string, bool)
}

func interpolate(l *layer, now time.Time, lookupEnv func(string) (string, bool)) error {
	ip := &interpolator{
		fields:    make(map[string]reflect.Value),
		resolved:  make(map[string]string),
		resolving: make(map[string]bool),
		now:       now,
		lookupEnv: lookupEnv,
	}
	var order []string
	l.scalarFields(func(key string, field reflect.Value) {
		ip.fields[key] = field
		order = append(order, key)
	})

	for _, key := range order {
		field := ip.fields[key]
		if field.IsNil() || field.Elem().Kind() != reflect.String {
			continue
		}
		if !strings.Contains(field.Elem().String(), "${") {
			continue
		}
		value, err := ip.value(key)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(&value))
	}
	return nil
}

func (ip *interpolator) value(key string) (string, error) {
	if v, ok := ip.resolved[key]; ok {
		return v, nil
	}
	field, ok := ip.fields[key]
	if !ok {
		return "", fmt.Errorf("unknown key %q", key)
	}
	if field.IsNil() {
		return "", fmt.Errorf("key %q is not set", key)
	}
	if field.Elem().Kind() != reflect.String {
		return fmt.Sprint(field.Elem().Interface()), nil
	}
	if ip.resolving[key] {
		return "", fmt.Errorf("reference cycle through %q", key)
	}

	ip.resolving[key] = true
	defer delete(ip.resolving, key)

	v, err := ip.expand(key, field.Elem().String())
	if err != nil {
		return "", err
	}
	ip.resolved[key] = v
	return v, nil
}

func (ip *interpolator) expand(key, s string) (string, error) {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		if start > 0 && s[start-1] == '\\' {
			b.WriteString(s[:start-1])
			b.WriteString("${")
			s = s[start+2:]
			continue
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			return "", &TemplateError{Field: key, Expr: s[start+2:], Reason: "missing closing brace"}
		}
		expr := s[start+2 : start+end]
		b.WriteString(s[:start])

		v, err := ip.evaluate(key, expr)
		if err != nil {
			return "", err
		}
		b.WriteString(v)
		s = s[start+end+1:]
	}
}

func (ip *interpolator) evaluate(key, expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", &TemplateError{Field: key, Expr: expr, Reason: "empty expression"}
	}

	resolver, arg, isResolver := strings.Cut(expr, ":")
	if !isResolver {
		v, err := ip.value(expr)
		if err != nil {
			var te *TemplateError
			if errors.As(err, &te) {
				return "", err
			}
			return "", &TemplateError{Field: key, Expr: expr, Reason: err.Error()}
		}
		return v, nil
	}

	switch resolver {
	case "now":
		v, err := strftime.Format(arg, ip.now)
		if err != nil {
			return "", &TemplateError{Field: key, Expr: expr, Reason: err.Error()}
		}
		return v, nil
	case "hydra":
		if arg != "job.name" {
			return "", &TemplateError{Field: key, Expr: expr, Reason: "unsupported hydra key"}
		}
		v, err := ip.value("hydra.job.name")
		if err != nil {
			return "", &TemplateError{Field: key, Expr: expr, Reason: err.Error()}
		}
		return v, nil
	case "oc.env":
		name, fallback, hasFallback := strings.Cut(arg, ",")
		name = strings.TrimSpace(name)
		if v, ok := ip.lookupEnv(name); ok {
			return v, nil
		}
		if hasFallback {
			return strings.Trim(strings.TrimSpace(fallback), `'"`), nil
		}
		return "", &TemplateError{Field: key, Expr: expr, Reason: "environment variable not set"}
	default:
		return "", &TemplateError{Field: key, Expr: expr, Reason: fmt.Sprintf("unknown resolver %q", resolver)}
	}
}
