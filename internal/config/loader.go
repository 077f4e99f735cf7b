package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Option configures a Loader.
type Option func(*Loader)

// WithClock overrides the time source used by ${now:...}, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Loader) {
		l.clock = clock
	}
}

// WithEnvironment replaces the process environment for the BMERGER_* layer
// and ${oc.env:...} lookups.
func WithEnvironment(environ map[string]string) Option {
	return func(l *Loader) {
		l.environ = environ
	}
}

// WithOverrides appends key=value overrides applied after every other layer.
// "payloads=<option>" selects the payload layer instead of setting a field.
func WithOverrides(args ...string) Option {
	return func(l *Loader) {
		l.overrides = append(l.overrides, args...)
	}
}

// WithJobName sets the value of ${hydra:job.name}.
func WithJobName(name string) Option {
	return func(l *Loader) {
		l.jobName = name
	}
}

// WithPathValidation makes the loader check declared paths eagerly.
func WithPathValidation() Option {
	return func(l *Loader) {
		l.checkPaths = true
	}
}

// Loader turns a configuration document into a RunConfiguration. A Loader
// holds no state between loads and may be reused.
type Loader struct {
	path       string
	dir        string
	clock      func() time.Time
	environ    map[string]string
	overrides  []string
	jobName    string
	checkPaths bool
}

// NewLoader creates a loader for the primary document at path. Group
// layers are looked up relative to the document's directory.
func NewLoader(path string, opts ...Option) *Loader {
	l := &Loader{
		path:  path,
		dir:   filepath.Dir(path),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the primary document path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads and resolves the primary document.
func Load(path string, opts ...Option) (RunConfiguration, error) {
	return NewLoader(path, opts...).Load()
}

// Load reads and resolves the primary document.
func (l *Loader) Load() (RunConfiguration, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return RunConfiguration{}, fmt.Errorf("read config: %w", err)
	}
	return l.load(data, l.path)
}

// LoadBytes resolves a primary document held in memory. Group layers are
// still read from the loader's configuration directory.
func (l *Loader) LoadBytes(data []byte) (RunConfiguration, error) {
	return l.load(data, "document")
}

func (l *Loader) load(data []byte, source string) (RunConfiguration, error) {
	doc, err := parseDocument(data, source)
	if err != nil {
		return RunConfiguration{}, err
	}

	ovr, err := parseOverrides(l.overrides)
	if err != nil {
		return RunConfiguration{}, fmt.Errorf("parse overrides: %w", err)
	}

	entries, err := doc.composition(ovr.choices)
	if err != nil {
		return RunConfiguration{}, err
	}

	layers := []layer{defaultLayer()}
	for _, entry := range entries {
		switch {
		case entry.Self:
			layers = append(layers, doc.layer)
		case entry.Disabled:
			continue
		default:
			group, err := loadGroup(l.dir, entry)
			if err != nil {
				return RunConfiguration{}, fmt.Errorf("load defaults entry %q: %w", entry, err)
			}
			layers = append(layers, group)
		}
	}

	envL, err := envLayer(l.environ)
	if err != nil {
		return RunConfiguration{}, err
	}
	overrideL, err := ovr.layer()
	if err != nil {
		return RunConfiguration{}, fmt.Errorf("apply overrides: %w", err)
	}
	layers = append(layers, envL, overrideL)
	if l.jobName != "" {
		var jobL layer
		jobL.Hydra.Job.Name = ptr(l.jobName)
		layers = append(layers, jobL)
	}

	merged, err := mergeLayers(layers...)
	if err != nil {
		return RunConfiguration{}, err
	}
	if err := interpolate(&merged, l.clock(), envLookup(l.environ)); err != nil {
		return RunConfiguration{}, err
	}

	cfg := merged.resolve()
	if err := cfg.Validate(); err != nil {
		return RunConfiguration{}, fmt.Errorf("validate config: %w", err)
	}
	if l.checkPaths {
		if err := CheckPaths(cfg); err != nil {
			return RunConfiguration{}, fmt.Errorf("check paths: %w", err)
		}
	}

	return cfg, nil
}
