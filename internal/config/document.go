package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	selfEntry     = "_self_"
	payloadsGroup = "payloads"
)

var optionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// document is a primary configuration file: a defaults list plus the
// document's own keys (the _self_ layer).
type document struct {
	Defaults []defaultEntry `yaml:"defaults"`
	layer    `yaml:",inline"`
}

// defaultEntry is one item of the defaults list: either _self_ or a
// "group: option" selection. A null option disables the group.
type defaultEntry struct {
	Self     bool
	Group    string
	Option   string
	Disabled bool
}

func (d *defaultEntry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value != selfEntry {
			return fmt.Errorf("line %d: unsupported defaults entry %q", node.Line, node.Value)
		}
		d.Self = true
		return nil
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("line %d: defaults entry must select exactly one group", node.Line)
		}
		key, value := node.Content[0], node.Content[1]
		if value.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: option of group %q must be a scalar", value.Line, key.Value)
		}
		d.Group = key.Value
		if value.Tag == "!!null" {
			d.Disabled = true
			return nil
		}
		d.Option = value.Value
		return nil
	default:
		return fmt.Errorf("line %d: defaults entry must be a scalar or a mapping", node.Line)
	}
}

func (d defaultEntry) String() string {
	switch {
	case d.Self:
		return selfEntry
	case d.Disabled:
		return d.Group + ": null"
	default:
		return d.Group + ": " + d.Option
	}
}

func parseDocument(data []byte, source string) (document, error) {
	var doc document
	if err := decodeStrict(data, &doc); err != nil {
		return document{}, decodeError(source, err)
	}
	return doc, nil
}

// composition returns the ordered defaults list with group selections
// replaced by the ones in choices. _self_ is appended when missing.
func (doc document) composition(choices map[string]string) ([]defaultEntry, error) {
	entries := make([]defaultEntry, 0, len(doc.Defaults)+1)
	seenSelf := false
	seenGroups := make(map[string]struct{}, len(doc.Defaults))

	for _, entry := range doc.Defaults {
		if entry.Self {
			if seenSelf {
				return nil, &ValidationError{Field: "defaults", Value: selfEntry, Reason: "listed more than once"}
			}
			seenSelf = true
			entries = append(entries, entry)
			continue
		}
		if _, dup := seenGroups[entry.Group]; dup {
			return nil, &ValidationError{Field: "defaults", Value: entry.Group, Reason: "group listed more than once"}
		}
		seenGroups[entry.Group] = struct{}{}
		if option, ok := choices[entry.Group]; ok {
			entry = defaultEntry{Group: entry.Group, Option: option, Disabled: option == "null"}
		}
		entries = append(entries, entry)
	}

	for _, group := range slices.Sorted(maps.Keys(choices)) {
		if _, ok := seenGroups[group]; ok {
			continue
		}
		option := choices[group]
		entries = append(entries, defaultEntry{Group: group, Option: option, Disabled: option == "null"})
	}

	if !seenSelf {
		entries = append(entries, defaultEntry{Self: true})
	}
	return entries, nil
}

// loadGroup reads the layer selected by a "group: option" entry from dir.
func loadGroup(dir string, entry defaultEntry) (layer, error) {
	if entry.Group != payloadsGroup {
		return layer{}, &ValidationError{
			Field:   "defaults",
			Value:   entry.Group,
			Reason:  "unknown config group",
			Allowed: []string{payloadsGroup},
		}
	}
	if !optionNamePattern.MatchString(entry.Option) || strings.Contains(entry.Option, "..") {
		return layer{}, &ValidationError{Field: payloadsGroup, Value: entry.Option, Reason: "invalid option name"}
	}

	payloads, err := readPayloadOption(filepath.Join(dir, entry.Group), entry.Option)
	if err != nil {
		return layer{}, err
	}
	return layer{Payloads: payloads}, nil
}

// readPayloadOption loads <groupDir>/<option>.yaml as a map of payloads or,
// when no such file exists, every YAML file of <groupDir>/<option>/ as one
// payload named after the file.
func readPayloadOption(groupDir, option string) (map[string]Payload, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(groupDir, option+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		payloads := make(map[string]Payload)
		if err := decodeStrict(data, &payloads); err != nil {
			return nil, decodeError(path, err)
		}
		return payloads, nil
	}

	dir := filepath.Join(groupDir, option)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrLayerNotFound, filepath.Base(groupDir), option)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	payloads := make(map[string]Payload, len(entries))
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var p Payload
		if err := decodeStrict(data, &p); err != nil {
			return nil, decodeError(path, err)
		}
		payloads[strings.TrimSuffix(entry.Name(), ext)] = p
	}
	return payloads, nil
}

func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// decodeError turns YAML type and unknown-field errors into validation errors.
func decodeError(source string, err error) error {
	var typeErr *yaml.TypeError
	if !errors.As(err, &typeErr) {
		return fmt.Errorf("parse %s: %w", source, err)
	}

	errs := make([]error, 0, len(typeErr.Errors))
	for _, msg := range typeErr.Errors {
		errs = append(errs, &ValidationError{Field: source, Reason: msg})
	}
	return errors.Join(errs...)
}
