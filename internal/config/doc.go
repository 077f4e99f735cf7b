// Package config resolves the run configuration of a merge optimisation.
//
// A primary YAML document lists its layers in a defaults list
// (for example [_self_, payloads: cargo]). The loader merges the built-in
// defaults, each listed layer in order, BMERGER_* environment variables and
// key=value overrides, later layers winning. It then expands ${...}
// templates such as run_name and the hydra run directory and validates the
// closed value sets. The result is a RunConfiguration that callers treat as
// read-only. The package also holds the settings of the inspection service.
package config
