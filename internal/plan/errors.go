package plan

import "errors"

var (
	// ErrInvalidIteration is returned when an iteration lies outside 1..TotalIterations.
	ErrInvalidIteration = errors.New("iteration is outside the run")
	// ErrNoPayloads is returned when the configuration selects no payloads.
	ErrNoPayloads = errors.New("configuration selects no payloads")
)
