package pipeline

import "errors"

var (
	// ErrEmptyInput is returned when an input yields no fragment.
	ErrEmptyInput = errors.New("input yields no fragments")
	// ErrUnknownStrategy is returned for an unsupported or malformed decomposition strategy.
	ErrUnknownStrategy = errors.New("unknown decomposition strategy")
	// ErrUnknownRun is returned for a run id the processor never issued.
	ErrUnknownRun = errors.New("unknown run")
)
