package generator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/seantiz/kiln/internal/model"
)

// Generator computes a job's result payload.
type Generator interface {
	// Profile describes the generator's parameters and execution pacing.
	Profile() Profile

	// Validate checks parameters before a job is created. Failures are
	// reported as *ParamError.
	Validate(params model.Parameters) error

	// Generate produces the result payload. It must be deterministic and must
	// not retain params.
	Generate(params model.Parameters) (json.RawMessage, error)
}

// Profile describes a generator. Zero Steps or StepDelay mean the engine
// defaults apply.
type Profile struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Required    []string      `json:"required"`
	Optional    []string      `json:"optional,omitempty"`
	Steps       int           `json:"steps,omitempty"`
	StepDelay   time.Duration `json:"-"`
	StepDelayMS int64         `json:"step_delay_ms,omitempty"`
}

// ParamError reports a single invalid parameter.
type ParamError struct {
	Param  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("parameter %q %s", e.Param, e.Reason)
}

// ComputationError wraps a failure raised while generating a result.
type ComputationError struct {
	Kind string
	Err  error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("%s: computation failed: %v", e.Kind, e.Err)
}

func (e *ComputationError) Unwrap() error {
	return e.Err
}

// requireNumber returns the numeric parameter key or a *ParamError.
func requireNumber(params model.Parameters, key string) (float64, error) {
	if _, present := params[key]; !present {
		return 0, &ParamError{Param: key, Reason: "is required"}
	}
	v, ok := params.Float(key)
	if !ok {
		return 0, &ParamError{Param: key, Reason: "must be a number"}
	}
	return v, nil
}

// optionalNumber returns the numeric parameter key, or def when absent.
func optionalNumber(params model.Parameters, key string, def float64) (float64, error) {
	if _, present := params[key]; !present {
		return def, nil
	}
	v, ok := params.Float(key)
	if !ok {
		return 0, &ParamError{Param: key, Reason: "must be a number"}
	}
	return v, nil
}

// integerInRange checks that v is a whole number in [lo, hi].
func integerInRange(key string, v float64, lo, hi int) (int, error) {
	if v < float64(lo) || v > float64(hi) || v != float64(int(v)) {
		return 0, &ParamError{Param: key, Reason: fmt.Sprintf("must be an integer between %d and %d", lo, hi)}
	}
	return int(v), nil
}
