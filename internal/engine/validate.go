package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/seantiz/kiln/internal/generator"
)

const (
	maxParameters   = 64
	maxParamKeyLen  = 64
	maxKindNameSize = 64
)

var validate = validator.New()

// submission is the shape check applied before generator-specific validation.
type submission struct {
	Kind       string         `validate:"omitempty,max=64,printascii"`
	Parameters map[string]any `validate:"required,min=1,max=64,dive,keys,min=1,max=64,printascii,endkeys"`
}

// validateSubmission checks req in three passes: structure, value types,
// then the generator's own rules.
func (e *Engine) validateSubmission(req SubmitRequest) (generator.Generator, error) {
	if err := validate.Struct(submission{Kind: req.Kind, Parameters: req.Parameters}); err != nil {
		return nil, describeValidation(err)
	}

	if err := req.Parameters.CheckScalars(); err != nil {
		return nil, &ValidationError{Field: "parameters", Reason: err.Error()}
	}

	g, err := e.registry.Resolve(req.Kind)
	if err != nil {
		return nil, &ValidationError{Field: "kind", Reason: err.Error()}
	}

	if err := g.Validate(req.Parameters); err != nil {
		var pe *generator.ParamError
		if errors.As(err, &pe) {
			return nil, &ValidationError{Field: "parameters." + pe.Param, Reason: pe.Reason}
		}
		return nil, &ValidationError{Field: "parameters", Reason: err.Error()}
	}
	return g, nil
}

// describeValidation converts the first validator failure into a
// ValidationError with a readable reason.
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Field: "request", Reason: err.Error()}
	}

	fe := verrs[0]
	field := fe.Field()
	switch {
	case strings.HasPrefix(field, "Parameters["):
		key := strings.TrimSuffix(strings.TrimPrefix(field, "Parameters["), "]")
		return &ValidationError{
			Field:  "parameters",
			Reason: fmt.Sprintf("key %q must be 1 to %d printable ASCII characters", key, maxParamKeyLen),
		}
	case field == "Parameters":
		return &ValidationError{
			Field:  "parameters",
			Reason: fmt.Sprintf("must be an object with 1 to %d entries", maxParameters),
		}
	case field == "Kind":
		return &ValidationError{
			Field:  "kind",
			Reason: fmt.Sprintf("must be at most %d printable ASCII characters", maxKindNameSize),
		}
	default:
		return &ValidationError{Field: strings.ToLower(field), Reason: "failed " + fe.Tag() + " check"}
	}
}
