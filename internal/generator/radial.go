package generator

import (
	"encoding/json"
	"errors"
	"math"

	"github.com/seantiz/kiln/internal/model"
)

// KindRadial is the name of the radial profile generator.
const KindRadial = "radial"

const (
	defaultRadialSamples = 64
	minRadialSamples     = 2
	maxRadialSamples     = 512
)

// Radial computes the geometry of a disc and a sampled gaussian falloff
// from its centre to its rim.
type Radial struct{}

type radialSample struct {
	R         float64 `json:"r"`
	Intensity float64 `json:"intensity"`
}

type radialResult struct {
	Radius        float64        `json:"radius"`
	Samples       int            `json:"samples"`
	Area          float64        `json:"area"`
	Circumference float64        `json:"circumference"`
	Profile       []radialSample `json:"profile"`
}

func (Radial) Profile() Profile {
	return Profile{
		Name:        KindRadial,
		Description: "disc area, circumference and radial intensity profile",
		Required:    []string{"radius"},
		Optional:    []string{"samples"},
	}
}

func (Radial) Validate(params model.Parameters) error {
	_, _, err := radialInputs(params)
	return err
}

func (Radial) Generate(params model.Parameters) (json.RawMessage, error) {
	radius, samples, err := radialInputs(params)
	if err != nil {
		return nil, &ComputationError{Kind: KindRadial, Err: err}
	}

	res := radialResult{
		Radius:        radius,
		Samples:       samples,
		Area:          math.Pi * radius * radius,
		Circumference: 2 * math.Pi * radius,
		Profile:       make([]radialSample, samples),
	}
	if math.IsInf(res.Area, 0) || math.IsInf(res.Circumference, 0) {
		return nil, &ComputationError{Kind: KindRadial, Err: errors.New("radius too large: area is not finite")}
	}

	for i := range samples {
		frac := float64(i) / float64(samples-1)
		res.Profile[i] = radialSample{
			R:         radius * frac,
			Intensity: math.Exp(-4 * frac * frac),
		}
	}

	out, err := json.Marshal(res)
	if err != nil {
		return nil, &ComputationError{Kind: KindRadial, Err: err}
	}
	return out, nil
}

func radialInputs(params model.Parameters) (float64, int, error) {
	radius, err := requireNumber(params, "radius")
	if err != nil {
		return 0, 0, err
	}
	if math.IsNaN(radius) || math.IsInf(radius, 0) || radius <= 0 {
		return 0, 0, &ParamError{Param: "radius", Reason: "must be a positive finite number"}
	}

	raw, err := optionalNumber(params, "samples", defaultRadialSamples)
	if err != nil {
		return 0, 0, err
	}
	samples, err := integerInRange("samples", raw, minRadialSamples, maxRadialSamples)
	if err != nil {
		return 0, 0, err
	}
	return radius, samples, nil
}
