package params

import (
	"math"

	"github.com/pkg/errors"

	"github.com/G-Research/paramsweep/internal/common/sweeperrors"
)

// Transform maps between the space an optimiser searches in and the natural space a parameter is evaluated in.
// Forward and Inverse must be monotone inverses of each other.
type Transform interface {
	// Forward maps a search space value to the natural value.
	Forward(float64) float64
	// Inverse maps a natural value to the search space.
	Inverse(float64) float64
}

type transformFuncs struct {
	forward func(float64) float64
	inverse func(float64) float64
}

func (t transformFuncs) Forward(v float64) float64 { return t.forward(v) }
func (t transformFuncs) Inverse(v float64) float64 { return t.inverse(v) }

func identity(v float64) float64 { return v }

var transforms = map[string]Transform{
	"":         transformFuncs{forward: identity, inverse: identity},
	"identity": transformFuncs{forward: identity, inverse: identity},
	// Search in log space, i.e. for positive parameters spanning orders of magnitude.
	"log":      transformFuncs{forward: math.Exp, inverse: math.Log},
	"log10": transformFuncs{
		forward: func(v float64) float64 { return math.Pow(10, v) },
		inverse: math.Log10,
	},
	// Search in sqrt space, for non-negative parameters.
	"sqrt": transformFuncs{
		forward: func(v float64) float64 { return v * v },
		inverse: math.Sqrt,
	},
}

// LookupTransform returns the named transform. The empty name is the identity.
func LookupTransform(name string) (Transform, error) {
	t, ok := transforms[name]
	if !ok {
		return nil, errors.WithStack(&sweeperrors.ErrInvalidArgument{
			Name:    "transform",
			Value:   name,
			Message: "must be one of identity, log, log10 or sqrt",
		})
	}
	return t, nil
}
