package loop

import (
	"fmt"
	"math"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/G-Research/paramsweep/internal/common/sweeperrors"
	"github.com/G-Research/paramsweep/internal/sweep/params"
)

// Codec converts between optimiser vectors, in search space, and parameter sets, in natural space.
// Coordinate i of a vector is the i-th parameter in sorted name order.
type Codec struct {
	space      *params.Space
	specs      []params.Spec
	transforms []params.Transform
}

func NewCodec(space *params.Space) (*Codec, error) {
	specs := space.Specs()
	transforms := make([]params.Transform, len(specs))
	var result *multierror.Error
	for i, spec := range specs {
		if spec.Type == params.Categorical {
			result = multierror.Append(result, errors.WithStack(&sweeperrors.ErrInvalidArgument{
				Name:    spec.Name,
				Value:   spec.Type,
				Message: "categorical parameters cannot be optimised",
			}))
			continue
		}
		if !spec.HasBounds() && (spec.X0 == nil || spec.Scaling == nil) {
			result = multierror.Append(result, errors.WithStack(&sweeperrors.ErrInvalidArgument{
				Name:    spec.Name,
				Value:   nil,
				Message: "either low and high, or x0 and scaling, are required",
			}))
			continue
		}
		t, err := params.LookupTransform(spec.Transform)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		transforms[i] = t
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &Codec{space: space, specs: specs, transforms: transforms}, nil
}

func (c *Codec) Names() []string {
	return c.space.Names()
}

func (c *Codec) Len() int {
	return len(c.specs)
}

// Decode maps x to natural space and casts each coordinate to its parameter's type.
func (c *Codec) Decode(x []float64) (params.ParameterSet, error) {
	if len(x) != len(c.specs) {
		return params.ParameterSet{}, errors.WithStack(&sweeperrors.ErrInvalidArgument{
			Name:    "x",
			Value:   x,
			Message: fmt.Sprintf("expected %d coordinates", len(c.specs)),
		})
	}
	values := make(map[string]params.Value, len(c.specs))
	for i, spec := range c.specs {
		v, err := params.Cast(spec.Type, c.transforms[i].Forward(x[i]))
		if err != nil {
			return params.ParameterSet{}, err
		}
		values[spec.Name] = v
	}
	return params.NewParameterSet(values), nil
}

// Valid returns true if every parameter of p lies within its declared bounds.
func (c *Codec) Valid(p params.ParameterSet) bool {
	for _, spec := range c.specs {
		v, ok := p.Get(spec.Name)
		if !ok || math.IsNaN(v.Float64()) || !spec.InBounds(v) {
			return false
		}
	}
	return true
}

// Initial returns the optimiser's starting point and per-coordinate scaling, both in search space.
// Unless given explicitly, x0 is the middle of the bounds and the scaling is chosen so that sigma0 spans a third of
// the bounds. With autoScaling off the scaling is nil, i.e. all ones.
func (c *Codec) Initial(sigma0 float64, autoScaling bool) ([]float64, []float64, error) {
	x0 := make([]float64, len(c.specs))
	scaling := make([]float64, len(c.specs))
	var result *multierror.Error
	for i, spec := range c.specs {
		var lower, upper float64
		if spec.HasBounds() {
			lower, upper = c.searchBounds(i)
		}
		if spec.X0 != nil {
			x0[i] = *spec.X0
		} else {
			x0[i] = (lower + upper) / 2
		}
		if spec.Scaling != nil {
			scaling[i] = *spec.Scaling
		} else {
			scaling[i] = (upper - lower) / (3 * sigma0)
		}
		if isBad(x0[i]) || isBad(scaling[i]) || !(scaling[i] > 0) {
			result = multierror.Append(result, errors.WithStack(&sweeperrors.ErrInvalidArgument{
				Name:    spec.Name,
				Value:   []float64{x0[i], scaling[i]},
				Message: "bounds do not give a finite starting point and positive scaling in search space",
			}))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, nil, err
	}
	if !autoScaling {
		scaling = nil
	}
	return x0, scaling, nil
}

// SearchBounds returns the bounds in search space, with infinities for unbounded parameters.
func (c *Codec) SearchBounds() ([]float64, []float64) {
	lower := make([]float64, len(c.specs))
	upper := make([]float64, len(c.specs))
	for i, spec := range c.specs {
		if spec.HasBounds() {
			lower[i], upper[i] = c.searchBounds(i)
		} else {
			lower[i], upper[i] = math.Inf(-1), math.Inf(1)
		}
	}
	return lower, upper
}

func (c *Codec) searchBounds(i int) (float64, float64) {
	spec := c.specs[i]
	lower := c.transforms[i].Inverse(*spec.Low)
	upper := c.transforms[i].Inverse(*spec.High)
	if lower > upper {
		lower, upper = upper, lower
	}
	return lower, upper
}

func isBad(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
