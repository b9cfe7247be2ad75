package params

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/G-Research/paramsweep/internal/common/sweeperrors"
)

type Distribution string

const (
	// Uniform draws low + u*(high-low).
	Uniform Distribution = "uniform"
	// RandInt draws an integer uniformly from [low, high).
	RandInt Distribution = "randint"
	// Choice draws uniformly from the declared values.
	Choice Distribution = "choice"
)

// Spec declares the domain of a single parameter.
type Spec struct {
	Name string `validate:"required"`
	Type Type
	// Values to enumerate in grid mode, or to choose from when sampling.
	Values []interface{}
	// How to draw the parameter in random mode. Defaults depend on Type and on whether Values are declared.
	Distribution Distribution
	// Bounds. Optional in grid mode.
	Low  *float64
	High *float64
	// Optimiser starting point and step scaling, both in search space. Derived from the bounds if omitted.
	X0      *float64
	Scaling *float64
	// Name of the search space transform, see LookupTransform.
	Transform string
}

func (s Spec) HasBounds() bool {
	return s.Low != nil && s.High != nil
}

// InBounds returns true if v lies in [Low, High], or if no bounds are declared.
func (s Spec) InBounds(v Value) bool {
	if s.Type == Categorical || !s.HasBounds() {
		return true
	}
	f := v.Float64()
	return f >= *s.Low && f <= *s.High
}

func (s Spec) distribution() Distribution {
	if s.Distribution != "" {
		return s.Distribution
	}
	if s.Type == Categorical || (len(s.Values) > 0 && !s.HasBounds()) {
		return Choice
	}
	if s.Type == Int {
		return RandInt
	}
	return Uniform
}

// Space is a validated, name-sorted collection of parameter specs.
type Space struct {
	specs []Spec
	index map[string]int
}

func NewSpace(specs []Spec) (*Space, error) {
	sorted := slices.Clone(specs)
	slices.SortFunc(sorted, func(a, b Spec) bool {
		return a.Name < b.Name
	})

	var result *multierror.Error
	if len(sorted) == 0 {
		result = multierror.Append(result, &sweeperrors.ErrInvalidArgument{
			Name:    "parameters",
			Value:   0,
			Message: "at least one parameter is required",
		})
	}
	index := make(map[string]int, len(sorted))
	for i, spec := range sorted {
		if spec.Name == "" {
			result = multierror.Append(result, &sweeperrors.ErrInvalidArgument{
				Name:    "name",
				Value:   spec.Name,
				Message: fmt.Sprintf("parameter %d has no name", i),
			})
			continue
		}
		if _, exists := index[spec.Name]; exists {
			result = multierror.Append(result, &sweeperrors.ErrInvalidArgument{
				Name:    spec.Name,
				Value:   spec.Name,
				Message: "parameter declared more than once",
			})
			continue
		}
		index[spec.Name] = i
		if err := validateSpec(spec); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, errors.WithStack(err)
	}
	return &Space{specs: sorted, index: index}, nil
}

func validateSpec(spec Spec) error {
	var result *multierror.Error
	if (spec.Low == nil) != (spec.High == nil) {
		result = multierror.Append(result, &sweeperrors.ErrInvalidArgument{
			Name:    spec.Name,
			Value:   spec.Low,
			Message: "low and high must be declared together",
		})
	}
	if spec.HasBounds() && *spec.Low > *spec.High {
		result = multierror.Append(result, &sweeperrors.ErrInvalidArgument{
			Name:    spec.Name,
			Value:   *spec.Low,
			Message: fmt.Sprintf("low is greater than high %v", *spec.High),
		})
	}
	for _, raw := range spec.Values {
		v, err := Cast(spec.Type, raw)
		if err != nil {
			result = multierror.Append(result, errors.WithMessagef(err, "grid value of %s", spec.Name))
			continue
		}
		if !spec.InBounds(v) {
			result = multierror.Append(result, &sweeperrors.ErrInvalidArgument{
				Name:    spec.Name,
				Value:   v.Native(),
				Message: fmt.Sprintf("value is outside [%v, %v]", *spec.Low, *spec.High),
			})
		}
	}
	if _, err := LookupTransform(spec.Transform); err != nil {
		result = multierror.Append(result, errors.WithMessagef(err, "parameter %s", spec.Name))
	}
	switch spec.distribution() {
	case Choice:
		if len(spec.Values) == 0 {
			result = multierror.Append(result, &sweeperrors.ErrInvalidArgument{
				Name:    spec.Name,
				Value:   spec.Distribution,
				Message: "values are required to choose from",
			})
		}
	case Uniform, RandInt:
		if spec.Type == Categorical {
			result = multierror.Append(result, &sweeperrors.ErrInvalidArgument{
				Name:    spec.Name,
				Value:   spec.Distribution,
				Message: "categorical parameters can only be chosen from their values",
			})
		}
	default:
		result = multierror.Append(result, &sweeperrors.ErrInvalidArgument{
			Name:    spec.Name,
			Value:   spec.Distribution,
			Message: "distribution must be one of uniform, randint or choice",
		})
	}
	return result.ErrorOrNil()
}

func (s *Space) Names() []string {
	rv := make([]string, len(s.specs))
	for i, spec := range s.specs {
		rv[i] = spec.Name
	}
	return rv
}

// Specs returns the specs in name order.
func (s *Space) Specs() []Spec {
	return slices.Clone(s.specs)
}

func (s *Space) Spec(name string) (Spec, bool) {
	i, ok := s.index[name]
	if !ok {
		return Spec{}, false
	}
	return s.specs[i], true
}

func (s *Space) Len() int {
	return len(s.specs)
}

// InBounds returns true if every value of p lies within the declared bounds of its parameter.
func (s *Space) InBounds(p ParameterSet) bool {
	for _, spec := range s.specs {
		v, ok := p.Get(spec.Name)
		if !ok || !spec.InBounds(v) {
			return false
		}
	}
	return true
}
