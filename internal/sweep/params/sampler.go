package params

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/G-Research/paramsweep/internal/common/sweepcontext"
	"github.com/G-Research/paramsweep/internal/common/sweeperrors"
)

const DefaultMaxAttempts = 1_000_000

// Sampler produces parameter sets from a Space, keeping only those accepted by its Predicate.
type Sampler struct {
	space       *Space
	predicate   Predicate
	context     map[string]interface{}
	rand        *rand.Rand
	maxAttempts int
}

// NewSampler returns a Sampler. A nil predicate accepts everything; maxAttempts <= 0 uses DefaultMaxAttempts.
func NewSampler(space *Space, predicate Predicate, context map[string]interface{}, rand *rand.Rand, maxAttempts int) *Sampler {
	if predicate == nil {
		predicate = AcceptAll
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Sampler{
		space:       space,
		predicate:   predicate,
		context:     context,
		rand:        rand,
		maxAttempts: maxAttempts,
	}
}

func (s *Sampler) Space() *Space {
	return s.space
}

func (s *Sampler) Accept(candidate ParameterSet) (bool, error) {
	return s.predicate.Accept(candidate, s.context)
}

// Grid returns every accepted combination of the declared values, the first parameter (by name) varying slowest.
func (s *Sampler) Grid(ctx *sweepcontext.Context) ([]ParameterSet, error) {
	specs := s.space.Specs()
	axes := make([][]Value, len(specs))
	total := 1
	for i, spec := range specs {
		if len(spec.Values) == 0 {
			return nil, errors.WithStack(&sweeperrors.ErrInvalidArgument{
				Name:    spec.Name,
				Value:   spec.Values,
				Message: "grid mode requires values for every parameter",
			})
		}
		axes[i] = make([]Value, len(spec.Values))
		for j, raw := range spec.Values {
			v, err := Cast(spec.Type, raw)
			if err != nil {
				return nil, err
			}
			axes[i][j] = v
		}
		if total > math.MaxInt/len(axes[i]) {
			return nil, errors.WithStack(&sweeperrors.ErrInvalidArgument{
				Name:    spec.Name,
				Value:   len(axes[i]),
				Message: "number of grid combinations overflows int",
			})
		}
		total *= len(axes[i])
	}

	var rv []ParameterSet
	odometer := make([]int, len(axes))
	for n := 0; n < total; n++ {
		values := make(map[string]Value, len(specs))
		for i, spec := range specs {
			values[spec.Name] = axes[i][odometer[i]]
		}
		candidate := NewParameterSet(values)
		accepted, err := s.Accept(candidate)
		if err != nil {
			return nil, err
		}
		if accepted {
			rv = append(rv, candidate)
		}
		for i := len(odometer) - 1; i >= 0; i-- {
			odometer[i]++
			if odometer[i] < len(axes[i]) {
				break
			}
			odometer[i] = 0
		}
	}
	ctx.Log.Infof("grid: %d of %d combinations accepted", len(rv), total)
	return rv, nil
}

// Random returns exactly n accepted parameter sets, each parameter drawn independently.
// Returns ErrExhausted if maxAttempts draws did not yield n acceptable sets.
func (s *Sampler) Random(ctx *sweepcontext.Context, n int) ([]ParameterSet, error) {
	rv := make([]ParameterSet, 0, n)
	attempts := 0
	for len(rv) < n {
		if attempts >= s.maxAttempts {
			return nil, errors.WithStack(&sweeperrors.ErrExhausted{
				Operation: "random sampling",
				Attempts:  attempts,
				Found:     len(rv),
				Wanted:    n,
			})
		}
		attempts++
		candidate, err := s.draw()
		if err != nil {
			return nil, err
		}
		accepted, err := s.Accept(candidate)
		if err != nil {
			return nil, err
		}
		if accepted {
			rv = append(rv, candidate)
		}
	}
	ctx.Log.Infof("random: %d samples accepted after %d draws", len(rv), attempts)
	return rv, nil
}

func (s *Sampler) draw() (ParameterSet, error) {
	values := make(map[string]Value, s.space.Len())
	for _, spec := range s.space.Specs() {
		v, err := s.drawOne(spec)
		if err != nil {
			return ParameterSet{}, err
		}
		values[spec.Name] = v
	}
	return NewParameterSet(values), nil
}

func (s *Sampler) drawOne(spec Spec) (Value, error) {
	switch spec.distribution() {
	case Choice:
		return Cast(spec.Type, spec.Values[s.rand.Intn(len(spec.Values))])
	case RandInt:
		if !spec.HasBounds() {
			return Value{}, missingBounds(spec)
		}
		low, high := int64(*spec.Low), int64(*spec.High)
		if high <= low {
			return Cast(spec.Type, low)
		}
		return Cast(spec.Type, low+s.rand.Int63n(high-low))
	default:
		if !spec.HasBounds() {
			return Value{}, missingBounds(spec)
		}
		return Cast(spec.Type, *spec.Low+s.rand.Float64()*(*spec.High-*spec.Low))
	}
}

func missingBounds(spec Spec) error {
	return errors.WithStack(&sweeperrors.ErrInvalidArgument{
		Name:    spec.Name,
		Value:   spec.Distribution,
		Message: "low and high are required for random sampling",
	})
}
