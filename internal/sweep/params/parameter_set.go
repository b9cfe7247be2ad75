package params

import (
	"math"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ParameterSet is an immutable mapping from parameter name to value, iterated in sorted name order.
type ParameterSet struct {
	names  []string
	values map[string]Value
}

func NewParameterSet(values map[string]Value) ParameterSet {
	names := maps.Keys(values)
	slices.Sort(names)
	return ParameterSet{
		names:  names,
		values: maps.Clone(values),
	}
}

func (p ParameterSet) Names() []string {
	return slices.Clone(p.names)
}

func (p ParameterSet) Len() int {
	return len(p.names)
}

func (p ParameterSet) Get(name string) (Value, bool) {
	v, ok := p.values[name]
	return v, ok
}

// With returns a copy of p with name set to v.
func (p ParameterSet) With(name string, v Value) ParameterSet {
	values := maps.Clone(p.values)
	if values == nil {
		values = make(map[string]Value, 1)
	}
	values[name] = v
	return NewParameterSet(values)
}

// Vector returns the numeric values of names, in that order. Missing or categorical values are NaN.
func (p ParameterSet) Vector(names []string) []float64 {
	rv := make([]float64, len(names))
	for i, name := range names {
		if v, ok := p.values[name]; ok {
			rv[i] = v.Float64()
		} else {
			rv[i] = math.NaN()
		}
	}
	return rv
}

// Natives returns the values keyed by name as int64, float64 or string.
func (p ParameterSet) Natives() map[string]interface{} {
	rv := make(map[string]interface{}, len(p.values))
	for name, v := range p.values {
		rv[name] = v.Native()
	}
	return rv
}

// Strings returns the values keyed by name, rendered as on a command line.
func (p ParameterSet) Strings() map[string]string {
	rv := make(map[string]string, len(p.values))
	for name, v := range p.values {
		rv[name] = v.String()
	}
	return rv
}

func (p ParameterSet) Equal(other ParameterSet) bool {
	return maps.Equal(p.values, other.values)
}

func (p ParameterSet) String() string {
	var sb strings.Builder
	for i, name := range p.names {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(name)
		sb.WriteString("=")
		sb.WriteString(p.values[name].String())
	}
	return sb.String()
}
