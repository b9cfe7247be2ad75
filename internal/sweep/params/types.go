package params

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/G-Research/paramsweep/internal/common/sweeperrors"
)

// Type is the scalar type of a parameter.
type Type int

const (
	Float Type = iota
	Int
	Categorical
)

func (t Type) String() string {
	switch t {
	case Float:
		return "float"
	case Int:
		return "int"
	case Categorical:
		return "categorical"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

func (t *Type) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "float", "float64", "double", "":
		*t = Float
	case "int", "int64", "integer":
		*t = Int
	case "categorical", "string", "str":
		*t = Categorical
	default:
		return errors.WithStack(&sweeperrors.ErrInvalidArgument{
			Name:    "type",
			Value:   string(text),
			Message: "must be one of float, int or categorical",
		})
	}
	return nil
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Value is a single typed parameter value.
type Value struct {
	Type  Type
	Int   int64
	Float float64
	Str   string
}

func IntValue(v int64) Value {
	return Value{Type: Int, Int: v}
}

func FloatValue(v float64) Value {
	return Value{Type: Float, Float: v}
}

func CategoricalValue(v string) Value {
	return Value{Type: Categorical, Str: v}
}

// Float64 returns the numeric value. Categorical values have none and return NaN.
func (v Value) Float64() float64 {
	switch v.Type {
	case Int:
		return float64(v.Int)
	case Float:
		return v.Float
	default:
		return math.NaN()
	}
}

// Native returns the value as int64, float64 or string.
func (v Value) Native() interface{} {
	switch v.Type {
	case Int:
		return v.Int
	case Float:
		return v.Float
	default:
		return v.Str
	}
}

// String renders the value the way it is passed on a command line. The rendering is stable, since job
// identities are derived from it.
func (v Value) String() string {
	switch v.Type {
	case Int:
		return strconv.FormatInt(v.Int, 10)
	case Float:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	default:
		return v.Str
	}
}

// Cast converts a raw value, as decoded from config or produced by a sampler, to a Value of type t.
// Floats cast to Int are truncated towards zero.
func Cast(t Type, raw interface{}) (Value, error) {
	switch t {
	case Int:
		switch x := raw.(type) {
		case int:
			return IntValue(int64(x)), nil
		case int32:
			return IntValue(int64(x)), nil
		case int64:
			return IntValue(x), nil
		case uint64:
			return IntValue(int64(x)), nil
		case float32:
			return IntValue(int64(x)), nil
		case float64:
			if math.IsNaN(x) || math.IsInf(x, 0) {
				break
			}
			return IntValue(int64(x)), nil
		case string:
			if i, err := strconv.ParseInt(x, 10, 64); err == nil {
				return IntValue(i), nil
			}
			if f, err := strconv.ParseFloat(x, 64); err == nil {
				return IntValue(int64(f)), nil
			}
		case Value:
			return Cast(t, x.Native())
		}
	case Float:
		switch x := raw.(type) {
		case int:
			return FloatValue(float64(x)), nil
		case int32:
			return FloatValue(float64(x)), nil
		case int64:
			return FloatValue(float64(x)), nil
		case uint64:
			return FloatValue(float64(x)), nil
		case float32:
			return FloatValue(float64(x)), nil
		case float64:
			return FloatValue(x), nil
		case string:
			if f, err := strconv.ParseFloat(x, 64); err == nil {
				return FloatValue(f), nil
			}
		case Value:
			return Cast(t, x.Native())
		}
	case Categorical:
		if x, ok := raw.(Value); ok {
			return CategoricalValue(x.String()), nil
		}
		return CategoricalValue(fmt.Sprint(raw)), nil
	}
	return Value{}, errors.WithStack(&sweeperrors.ErrInvalidArgument{
		Name:    t.String(),
		Value:   raw,
		Message: fmt.Sprintf("cannot be converted to %s", t),
	})
}
