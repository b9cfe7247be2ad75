package params

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"github.com/G-Research/paramsweep/internal/common/sweeperrors"
)

// Predicate decides whether a candidate parameter set is worth running. Context carries user supplied constants.
type Predicate interface {
	Accept(candidate ParameterSet, context map[string]interface{}) (bool, error)
}

// PredicateFunc adapts an ordinary function to a Predicate.
type PredicateFunc func(candidate ParameterSet, context map[string]interface{}) (bool, error)

func (f PredicateFunc) Accept(candidate ParameterSet, context map[string]interface{}) (bool, error) {
	return f(candidate, context)
}

// AcceptAll accepts every candidate.
var AcceptAll = PredicateFunc(func(ParameterSet, map[string]interface{}) (bool, error) {
	return true, nil
})

// Expression is a Predicate written in the Common Expression Language, e.g. "M_conj + M_feat == 100".
// Parameters are bound by name with their declared type; context constants are bound as dynamic values.
type Expression struct {
	source  string
	program cel.Program
}

func NewExpression(source string, space *Space, context map[string]interface{}) (*Expression, error) {
	var opts []cel.EnvOption
	for _, spec := range space.Specs() {
		opts = append(opts, cel.Variable(spec.Name, celType(spec.Type)))
	}
	for name := range context {
		if _, clash := space.Spec(name); clash {
			return nil, errors.WithStack(&sweeperrors.ErrInvalidArgument{
				Name:    "predicateContext",
				Value:   name,
				Message: "context constant shadows a parameter",
			})
		}
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, errors.WithStack(&sweeperrors.ErrInvalidArgument{
			Name:    "predicate",
			Value:   source,
			Message: issues.Err().Error(),
		})
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Expression{source: source, program: program}, nil
}

func celType(t Type) *cel.Type {
	switch t {
	case Int:
		return cel.IntType
	case Categorical:
		return cel.StringType
	default:
		return cel.DoubleType
	}
}

func (e *Expression) Accept(candidate ParameterSet, context map[string]interface{}) (bool, error) {
	vars := candidate.Natives()
	for k, v := range context {
		vars[k] = v
	}
	out, _, err := e.program.Eval(vars)
	if err != nil {
		return false, errors.Wrapf(err, "evaluating %q for %s", e.source, candidate)
	}
	accepted, ok := out.Value().(bool)
	if !ok {
		return false, errors.WithStack(&sweeperrors.ErrInvalidArgument{
			Name:    "predicate",
			Value:   e.source,
			Message: fmt.Sprintf("evaluates to %v, not a bool", out.Value()),
		})
	}
	return accepted, nil
}

func (e *Expression) String() string {
	return e.source
}
