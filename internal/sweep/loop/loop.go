package loop

import (
	"math"

	"github.com/pkg/errors"

	"github.com/G-Research/paramsweep/internal/common/optimisation"
	"github.com/G-Research/paramsweep/internal/common/sweepcontext"
	"github.com/G-Research/paramsweep/internal/common/sweeperrors"
	"github.com/G-Research/paramsweep/internal/sweep/job"
	"github.com/G-Research/paramsweep/internal/sweep/metrics"
	"github.com/G-Research/paramsweep/internal/sweep/params"
	"github.com/G-Research/paramsweep/internal/sweep/tracker"
)

const (
	DefaultSentinel          = 1e9
	DefaultMaxRepairAttempts = 10000
)

// Tracker is the part of tracker.JobTracker the loop drives.
type Tracker interface {
	Submit(ctx *sweepcontext.Context, d *job.Descriptor) (*job.Descriptor, error)
	Await(ctx *sweepcontext.Context, identities []string) ([]*job.Descriptor, error)
	Release(identities []string)
	State() tracker.CompletionState
}

// Generation is one ask/evaluate/tell round.
type Generation struct {
	Index int
	// Vectors told to the optimiser, after repair.
	Candidates [][]float64
	Parameters []params.ParameterSet
	Identities []string
	// Sanitized fitness, one per candidate.
	Fitness []float64
}

// IterationState is what iteration callbacks see after a generation was evaluated.
type IterationState struct {
	Generation int
	Names      []string
	Candidates [][]float64
	Parameters []params.ParameterSet
	Fitness    []float64
	Best       job.BestResult
}

// IterationCallback runs after every generation, before the fitness is told to the optimiser.
// A non-nil return value replaces the fitness; it must have one entry per candidate.
type IterationCallback interface {
	OnIteration(ctx *sweepcontext.Context, state IterationState) []float64
}

type IterationCallbackFunc func(ctx *sweepcontext.Context, state IterationState) []float64

func (f IterationCallbackFunc) OnIteration(ctx *sweepcontext.Context, state IterationState) []float64 {
	return f(ctx, state)
}

type Options struct {
	Label string
	// Fitness told to the optimiser for jobs that produced no result or NaN.
	Sentinel float64
	// Stop after this many generations. Zero leaves it to the optimiser.
	MaxIterations int
	// Fresh vectors drawn per generation to replace out of bounds candidates before giving up.
	MaxRepairAttempts int
}

// OptimizationLoop evaluates an optimiser's candidates as batch jobs, one generation at a time.
type OptimizationLoop struct {
	optimizer optimisation.AskTeller
	codec     *Codec
	tracker   Tracker
	template  job.CommandTemplate
	options   Options
	metrics   *metrics.Metrics
	callbacks []IterationCallback
	// Index of the next generation.
	generation int
}

func NewOptimizationLoop(
	optimizer optimisation.AskTeller,
	codec *Codec,
	tracker Tracker,
	template job.CommandTemplate,
	options Options,
	metrics *metrics.Metrics,
) *OptimizationLoop {
	if options.MaxRepairAttempts <= 0 {
		options.MaxRepairAttempts = DefaultMaxRepairAttempts
	}
	if options.Sentinel == 0 {
		options.Sentinel = DefaultSentinel
	}
	return &OptimizationLoop{
		optimizer: optimizer,
		codec:     codec,
		tracker:   tracker,
		template:  template,
		options:   options,
		metrics:   metrics,
	}
}

func (l *OptimizationLoop) OnIteration(cb IterationCallback) {
	l.callbacks = append(l.callbacks, cb)
}

// Run steps through generations until the optimiser stops, MaxIterations generations ran or ctx is cancelled.
// It returns the best result seen by the tracker.
func (l *OptimizationLoop) Run(ctx *sweepcontext.Context) (job.BestResult, error) {
	for {
		if err := ctx.Err(); err != nil {
			return l.tracker.State().Best, err
		}
		if l.optimizer.Stop() {
			ctx.Log.Infof("optimiser stopped after %d generations", l.generation)
			break
		}
		if l.options.MaxIterations > 0 && l.generation >= l.options.MaxIterations {
			ctx.Log.Infof("reached %d generations", l.generation)
			break
		}
		if _, err := l.Step(ctx); err != nil {
			return l.tracker.State().Best, err
		}
	}
	return l.tracker.State().Best, nil
}

// Step runs a single generation: ask, decode and repair, submit, wait for every job, sanitize, run the iteration
// callbacks and tell.
func (l *OptimizationLoop) Step(ctx *sweepcontext.Context) (*Generation, error) {
	ctx = sweepcontext.WithGeneration(ctx, l.generation)
	g := &Generation{Index: l.generation, Candidates: l.optimizer.Ask()}

	parameters, err := l.repair(ctx, g.Candidates)
	if err != nil {
		return nil, err
	}
	g.Parameters = parameters

	g.Identities = make([]string, len(parameters))
	for i, p := range parameters {
		d, err := l.tracker.Submit(ctx, job.NewDescriptor(l.options.Label, l.template, p))
		if err != nil {
			return nil, err
		}
		g.Identities[i] = d.Identity
	}
	ctx.Log.Infof("submitted %d candidates", len(g.Identities))

	results, err := l.tracker.Await(ctx, g.Identities)
	if err != nil {
		return nil, err
	}
	byIdentity := make(map[string]*job.Descriptor, len(results))
	for _, d := range results {
		byIdentity[d.Identity] = d
	}
	raw := make([]float64, len(g.Identities))
	for i, identity := range g.Identities {
		raw[i] = math.NaN()
		if d, ok := byIdentity[identity]; ok {
			raw[i] = d.Fitness()
		}
	}
	g.Fitness = l.sanitize(ctx, raw)

	for _, cb := range l.callbacks {
		state := IterationState{
			Generation: g.Index,
			Names:      l.codec.Names(),
			Candidates: copyMatrix(g.Candidates),
			Parameters: append([]params.ParameterSet(nil), g.Parameters...),
			Fitness:    append([]float64(nil), g.Fitness...),
			Best:       l.tracker.State().Best,
		}
		override := cb.OnIteration(ctx, state)
		if override == nil {
			continue
		}
		if len(override) != len(g.Fitness) {
			ctx.Log.Warnf("iteration callback returned %d values for %d candidates; ignoring it", len(override), len(g.Fitness))
			continue
		}
		g.Fitness = l.sanitize(ctx, override)
	}

	if err := l.optimizer.Tell(g.Candidates, g.Fitness); err != nil {
		return nil, err
	}
	l.tracker.Release(g.Identities)

	_, bestFitness := l.optimizer.Best()
	ctx.Log.Infof("generation %d done, best fitness so far %g", g.Index, bestFitness)
	l.generation++
	l.metrics.SetGeneration(l.options.Label, l.generation, stepSize(l.optimizer))
	return g, nil
}

// repair decodes every candidate, replacing any that fall outside the parameter bounds with fresh vectors from the
// optimiser. Candidates are replaced in place.
func (l *OptimizationLoop) repair(ctx *sweepcontext.Context, candidates [][]float64) ([]params.ParameterSet, error) {
	parameters := make([]params.ParameterSet, len(candidates))
	attempts := 0
	for i := range candidates {
		for {
			p, err := l.codec.Decode(candidates[i])
			if err == nil && l.codec.Valid(p) {
				parameters[i] = p
				break
			}
			if attempts >= l.options.MaxRepairAttempts {
				return nil, errors.WithStack(&sweeperrors.ErrExhausted{
					Operation: "candidate repair",
					Attempts:  attempts,
					Found:     i,
					Wanted:    len(candidates),
				})
			}
			attempts++
			candidates[i] = l.optimizer.AskOne()
		}
	}
	if attempts > 0 {
		ctx.Log.Debugf("replaced out of bounds candidates %d times", attempts)
	}
	return parameters, nil
}

func (l *OptimizationLoop) sanitize(ctx *sweepcontext.Context, fitness []float64) []float64 {
	rv, replaced := Sanitize(fitness, l.options.Sentinel)
	if replaced > 0 {
		ctx.Log.Warnf("%d of %d candidates had no usable fitness; using %g instead", replaced, len(fitness), l.options.Sentinel)
	}
	return rv
}

// Sanitize returns a copy of fitness with NaN replaced by sentinel, and the number of values replaced.
func Sanitize(fitness []float64, sentinel float64) ([]float64, int) {
	rv := make([]float64, len(fitness))
	replaced := 0
	for i, f := range fitness {
		if math.IsNaN(f) {
			rv[i] = sentinel
			replaced++
		} else {
			rv[i] = f
		}
	}
	return rv, replaced
}

func copyMatrix(m [][]float64) [][]float64 {
	rv := make([][]float64, len(m))
	for i, row := range m {
		rv[i] = append([]float64(nil), row...)
	}
	return rv
}

func stepSize(optimizer optimisation.AskTeller) float64 {
	if s, ok := optimizer.(interface{ Sigma() float64 }); ok {
		return s.Sigma()
	}
	return math.NaN()
}
