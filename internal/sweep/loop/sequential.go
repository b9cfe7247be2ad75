package loop

import (
	"github.com/G-Research/paramsweep/internal/common/sweepcontext"
	"github.com/G-Research/paramsweep/internal/sweep/job"
	"github.com/G-Research/paramsweep/internal/sweep/params"
)

// Sequential evaluates random samples one job at a time, waiting for each before drawing the next.
type Sequential struct {
	sampler    *params.Sampler
	tracker    Tracker
	template   job.CommandTemplate
	label      string
	iterations int
}

func NewSequential(sampler *params.Sampler, tracker Tracker, template job.CommandTemplate, label string, iterations int) *Sequential {
	return &Sequential{sampler: sampler, tracker: tracker, template: template, label: label, iterations: iterations}
}

func (s *Sequential) Run(ctx *sweepcontext.Context) (job.BestResult, error) {
	for i := 0; i < s.iterations; i++ {
		if err := ctx.Err(); err != nil {
			return s.tracker.State().Best, err
		}
		samples, err := s.sampler.Random(ctx, 1)
		if err != nil {
			return s.tracker.State().Best, err
		}
		d, err := s.tracker.Submit(ctx, job.NewDescriptor(s.label, s.template, samples[0]))
		if err != nil {
			return s.tracker.State().Best, err
		}
		results, err := s.tracker.Await(ctx, []string{d.Identity})
		if err != nil {
			return s.tracker.State().Best, err
		}
		s.tracker.Release([]string{d.Identity})
		if len(results) == 1 {
			ctx.Log.Infof("tested %d of %d: %s -> %g", i+1, s.iterations, samples[0], results[0].Fitness())
		}
	}
	return s.tracker.State().Best, nil
}

// SubmitAll submits a job per parameter set. With wait set it also waits for all of them and returns their final
// state; otherwise the returned jobs are as submitted.
func SubmitAll(
	ctx *sweepcontext.Context,
	tracker Tracker,
	template job.CommandTemplate,
	label string,
	parameters []params.ParameterSet,
	wait bool,
) ([]*job.Descriptor, error) {
	submitted := make([]*job.Descriptor, 0, len(parameters))
	identities := make([]string, 0, len(parameters))
	for _, p := range parameters {
		d, err := tracker.Submit(ctx, job.NewDescriptor(label, template, p))
		if err != nil {
			return submitted, err
		}
		submitted = append(submitted, d)
		identities = append(identities, d.Identity)
	}
	ctx.Log.Infof("submitted %d jobs", len(submitted))
	if !wait {
		return submitted, nil
	}
	return tracker.Await(ctx, identities)
}
